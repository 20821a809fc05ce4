package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"media-annotator/internal/detect"
	"media-annotator/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg", settings.FFmpegPath, "Install ffmpeg to decode and encode video."),
		c.checkTool("ffprobe", settings.FFprobePath, "ffprobe ships with ffmpeg and reads video metadata."),
		c.checkTool("yolo", settings.YoloPath, "Install the ultralytics package to run .pt models."),
		c.checkModelPath(settings.ModelPath),
		c.checkExportDir(settings.ExportDir, settings.AutoSave),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a CLI executable resolves from its configured path.
func (c *Checker) checkTool(id, configured, hint string) domain.DiagnosticItem {
	name := strings.TrimSpace(configured)
	if name == "" {
		name = id
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + id,
			Name:    id,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", name),
			Hint:    hint,
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + id,
		Name:    id,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a .pt or .onnx model file, or a directory containing one."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Load a detection model from the toolbar or fix the path in settings."
		return item
	}

	if !info.IsDir() {
		if !detect.IsModelFile(modelPath) {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Unsupported model format: %s", filepath.Base(modelPath))
			item.Hint = "Use a .pt or .onnx model."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if detect.IsModelFile(entry.Name()) {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .pt or .onnx model file in this directory or point to a model file directly."
	return item
}

// checkExportDir validates export directory write access. An unset
// directory only fails when auto-save needs it.
func (c *Checker) checkExportDir(exportDir string, autoSave bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "export_dir",
		Name: "Export directory",
	}

	if strings.TrimSpace(exportDir) == "" {
		if autoSave {
			item.Status = domain.DiagnosticStatusFail
			item.Message = "Auto-save is on but no export directory is set."
			item.Hint = "Choose an export directory or turn auto-save off."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = "No export directory set; results are saved on request."
		return item
	}

	if err := c.mkdirAll(exportDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create export directory: %s", exportDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(exportDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Export directory is not writable: %s", exportDir)
		item.Hint = "Choose a writable directory for annotated output."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", exportDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
