package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"media-annotator/internal/config"
	"media-annotator/internal/detect"
	"media-annotator/internal/domain"
	"media-annotator/internal/media"
)

const (
	defaultModelID = "yolov8n"

	installCommandTimeout = 45 * time.Minute
	smokeCommandTimeout   = 2 * time.Minute
	modelDownloadTimeout  = 30 * time.Minute
)

// InstallOrFixDiagnostic repairs one failed startup check: it installs
// ffmpeg or the ultralytics yolo command, fetches default weights, or
// creates the export folder, then re-runs the checks.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, errors.New("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, errors.New("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	ctx := context.Background()
	changed := false
	var fixErr error

	switch id {
	case "tool_ffmpeg", "tool_ffprobe":
		fixErr = a.tools().install(ctx, ffmpegRecipe(a.tools().goos))
	case "tool_yolo":
		fixErr = a.tools().install(ctx, ultralyticsRecipe(a.tools().goos))
	case "model_path":
		settings, changed, fixErr = installOrFixModelPath(settings)
	case "export_dir":
		settings, changed, fixErr = installOrFixExportDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if changed {
		if err := a.Store.Save(settings); err != nil {
			return a.refreshDiagnosticsFromSettings(settings), fmt.Errorf("save settings after fix: %w", err)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}

	if id == "model_path" && detect.IsModelFile(settings.ModelPath) {
		if _, err := a.LoadModel(settings.ModelPath); err != nil {
			slog.Warn("downloaded model could not be loaded", "path", settings.ModelPath, "err", err)
		}
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func (a *App) tools() *toolInstaller {
	return a.installer
}

// recipe describes how to get one external tool working. Attempts are
// tried in order; the first whose package manager is on PATH and succeeds
// wins. The tool counts as installed once every smoke command runs.
type recipe struct {
	name     string
	attempts []attempt
	smoke    [][]string
	// linkScript names a console script pip may have put outside PATH.
	linkScript string
}

type attempt struct {
	manager string
	steps   [][]string
	system  bool
}

func ffmpegRecipe(goos string) recipe {
	r := recipe{
		name:  "ffmpeg",
		smoke: [][]string{{"ffmpeg", "-hide_banner", "-version"}, {"ffprobe", "-hide_banner", "-version"}},
	}
	switch goos {
	case "windows":
		r.attempts = []attempt{
			{manager: "winget", steps: [][]string{{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"}}},
			{manager: "choco", steps: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", steps: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		r.attempts = []attempt{{manager: "brew", steps: [][]string{{"brew", "install", "ffmpeg"}}}}
	default:
		r.attempts = []attempt{
			{manager: "apt-get", system: true, steps: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "ffmpeg"}}},
			{manager: "dnf", system: true, steps: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", system: true, steps: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", system: true, steps: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", steps: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
	return r
}

// ultralyticsRecipe installs the package that ships the yolo command used
// for .pt inference.
func ultralyticsRecipe(goos string) recipe {
	pipArgs := []string{"install", "--user", "--upgrade", "ultralytics"}
	python := "python3"
	if goos == "windows" {
		python = "python"
	}
	return recipe{
		name:  "ultralytics",
		smoke: [][]string{{"yolo", "version"}},
		attempts: []attempt{
			{manager: "pipx", steps: [][]string{{"pipx", "install", "ultralytics"}}},
			{manager: "pip3", steps: [][]string{append([]string{"pip3"}, pipArgs...)}},
			{manager: "pip", steps: [][]string{append([]string{"pip"}, pipArgs...)}},
			{manager: python, steps: [][]string{append([]string{python, "-m", "pip"}, pipArgs...)}},
		},
		linkScript: "yolo",
	}
}

// toolInstaller runs package managers through the same command runner the
// media pipeline uses.
type toolInstaller struct {
	runner   media.Runner
	lookPath func(string) (string, error)
	goos     string
	home     func() (string, error)
}

func newToolInstaller() *toolInstaller {
	return &toolInstaller{
		runner:   media.ExecRunner{},
		lookPath: exec.LookPath,
		goos:     goruntime.GOOS,
		home:     os.UserHomeDir,
	}
}

func (t *toolInstaller) install(ctx context.Context, r recipe) error {
	if t.working(ctx, r) == nil {
		return nil
	}

	installErr := t.firstSuccessful(ctx, r.attempts)
	if r.linkScript != "" && !t.onPath(r.linkScript) {
		if err := t.linkUserScript(ctx, r.linkScript); err != nil {
			installErr = errors.Join(installErr, err)
		}
	}

	if err := t.working(ctx, r); err != nil {
		if installErr != nil {
			return fmt.Errorf("install %s: %w", r.name, errors.Join(installErr, err))
		}
		return fmt.Errorf("install %s: %w", r.name, err)
	}
	return nil
}

// working runs every smoke command and reports the ones that fail.
func (t *toolInstaller) working(ctx context.Context, r recipe) error {
	var errs []error
	for _, argv := range r.smoke {
		if !t.onPath(argv[0]) {
			errs = append(errs, fmt.Errorf("%s is not on PATH", argv[0]))
			continue
		}
		if err := t.run(ctx, smokeCommandTimeout, argv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *toolInstaller) firstSuccessful(ctx context.Context, attempts []attempt) error {
	var errs []error
	for _, at := range attempts {
		if !t.onPath(at.manager) {
			continue
		}
		err := t.runSteps(ctx, at)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", at.manager, err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("no supported package manager found for %s", t.goos)
	}
	return errors.Join(errs...)
}

// runSteps runs each step; system package managers on Linux retry through
// pkexec and then non-interactive sudo.
func (t *toolInstaller) runSteps(ctx context.Context, at attempt) error {
	for _, step := range at.steps {
		candidates := [][]string{step}
		if at.system && t.goos == "linux" {
			if t.onPath("pkexec") {
				candidates = append(candidates, append([]string{"pkexec"}, step...))
			}
			if t.onPath("sudo") {
				candidates = append(candidates, append([]string{"sudo", "-n"}, step...))
			}
		}

		var errs []error
		for _, argv := range candidates {
			err := t.run(ctx, installCommandTimeout, argv)
			if err == nil {
				errs = nil
				break
			}
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	return nil
}

func (t *toolInstaller) run(ctx context.Context, timeout time.Duration, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log, err := t.runner.Run(ctx, argv[0], argv[1:]...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", strings.Join(argv, " "), timeout)
	}
	return &media.CommandError{Message: strings.Join(argv, " ") + " failed: " + tail(log.Stderr+log.Stdout, 300), Log: log, Err: err}
}

func (t *toolInstaller) onPath(name string) bool {
	_, err := t.lookPath(name)
	return err == nil
}

// linkUserScript finds a console script in the Python user scripts
// directory and puts a shim for it into ~/.media-annotator/bin.
func (t *toolInstaller) linkUserScript(ctx context.Context, name string) error {
	candidates := t.userScriptCandidates(ctx, name)
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			home, err := t.home()
			if err != nil {
				return fmt.Errorf("resolve user home: %w", err)
			}
			if err := ensureLocalBinOnPATH(home); err != nil {
				return err
			}
			return writeToolShim(localBinDir(home), name, candidate, t.goos)
		}
	}
	return fmt.Errorf("no %s script found (tried: %s)", name, strings.Join(candidates, ", "))
}

func (t *toolInstaller) userScriptCandidates(ctx context.Context, name string) []string {
	scripts, file := "bin", name
	if t.goos == "windows" {
		scripts, file = "Scripts", name+".exe"
	}

	var dirs []string
	for _, python := range []string{"python3", "python"} {
		if !t.onPath(python) {
			continue
		}
		log, err := t.runner.Run(ctx, python, "-m", "site", "--user-base")
		if base := strings.TrimSpace(log.Stdout); err == nil && base != "" {
			dirs = append(dirs, filepath.Join(base, scripts))
			break
		}
	}
	if home, err := t.home(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}

	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, filepath.Join(dir, file))
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".media-annotator", "bin")
}

func localModelsDir(homeDir string) string {
	return filepath.Join(homeDir, ".media-annotator", "models")
}

// writeToolShim writes a launcher named name in binDir that forwards to
// target.
func writeToolShim(binDir, name, target, goos string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("shim target is empty")
	}
	if goos == "windows" {
		content := fmt.Sprintf("@echo off\r\n\"%s\" %%*\r\n", target)
		return os.WriteFile(filepath.Join(binDir, name+".cmd"), []byte(content), 0o644)
	}
	escaped := strings.ReplaceAll(target, `"`, `\"`)
	content := fmt.Sprintf("#!/usr/bin/env sh\nexec \"%s\" \"$@\"\n", escaped)
	return os.WriteFile(filepath.Join(binDir, name), []byte(content), 0o755)
}

// downloadWeights fetches model weights into dest. The body is checked
// before it replaces dest, so an HTML error page is never saved as a model.
func downloadWeights(dest, sourceURL string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare model directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "media-annotator")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request weights: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.download")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write weights: %w", err)
	}
	if err := checkWeights(tmpPath, filepath.Ext(dest)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move weights into place: %w", err)
	}
	return nil
}

var zipMagic = []byte("PK\x03\x04")

// checkWeights rejects files that cannot be model weights: PyTorch
// checkpoints are zip archives, and no model starts like a markup page.
func checkWeights(path, ext string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 64)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if n == 0 {
		return errors.New("downloaded weights are empty")
	}
	if bytes.HasPrefix(bytes.TrimSpace(head), []byte("<")) {
		return errors.New("download returned a web page instead of model weights")
	}
	if strings.EqualFold(ext, ".pt") && !bytes.HasPrefix(head, zipMagic) {
		return errors.New("downloaded file is not a PyTorch checkpoint")
	}
	return nil
}

func defaultModel() domain.ModelOption {
	model, _ := getDetectionModelByID(defaultModelID)
	return model
}

type modelDownloadPlan struct {
	targetFile   string
	settingsPath string
}

func installOrFixModelPath(settings domain.Settings) (domain.Settings, bool, error) {
	plan, err := resolveModelDownloadPlan(settings.ModelPath)
	if err != nil {
		return settings, false, err
	}

	if _, err := os.Stat(plan.targetFile); err != nil {
		if err := downloadWeights(plan.targetFile, defaultModel().URL, modelDownloadTimeout); err != nil {
			return settings, false, fmt.Errorf("download %s: %w", defaultModel().Name, err)
		}
	}

	changed := strings.TrimSpace(settings.ModelPath) != plan.settingsPath
	settings.ModelPath = plan.settingsPath
	return settings, changed, nil
}

// resolveModelDownloadPlan decides where the default weights go. A model
// path naming a file is kept; a directory receives the default file and the
// setting is pointed at it.
func resolveModelDownloadPlan(modelPath string) (modelDownloadPlan, error) {
	fileName := defaultModel().FileName
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return modelDownloadPlan{}, fmt.Errorf("resolve user home: %w", err)
		}
		target := filepath.Join(localModelsDir(homeDir), fileName)
		return modelDownloadPlan{targetFile: target, settingsPath: target}, nil
	}

	info, err := os.Stat(trimmed)
	switch {
	case err == nil && info.IsDir():
		target := filepath.Join(trimmed, fileName)
		return modelDownloadPlan{targetFile: target, settingsPath: target}, nil
	case err == nil && !detect.IsModelFile(trimmed):
		return modelDownloadPlan{}, fmt.Errorf("model path points to a non-model file: %s", trimmed)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return modelDownloadPlan{}, fmt.Errorf("check model path: %w", err)
	case detect.IsModelFile(trimmed):
		return modelDownloadPlan{targetFile: trimmed, settingsPath: trimmed}, nil
	default:
		target := filepath.Join(trimmed, fileName)
		return modelDownloadPlan{targetFile: target, settingsPath: target}, nil
	}
}

func installOrFixExportDir(settings domain.Settings) (domain.Settings, bool, error) {
	exportDir := strings.TrimSpace(settings.ExportDir)
	changed := false
	if exportDir == "" {
		exportDir = defaultExportDir()
		settings.ExportDir = exportDir
		changed = true
	}

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create export directory %s: %w", exportDir, err)
	}
	return settings, changed, nil
}

func defaultExportDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(config.HomeDir(), "annotated")
	}
	return filepath.Join(homeDir, "Pictures", "Annotated")
}
