package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"media-annotator/internal/domain"
	"media-annotator/internal/labels"
	"media-annotator/internal/media"
)

const videoResultsDir = "yolo_video_results"

// YOLO runs predictions through the ultralytics command line tool.
type YOLO struct {
	bin    string
	model  string
	names  map[int]string
	runner media.Runner
	tmpDir func(dir, pattern string) (string, error)
}

// NewYOLO creates a CLI-backed detector.
func NewYOLO(bin, model string, names map[int]string, runner media.Runner) *YOLO {
	if bin == "" {
		bin = "yolo"
	}
	return &YOLO{
		bin:    bin,
		model:  model,
		names:  names,
		runner: runner,
		tmpDir: os.MkdirTemp,
	}
}

// DetectImage predicts one image and reads back the label file written by
// the tool. A missing label file means nothing was detected.
func (y *YOLO) DetectImage(ctx context.Context, path string) ([]domain.Detection, error) {
	project, err := y.tmpDir("", "annotator-predict-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(project)

	name := labels.Stem(path) + "_labels"
	args := append(predictArgs(y.model, path, project, name), "save=False", "save_txt=True", "save_conf=True")
	log, err := y.runner.Run(ctx, y.bin, args...)
	if err != nil {
		return nil, &media.CommandError{Message: "yolo prediction failed", Log: log, Err: err}
	}

	dets, err := labels.Read(labels.Path(project, path))
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Detection{}, nil
	}
	return dets, err
}

// DetectVideo writes an annotated copy of inputPath under outputDir and
// returns its path.
func (y *YOLO) DetectVideo(ctx context.Context, inputPath, outputDir string) (string, error) {
	args := append(predictArgs(y.model, inputPath, outputDir, videoResultsDir), "save=True")
	log, err := y.runner.Run(ctx, y.bin, args...)
	if err != nil {
		return "", &media.CommandError{Message: "yolo video prediction failed", Log: log, Err: err}
	}

	result, ok := findResultVideo(filepath.Join(outputDir, videoResultsDir), inputPath)
	if !ok {
		return "", domain.NewError(domain.KindResultMissing, inputPath, "annotated video was not produced", nil)
	}
	return result, nil
}

// ClassNames returns the id to name mapping of the model.
func (y *YOLO) ClassNames() map[int]string {
	return y.names
}

// Close is a no-op; every prediction is its own process.
func (y *YOLO) Close() error {
	return nil
}

func predictArgs(model, source, project, name string) []string {
	return []string{
		"predict",
		"model=" + model,
		"source=" + source,
		"project=" + project,
		"name=" + name,
		"exist_ok=True",
		"verbose=False",
		"iou=0.7",
	}
}

// findResultVideo prefers an output sharing the input stem, then the most
// recently written .mp4 or .avi.
func findResultVideo(dir, inputPath string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	stem := labels.Stem(inputPath)
	type candidate struct {
		path string
		mod  int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".mp4" && ext != ".avi" {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if labels.Stem(entry.Name()) == stem {
			return full, true
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: full, mod: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod > candidates[j].mod })
	return candidates[0].path, true
}
