// Package detect loads object-detection models and exposes them as
// domain.Detector implementations.
package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"media-annotator/internal/domain"
	"media-annotator/internal/media"
)

// Options configures model loading.
type Options struct {
	ModelPath string
	NamesPath string
	YoloPath  string
	Runner    media.Runner
}

func (o Options) runner() media.Runner {
	if o.Runner == nil {
		return media.ExecRunner{}
	}
	return o.Runner
}

// Load resolves the model file and creates the matching backend: .pt
// weights run through the yolo CLI, .onnx graphs through OpenCV DNN.
func Load(opts Options) (domain.Detector, error) {
	modelPath, err := ResolveModelPath(opts.ModelPath)
	if err != nil {
		return nil, domain.NewError(domain.KindModelUnavailable, opts.ModelPath, "cannot load model", err)
	}

	names, err := modelNames(context.Background(), opts, modelPath)
	if err != nil {
		return nil, domain.NewError(domain.KindModelUnavailable, modelPath, "cannot read class names", err)
	}

	switch strings.ToLower(filepath.Ext(modelPath)) {
	case ".pt":
		return NewYOLO(opts.YoloPath, modelPath, names, opts.runner()), nil
	case ".onnx":
		det, err := newDNN(modelPath, names)
		if err != nil {
			return nil, domain.NewError(domain.KindModelUnavailable, modelPath, "cannot load model", err)
		}
		return det, nil
	default:
		return nil, domain.NewError(domain.KindModelUnavailable, modelPath, "unsupported model format", nil)
	}
}

// ResolveModelPath returns a model file path from file or directory input.
// Directories resolve to their first .pt or .onnx file by name.
func ResolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsModelFile(entry.Name()) {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .pt or .onnx model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// IsModelFile reports whether name has a loadable model extension.
func IsModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".pt" || ext == ".onnx"
}
