package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-annotator/internal/detect"
	"media-annotator/internal/domain"
)

const ultralyticsAssets = "https://github.com/ultralytics/assets/releases/download/"

var detectionModelCatalog = []domain.ModelOption{
	{
		ID:          "yolov8n",
		Name:        "YOLOv8 Nano",
		FileName:    "yolov8n.pt",
		URL:         ultralyticsAssets + "v8.2.0/yolov8n.pt",
		SizeLabel:   "~6 MB",
		Description: "Fastest, runs comfortably on CPU.",
	},
	{
		ID:          "yolov8s",
		Name:        "YOLOv8 Small",
		FileName:    "yolov8s.pt",
		URL:         ultralyticsAssets + "v8.2.0/yolov8s.pt",
		SizeLabel:   "~22 MB",
		Description: "Good balance of speed and accuracy.",
	},
	{
		ID:          "yolov8m",
		Name:        "YOLOv8 Medium",
		FileName:    "yolov8m.pt",
		URL:         ultralyticsAssets + "v8.2.0/yolov8m.pt",
		SizeLabel:   "~52 MB",
		Description: "More accurate, benefits from a GPU.",
	},
	{
		ID:          "yolov8l",
		Name:        "YOLOv8 Large",
		FileName:    "yolov8l.pt",
		URL:         ultralyticsAssets + "v8.2.0/yolov8l.pt",
		SizeLabel:   "~87 MB",
		Description: "High accuracy, slow on CPU.",
	},
	{
		ID:          "yolo11n",
		Name:        "YOLO11 Nano",
		FileName:    "yolo11n.pt",
		URL:         ultralyticsAssets + "v8.3.0/yolo11n.pt",
		SizeLabel:   "~5 MB",
		Description: "Newer nano model.",
	},
	{
		ID:          "yolo11s",
		Name:        "YOLO11 Small",
		FileName:    "yolo11s.pt",
		URL:         ultralyticsAssets + "v8.3.0/yolo11s.pt",
		SizeLabel:   "~19 MB",
		Description: "Newer small model.",
	},
}

// GetDetectionModels returns built-in model presets for one-click downloads.
func (a *App) GetDetectionModels() []domain.ModelOption {
	models := make([]domain.ModelOption, len(detectionModelCatalog))
	copy(models, detectionModelCatalog)

	markDownloadedModels(models, resolveKnownModelDirs(a.settings()))
	return models
}

// DownloadDetectionModel downloads the selected preset and loads it as the
// session model.
func (a *App) DownloadDetectionModel(modelID string) (domain.Settings, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("model id is required")
	}

	model, found := getDetectionModelByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("unknown model id: %s", id)
	}

	downloadDir, err := resolveModelDownloadDirectory(a.settings().ModelPath)
	if err != nil {
		return domain.Settings{}, err
	}

	targetPath := filepath.Join(downloadDir, model.FileName)
	if err := downloadWeights(targetPath, model.URL, modelDownloadTimeout); err != nil {
		return domain.Settings{}, fmt.Errorf("download model %s: %w", model.Name, err)
	}

	if _, err := a.LoadModel(targetPath); err != nil {
		return domain.Settings{}, fmt.Errorf("load model %s: %w", model.Name, err)
	}
	settings := a.settings()
	a.refreshDiagnosticsFromSettings(settings)
	return settings, nil
}

func getDetectionModelByID(id string) (domain.ModelOption, bool) {
	for _, model := range detectionModelCatalog {
		if model.ID == id {
			return model, true
		}
	}
	return domain.ModelOption{}, false
}

func resolveModelDownloadDirectory(modelPath string) (string, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve user home: %w", err)
		}
		return localModelsDir(homeDir), nil
	}

	info, err := os.Stat(trimmed)
	if err == nil {
		if info.IsDir() {
			return trimmed, nil
		}
		if detect.IsModelFile(trimmed) {
			return filepath.Dir(trimmed), nil
		}
		return "", fmt.Errorf("model path points to non-model file: %s", trimmed)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("check model path: %w", err)
	}
	if detect.IsModelFile(trimmed) {
		return filepath.Dir(trimmed), nil
	}
	return trimmed, nil
}

func resolveKnownModelDirs(settings domain.Settings) []string {
	seen := map[string]struct{}{}
	add := func(path string) {
		p := strings.TrimSpace(path)
		if p == "" {
			return
		}
		clean := filepath.Clean(p)
		if clean == "." {
			return
		}
		seen[clean] = struct{}{}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		add(localModelsDir(homeDir))
	}

	if dir, err := resolveModelDownloadDirectory(settings.ModelPath); err == nil {
		add(dir)
	}

	result := make([]string, 0, len(seen))
	for dir := range seen {
		result = append(result, dir)
	}
	return result
}

func markDownloadedModels(models []domain.ModelOption, modelDirs []string) {
	for i := range models {
		for _, dir := range modelDirs {
			candidate := filepath.Join(dir, models[i].FileName)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			models[i].Downloaded = true
			models[i].LocalPath = candidate
			break
		}
	}
}
