package config

import (
	"os"
	"path/filepath"
	"strings"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
)

// DefaultRecordingFPS matches the recorder default.
const DefaultRecordingFPS = 20

// DefaultQueueSize bounds pending jobs before Submit reports a full queue.
const DefaultQueueSize = 256

// HomeDir returns the per-user application directory.
func HomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".media-annotator")
}

// DefaultPath returns the settings file location.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "settings.yaml")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		ModelPath:    filepath.Join(HomeDir(), "models"),
		RecordingFPS: DefaultRecordingFPS,
		Workers:      jobs.DefaultWorkers(),
		QueueSize:    DefaultQueueSize,
		YoloPath:     "yolo",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		LogLevel:     "info",
		StopKey:      "esc",
	}
}

// Normalize trims user input and fills unset fields from defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	def := DefaultSettings()

	cfg.ModelPath = strings.TrimSpace(cfg.ModelPath)
	cfg.NamesPath = strings.TrimSpace(cfg.NamesPath)
	cfg.ExportDir = strings.TrimSpace(cfg.ExportDir)
	cfg.WorkspaceDir = strings.TrimSpace(cfg.WorkspaceDir)
	cfg.ArchiveDSN = strings.TrimSpace(cfg.ArchiveDSN)

	cfg.YoloPath = orDefault(cfg.YoloPath, def.YoloPath)
	cfg.FFmpegPath = orDefault(cfg.FFmpegPath, def.FFmpegPath)
	cfg.FFprobePath = orDefault(cfg.FFprobePath, def.FFprobePath)
	cfg.LogLevel = strings.ToLower(orDefault(cfg.LogLevel, def.LogLevel))
	cfg.StopKey = strings.ToLower(orDefault(cfg.StopKey, def.StopKey))

	if cfg.RecordingFPS <= 0 {
		cfg.RecordingFPS = def.RecordingFPS
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return cfg
}

func orDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
