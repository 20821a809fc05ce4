package config

import (
	"os"
	"path/filepath"
	"testing"

	"media-annotator/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.RecordingFPS != 20 {
		t.Fatalf("recording fps = %d, want 20", cfg.RecordingFPS)
	}
	if cfg.ModelPath == "" {
		t.Fatal("expected non-empty model path")
	}
	if cfg.ExportDir != "" {
		t.Fatalf("export dir = %q, want empty", cfg.ExportDir)
	}
	if cfg.Workers < 1 || cfg.Workers > 4 {
		t.Fatalf("workers = %d, want 1..4", cfg.Workers)
	}
	if cfg.StopKey != "esc" {
		t.Fatalf("stop key = %q, want esc", cfg.StopKey)
	}
}

// TestYAMLStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestYAMLStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.yaml")
	store := NewYAMLStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("settings = %+v, want defaults", got)
	}
}

// TestYAMLStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestYAMLStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.yaml")
	store := NewYAMLStore(path)
	want := domain.Settings{
		ModelPath:    "/models/yolov8n.pt",
		ExportDir:    "/out",
		AutoSave:     true,
		RecordingFPS: 15,
		Workers:      2,
		QueueSize:    10,
		YoloPath:     "/venv/bin/yolo",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		LogLevel:     "debug",
		StopKey:      "space",
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestYAMLStoreLoadPartialKeepsDefaults checks that absent keys fall back.
func TestYAMLStoreLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("exportDir: /exports\nautoSave: true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewYAMLStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ExportDir != "/exports" || !got.AutoSave {
		t.Fatalf("settings = %+v, want exportDir and autoSave from file", got)
	}
	if got.RecordingFPS != 20 || got.YoloPath != "yolo" {
		t.Fatalf("settings = %+v, want defaults for absent keys", got)
	}
}

// TestYAMLStoreLoadInvalidYAML checks parse error handling.
func TestYAMLStoreLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("recordingFps: [not-a-number"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewYAMLStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected yaml parse error")
	}
}

// TestNormalizeFillsDefaults verifies trimming and fallback values.
func TestNormalizeFillsDefaults(t *testing.T) {
	got := Normalize(domain.Settings{
		ExportDir: "  /out  ",
		LogLevel:  "DEBUG",
		StopKey:   " ",
		Workers:   -1,
	})
	if got.ExportDir != "/out" {
		t.Fatalf("export dir = %q", got.ExportDir)
	}
	if got.LogLevel != "debug" {
		t.Fatalf("log level = %q", got.LogLevel)
	}
	if got.StopKey != "esc" {
		t.Fatalf("stop key = %q", got.StopKey)
	}
	if got.Workers < 1 || got.RecordingFPS != 20 || got.QueueSize != DefaultQueueSize {
		t.Fatalf("numeric defaults not applied: %+v", got)
	}
}
