package config

import (
	"os"
	"path/filepath"
	"testing"

	"media-annotator/internal/domain"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// TestApplyEnvOverrides verifies prefixed variables replace settings.
func TestApplyEnvOverrides(t *testing.T) {
	got := ApplyEnv(DefaultSettings(), mapLookup(map[string]string{
		"ANNOTATOR_EXPORT_DIR":    "/exports",
		"ANNOTATOR_AUTO_SAVE":     "true",
		"ANNOTATOR_RECORDING_FPS": "30",
		"ANNOTATOR_WORKERS":       "many",
		"EXPORT_DIR":              "/ignored",
	}))

	if got.ExportDir != "/exports" {
		t.Fatalf("export dir = %q, want /exports", got.ExportDir)
	}
	if !got.AutoSave {
		t.Fatal("expected auto save enabled")
	}
	if got.RecordingFPS != 30 {
		t.Fatalf("recording fps = %d, want 30", got.RecordingFPS)
	}
	if got.Workers != DefaultSettings().Workers {
		t.Fatalf("workers = %d, want default kept for bad value", got.Workers)
	}
}

// TestApplyEnvFile verifies dotenv files are applied without process env.
func TestApplyEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "ANNOTATOR_MODEL_PATH=/models/best.pt\nANNOTATOR_STOP_KEY=space\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ApplyEnvFile(domain.Settings{}, path)
	if err != nil {
		t.Fatalf("ApplyEnvFile() error = %v", err)
	}
	if got.ModelPath != "/models/best.pt" || got.StopKey != "space" {
		t.Fatalf("settings = %+v", got)
	}
	if _, ok := os.LookupEnv("ANNOTATOR_MODEL_PATH"); ok {
		t.Fatal("process environment must not be modified")
	}
}

// TestApplyEnvFileMissing reports the read error.
func TestApplyEnvFileMissing(t *testing.T) {
	if _, err := ApplyEnvFile(domain.Settings{}, filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
