package config

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"media-annotator/internal/domain"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "ANNOTATOR_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with ANNOTATOR_* variables found through lookup.
// Unparseable numeric or boolean values are logged and ignored.
func ApplyEnv(cfg domain.Settings, lookup LookupFunc) domain.Settings {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			slog.Warn("ignoring env override", "key", EnvPrefix+key, "value", v)
			return
		}
		*dst = n
	}

	str("MODEL_PATH", &cfg.ModelPath)
	str("NAMES_PATH", &cfg.NamesPath)
	str("EXPORT_DIR", &cfg.ExportDir)
	str("WORKSPACE_DIR", &cfg.WorkspaceDir)
	str("YOLO_PATH", &cfg.YoloPath)
	str("FFMPEG_PATH", &cfg.FFmpegPath)
	str("FFPROBE_PATH", &cfg.FFprobePath)
	str("ARCHIVE_DSN", &cfg.ArchiveDSN)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("STOP_KEY", &cfg.StopKey)
	num("RECORDING_FPS", &cfg.RecordingFPS)
	num("WORKERS", &cfg.Workers)
	num("QUEUE_SIZE", &cfg.QueueSize)

	if v, ok := lookup(EnvPrefix + "AUTO_SAVE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			slog.Warn("ignoring env override", "key", EnvPrefix+"AUTO_SAVE", "value", v)
		} else {
			cfg.AutoSave = b
		}
	}
	return cfg
}

// ApplyEnvFile overrides cfg from a dotenv file without touching the process
// environment.
func ApplyEnvFile(cfg domain.Settings, path string) (domain.Settings, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return cfg, err
	}
	return ApplyEnv(cfg, func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}), nil
}
