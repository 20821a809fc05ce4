// Package cli holds the cobra commands of the media-annotator binary.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"media-annotator/internal/config"
	"media-annotator/internal/domain"
	"media-annotator/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree. Without a subcommand the desktop app
// starts.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "media-annotator",
		Short: "Object detection annotator for images, videos and screen captures",
		Long: `Media Annotator runs an object detection model over images, videos,
screenshots and screen recordings, draws the detected boxes and exports
annotated copies.

Run without a subcommand to open the desktop window.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := opts.logLevel
			if level == "" {
				level = os.Getenv(config.EnvPrefix + "LOG_LEVEL")
			}
			logging.Install(os.Stderr, level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Settings file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(newAppCmd(opts))
	cmd.AddCommand(newDetectCmd(opts))
	cmd.AddCommand(newRecordCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))

	return cmd
}

// settings loads the settings file with environment overrides applied.
func (o *rootOptions) settings() (domain.Settings, error) {
	settings, err := config.NewYAMLStore(o.configPath).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return config.Normalize(config.ApplyEnv(settings, os.LookupEnv)), nil
}
