package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"media-annotator/internal/bootstrap"
)

func newAppCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "app",
		Short: "Open the desktop window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts)
		},
	}
}

func runApp(opts *rootOptions) error {
	app, err := bootstrap.Open(opts.configPath, nil)
	if err != nil {
		return fmt.Errorf("bootstrap app: %w", err)
	}
	if err := app.Run(); err != nil {
		return fmt.Errorf("run app: %w", err)
	}
	return nil
}
