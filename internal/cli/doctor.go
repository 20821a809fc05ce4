package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"media-annotator/internal/diagnostics"
	"media-annotator/internal/domain"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, the model and the export folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := root.settings()
			if err != nil {
				return err
			}
			report := diagnostics.NewChecker().Run(settings)
			printReport(cmd.OutOrStdout(), report)
			if report.HasFailures {
				return errors.New("some checks failed")
			}
			return nil
		},
	}
}

func printReport(w io.Writer, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		mark := "ok  "
		if item.Status == domain.DiagnosticStatusFail {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %-12s %s\n", mark, item.Name, item.Message)
		if item.Status == domain.DiagnosticStatusFail && item.Hint != "" {
			fmt.Fprintf(w, "       %s\n", item.Hint)
		}
	}
}
