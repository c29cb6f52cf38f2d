/*
PURPOSE:
  Defines the 'report' command group and its 'generate' subcommand.
  Renders sweep artifacts into human-readable reports.

REQUIREMENTS:
  User-specified:
  - Generate HTML or CSV from a results directory.

  Implementation-discovered:
  - Useful long after the sweep process exited; works purely from
    artifacts on disk.

ARCHITECTURE INTEGRATION:
  - Calls: internal/report

ERROR HANDLING:
  - Prints a pointed error when no results exist yet.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  torchscale report generate -s ./results -f html

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/report/report.go

MAINTENANCE:
  - Update when new formats land.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/report"
)

var (
	reportSource string
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Reporting commands",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a report from sweep artifacts",
	Example: `  # HTML report from the default results directory
  torchscale report generate

  # CSV scaling table from a custom directory
  torchscale report generate -s ./results -f csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g := report.NewGenerator(reportSource, reportFormat)
		path, err := g.Generate()
		if err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportGenerateCmd)

	reportGenerateCmd.Flags().StringVarP(&reportSource, "source", "s", "results", "Directory containing sweep artifacts")
	reportGenerateCmd.Flags().StringVarP(&reportFormat, "format", "f", "html", "Report format: html, csv, or pdf")
}
