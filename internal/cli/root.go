/*
PURPOSE:
  Defines the root Cobra command for the torchscale CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config and --verbose.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Log verbosity must be settled before any subcommand logic runs.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/torchscale/main.go
  - Calls: Child commands (benchmark, profile, report, validate)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands, Root is usually empty or helps.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init().

RELATED FILES:
  - cmd/torchscale/main.go

MAINTENANCE:
  - Update when adding new global configuration options.
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile string
	verbose bool
	quiet   bool

	rootCmd = &cobra.Command{
		Use:   "torchscale",
		Short: "Benchmark and analyze multi-GPU distributed training",
		Long: `torchscale sweeps training configurations across models, batch sizes and
GPU counts, classifies synchronization bottlenecks, and reports scaling
efficiency. Use 'benchmark run --help' for sweep options.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			output.Configure(verbose, quiet)
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./torchscale.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
}
