/*
PURPOSE:
  Defines the 'config' command group.
  Scaffolds a starter configuration from the embedded example.

REQUIREMENTS:
  User-specified:
  - Give new users a commented config to edit instead of a blank page.

  Implementation-discovered:
  - Must refuse to clobber an existing file unless forced.

ARCHITECTURE INTEGRATION:
  - Calls: internal/config (embedded example)

ERROR HANDLING:
  - Returns error on write failure or on refusing to overwrite.

IMPLEMENTATION RULES:
  - The embedded example is the single source of truth; keep it loadable
    by config.Load at all times.

USAGE:
  torchscale config init
  torchscale config init -f custom.yaml

SELF-HEALING INSTRUCTIONS:
  - If init output fails to load, fix torchscale.example.yaml in
    internal/config first.

RELATED FILES:
  - internal/config/config.go
  - internal/config/torchscale.example.yaml

MAINTENANCE:
  - Keep the example in sync with new Config fields.
*/

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/config"
	"github.com/mlinfra/torchscale/internal/output"
)

var (
	initPath  string
	initForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage torchscale configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(initPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists; pass --force to overwrite", initPath)
		}

		if err := os.WriteFile(initPath, config.ExampleYAML, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", initPath, err)
		}

		output.Logger.Info("Wrote starter configuration", "path", initPath)
		fmt.Printf("Edit %s and start a sweep with: torchscale benchmark run -c %s\n", initPath, initPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)

	configInitCmd.Flags().StringVarP(&initPath, "file", "f", "torchscale.yaml", "Destination path for the starter config")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}
