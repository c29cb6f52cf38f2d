/*
PURPOSE:
  Defines the 'validate' subcommand.
  Checks the host for distributed-training prerequisites.

REQUIREMENTS:
  User-specified:
  - Answer pass/fail per capability with a message.
  - Advisory checks (profiler tooling) never fail the command.

  Implementation-discovered:
  - Useful validation step before a long sweep.

ARCHITECTURE INTEGRATION:
  - Calls: internal/validate

ERROR HANDLING:
  - Non-zero exit when a required capability is missing.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  torchscale validate

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/validate/validate.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the training environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := validate.New().Run(cmd.Context())

		for _, c := range checks {
			mark := "✓"
			if !c.Passed {
				mark = "✗"
			}
			kind := "required"
			if !c.Required {
				kind = "optional"
			}
			fmt.Printf("%s %-12s (%s) %s\n", mark, c.Name, kind, c.Message)
		}

		if !validate.AllRequiredPassed(checks) {
			return fmt.Errorf("environment validation failed: %d required check(s) did not pass",
				len(validate.FailedRequired(checks)))
		}
		fmt.Println("Environment ready for distributed training.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
