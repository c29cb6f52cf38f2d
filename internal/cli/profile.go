/*
PURPOSE:
  Defines the 'profile' subcommand.
  Captures communication behavior at a single GPU count.

REQUIREMENTS:
  User-specified:
  - Profile sync stalls for a chosen GPU count and duration.
  - Write the per-gpu-count artifact the report generator consumes.

  Implementation-discovered:
  - Thresholds come from the config file so ad hoc profiling agrees with
    sweep-triggered profiling.

ARCHITECTURE INTEGRATION:
  - Calls: internal/profile
  - Uses: internal/config

ERROR HANDLING:
  - Returns error on malformed options or artifact write failure; a
    missing profiler tool degrades inside internal/profile.

IMPLEMENTATION RULES:
  - Flags mirror the profiling section of the config file.

USAGE:
  torchscale profile -g 4 -d 30 -t sync_stalls

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/profile/profile.go

MAINTENANCE:
  - Update when profiling targets grow beyond sync_stalls.
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/config"
	"github.com/mlinfra/torchscale/internal/profile"
)

var (
	profileGPUs        int
	profileDurationSec int
	profileTarget      string
	profileTool        string
	profileOutput      string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile multi-GPU communication patterns",
	Example: `  # Profile sync stalls across 4 GPUs for 30 seconds
  torchscale profile -g 4 -d 30 -t sync_stalls

  # Write the artifact next to existing sweep results
  torchscale profile -g 8 -o ./results`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		outputDir := cfg.OutputDir
		if profileOutput != "" {
			outputDir = profileOutput
		}
		tool := cfg.Profiling.Tool
		if profileTool != "" {
			tool = profileTool
		}

		p := profile.New(profile.Options{
			GPUCount:  profileGPUs,
			Duration:  time.Duration(profileDurationSec) * time.Second,
			Target:    profileTarget,
			Tool:      tool,
			OutputDir: outputDir,
			Policy:    cfg.Thresholds,
		})
		report, err := p.Run(ctx)
		if err != nil {
			return err
		}
		path, err := p.Save(report)
		if err != nil {
			return err
		}

		fmt.Printf("Profile for %d GPU(s): %.1f%% of step time in sync stalls\n",
			report.GPUCount, report.SyncStallPercentage)
		for _, b := range report.Bottlenecks {
			fmt.Printf("  [%s] %s\n      impact: %s\n      suggestion: %s\n",
				b.Kind, b.Description, b.ImpactEstimate, b.Suggestion)
		}
		fmt.Printf("Artifact: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().IntVarP(&profileGPUs, "gpu-count", "g", 4, "Number of GPUs to profile")
	profileCmd.Flags().IntVarP(&profileDurationSec, "duration", "d", 30, "Capture duration in seconds")
	profileCmd.Flags().StringVarP(&profileTarget, "target", "t", profile.TargetSyncStalls, "Profiling target")
	profileCmd.Flags().StringVar(&profileTool, "tool", "", "Profiler tool (default from config)")
	profileCmd.Flags().StringVarP(&profileOutput, "output-dir", "o", "", "Directory for the profiling artifact (default from config)")
}
