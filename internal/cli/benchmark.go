/*
PURPOSE:
  Defines the 'benchmark' command group and its 'run' subcommand.
  Executes the full configuration sweep.

REQUIREMENTS:
  User-specified:
  - Run the sweep described by the config file.
  - Specific flags for overrides.
  - Exit status reflects whether any run failed.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.
  - SIGINT/SIGTERM cancel the sweep cooperatively; completed results are
    still persisted.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine (matrix, sweep, analysis), internal/validate,
    internal/profile, internal/output, internal/metrics
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails, the matrix is malformed, the
    output directory is locked, or any run fails.
  - Profiling problems are advisory and never flip the exit status.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Preflight -> Sweep -> Persist ->
    Analyze -> Profile.

USAGE:
  torchscale benchmark run -c torchscale.yaml -o ./results

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/sweep.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/mlinfra/torchscale/internal/config"
	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/metrics"
	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
	"github.com/mlinfra/torchscale/internal/profile"
	"github.com/mlinfra/torchscale/internal/validate"
)

var (
	outputOverride     string
	modelsOverride     []string
	batchSizesOverride []int
	gpuCountsOverride  []int
	concurrencyFlag    int
	skipValidation     bool
	metricsAddr        string
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Benchmark sweep commands",
}

var benchmarkRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured benchmark sweep",
	Long: `Executes the full benchmark sweep described by the configuration file.
The process follows a strict protocol:
1. Preflight: Validates the training environment (skippable).
2. Sweep: Runs every model x batch_size x gpu_count cell under a bounded
   worker pool, classifying bottlenecks as runs complete.
3. Analysis: Derives scaling efficiency per model/batch-size group.
4. Profiling: Optionally profiles communication at flagged GPU counts.

Results are saved as a flat JSON artifact for the report generator.`,
	Example: `  # Run with defaults (uses torchscale.yaml)
  torchscale benchmark run

  # Override the sweep dimensions and output directory
  torchscale benchmark run --models resnet50 --gpu-counts 1,2,4 -o ./results

  # Skip environment validation on a machine without GPUs
  torchscale benchmark run --skip-validation

  # Expose Prometheus metrics while a long sweep runs
  torchscale benchmark run --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// 2. Overrides
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}
		if len(modelsOverride) > 0 {
			cfg.Models = modelsOverride
		}
		if len(batchSizesOverride) > 0 {
			cfg.BatchSizes = batchSizesOverride
		}
		if len(gpuCountsOverride) > 0 {
			cfg.GPUCounts = gpuCountsOverride
		}
		if concurrencyFlag > 0 {
			cfg.Concurrency = concurrencyFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// 3. Preflight. Simulated sweeps touch no hardware, so a broken
		// environment only warns there.
		if !skipValidation {
			checks := validate.New().Run(ctx)
			failed := validate.FailedRequired(checks)
			for _, c := range failed {
				output.Logger.Warn("Environment check failed", "check", c.Name, "message", c.Message)
			}
			if len(failed) > 0 && cfg.Torchrun.Enabled {
				return fmt.Errorf("environment validation failed (%d check(s)); fix the environment or pass --skip-validation", len(failed))
			}
		}

		// 4. Matrix
		matrix, err := engine.BuildMatrix(cfg.Models, cfg.BatchSizes, cfg.GPUCounts)
		if err != nil {
			return err
		}

		// 5. Optional metrics endpoint
		if metricsAddr != "" {
			srv := metrics.Serve(metricsAddr)
			defer metrics.Shutdown(srv)
		}

		// 6. Sweep
		sweep := engine.NewSweep(matrix, buildCollector(cfg), engine.NewClassifier(cfg.Thresholds), engine.SweepOptions{
			Concurrency:    cfg.Concurrency,
			PerRunTimeout:  cfg.PerRunTimeout,
			LaunchInterval: cfg.LaunchInterval,
			OutputDir:      cfg.OutputDir,
		})
		outcomes, sweepErr := sweep.Run(ctx)
		if sweepErr != nil && outcomes == nil {
			// Never started: locked output dir or reused sweep.
			return sweepErr
		}

		// 7. Persist whatever completed, even on cancellation
		results := sweep.Results()
		path, err := output.SaveResults(cfg.OutputDir, results)
		if err != nil {
			return err
		}
		output.Logger.Info("Results saved", "path", path, "results", len(results))

		// 8. Scaling analysis
		rows, warnings := engine.Analyze(results)
		for _, w := range warnings {
			output.Logger.Warn("Excluded result from scaling analysis",
				"model", w.Model, "batch_size", w.BatchSize, "gpu_count", w.GPUCount, "reason", w.Reason)
		}
		for _, row := range rows {
			metrics.SetScalingEfficiency(row.Model, row.BatchSize, row.GPUCount, row.ScalingEfficiencyPct)
		}
		printSummary(cfg.ExperimentName, sweep.Summary(), outcomes, rows)

		// 9. Profiling pass, advisory only
		if cfg.Profiling.Enabled && sweepErr == nil {
			if err := runProfilingPass(ctx, cfg, outcomes); err != nil {
				output.Logger.Warn("Profiling pass failed", "error", err)
			}
		}

		// 10. Exit status
		if sweepErr != nil {
			return sweepErr
		}
		if failed := sweep.Summary().Failed; failed > 0 {
			output.Logger.Error("Sweep had failures", "error", sweep.Err())
			return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
		}
		return nil
	},
}

// buildCollector picks live or simulated collection from the config.
func buildCollector(cfg *config.Config) engine.Collector {
	if cfg.Torchrun.Enabled {
		return engine.NewTorchrunCollector(engine.TorchrunOptions{
			Binary:         cfg.Torchrun.Binary,
			Script:         cfg.Torchrun.Script,
			ScriptArgs:     cfg.Torchrun.ScriptArgs,
			SampleWindow:   cfg.SampleWindow,
			LaunchAttempts: cfg.Torchrun.LaunchAttempts,
			RetryDelay:     cfg.Torchrun.RetryDelay,
			Verbose:        verbose,
		})
	}
	return engine.NewSimulatedCollector(engine.SimulatorOptions{
		SampleWindow: cfg.SampleWindow,
		Verbose:      verbose,
	})
}

func printSummary(name string, sum engine.Summary, outcomes []engine.Outcome, rows []model.ScalingRow) {
	fmt.Printf("\n=== %s ===\n", name)
	fmt.Printf("Runs: %d completed, %d failed, %d cancelled in %.1fs\n",
		sum.Completed, sum.Failed, sum.Cancelled, sum.Elapsed.Seconds())

	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("  %-36s %s: %v\n", o.Config.String(), engine.KindOf(o.Err), o.Err)
		}
	}

	if len(rows) > 0 {
		fmt.Printf("\n%-14s %6s %6s %14s %14s %12s\n",
			"MODEL", "BATCH", "GPUS", "THROUGHPUT", "IDEAL", "EFFICIENCY")
		for _, r := range rows {
			fmt.Printf("%-14s %6d %6d %14.1f %14.1f %11.1f%%\n",
				r.Model, r.BatchSize, r.GPUCount, r.AvgThroughput, r.IdealThroughput, r.ScalingEfficiencyPct)
		}
	}

	for _, o := range outcomes {
		if o.Result == nil || len(o.Result.Bottlenecks) == 0 {
			continue
		}
		fmt.Printf("\nBottlenecks for %s:\n", o.Config.String())
		for _, b := range o.Result.Bottlenecks {
			fmt.Printf("  [%s] %s\n      impact: %s\n      suggestion: %s\n",
				b.Kind, b.Description, b.ImpactEstimate, b.Suggestion)
		}
	}
}

// runProfilingPass profiles each GPU count selected by the trigger policy.
func runProfilingPass(ctx context.Context, cfg *config.Config, outcomes []engine.Outcome) error {
	gpuCounts := profiledGPUCounts(cfg, outcomes)
	if len(gpuCounts) == 0 {
		output.Logger.Info("Profiling trigger matched no runs", "trigger", cfg.Profiling.Trigger)
		return nil
	}
	for _, g := range gpuCounts {
		p := profile.New(profile.Options{
			GPUCount:  g,
			Duration:  cfg.Profiling.Duration,
			Tool:      cfg.Profiling.Tool,
			OutputDir: cfg.OutputDir,
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
		output.Logger.Info("Profiling artifact written", "path", path, "gpu_count", g)
	}
	return nil
}

func profiledGPUCounts(cfg *config.Config, outcomes []engine.Outcome) []int {
	var counts []int
	switch cfg.Profiling.Trigger {
	case config.TriggerNever:
		return nil
	case config.TriggerAlways:
		counts = lo.Uniq(cfg.GPUCounts)
	default: // on_bottleneck
		counts = lo.Uniq(lo.FilterMap(outcomes, func(o engine.Outcome, _ int) (int, bool) {
			return o.Config.GPUCount, o.Result != nil && len(o.Result.Bottlenecks) > 0
		}))
	}
	sort.Ints(counts)
	return counts
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)
	benchmarkCmd.AddCommand(benchmarkRunCmd)

	benchmarkRunCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for result artifacts")
	benchmarkRunCmd.Flags().StringSliceVar(&modelsOverride, "models", nil, "Comma-separated list of models to sweep")
	benchmarkRunCmd.Flags().IntSliceVar(&batchSizesOverride, "batch-sizes", nil, "Comma-separated list of batch sizes to sweep")
	benchmarkRunCmd.Flags().IntSliceVar(&gpuCountsOverride, "gpu-counts", nil, "Comma-separated list of GPU counts to sweep")
	benchmarkRunCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Max runs in flight (default from config)")
	benchmarkRunCmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "Skip environment validation")
	benchmarkRunCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
}
