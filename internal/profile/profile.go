/*
PURPOSE:
  Communication profiling for multi-GPU training. Captures (or, without a
  profiler on the host, estimates) synchronization stall behavior at one
  GPU count and writes a per-gpu-count profiling artifact.

REQUIREMENTS:
  User-specified:
  - One artifact per gpu_count: {gpu_count, duration, target, bottlenecks,
    sync_stall_percentage, report_file}.
  - Profiler availability is advisory: a missing nsys degrades to the
    built-in stall model, it never fails the session.

  Implementation-discovered:
  - Stall percentages come from the same policy the anomaly classifier
    uses, so profile findings and run findings agree on thresholds.
  - nsys needs a real workload to wrap; without one only the stall model
    runs.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (profile command, post-sweep trigger)
  - Uses: internal/engine (policy), internal/validate (nsys probe),
    internal/output (artifact persistence)

ERROR HANDLING:
  - Only malformed options fail Run; tool failures log a warning and fall
    back to the stall model.

IMPLEMENTATION RULES:
  - Run never mutates host state beyond the nsys report file.
  - Artifact naming is profile_gpu<N>.json; the report generator globs it.

USAGE:
  p := profile.New(profile.Options{GPUCount: 4, OutputDir: "results"})
  report, err := p.Run(ctx)
  path, err := p.Save(report)

SELF-HEALING INSTRUCTIONS:
  - If artifacts stop appearing in reports, check the file name pattern
    against the report generator's glob first.

RELATED FILES:
  - internal/engine/classifier.go
  - internal/report/report.go

MAINTENANCE:
  - Replace the stall model with parsed nsys stats once the report
    ingestion format settles.
*/

package profile

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
	"github.com/mlinfra/torchscale/internal/validate"
)

// TargetSyncStalls is the default profiling target.
const TargetSyncStalls = "sync_stalls"

// Options configure one profiling session.
type Options struct {
	// GPUCount is the scale under inspection.
	GPUCount int
	// Duration bounds the capture; defaults to 30s.
	Duration time.Duration
	// Target names the behavior being profiled; defaults to sync_stalls.
	Target string
	// Tool selects the external profiler; only "nsys" is wired today.
	Tool string
	// OutputDir receives the profiling artifact.
	OutputDir string
	// Workload is the command nsys wraps. Empty means stall-model only.
	Workload []string
	// Policy supplies stall thresholds; zero value means defaults.
	Policy engine.Policy
}

func (o Options) normalize() Options {
	if o.Duration <= 0 {
		o.Duration = 30 * time.Second
	}
	if o.Target == "" {
		o.Target = TargetSyncStalls
	}
	if o.Tool == "" {
		o.Tool = "nsys"
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.Policy == (engine.Policy{}) {
		o.Policy = engine.DefaultPolicy()
	}
	return o
}

// Profiler runs profiling sessions at a fixed GPU count.
type Profiler struct {
	opts      Options
	validator *validate.Validator
}

func New(opts Options) *Profiler {
	return &Profiler{opts: opts.normalize(), validator: validate.New()}
}

// NewWithValidator substitutes the capability validator, for tests.
func NewWithValidator(opts Options, v *validate.Validator) *Profiler {
	return &Profiler{opts: opts.normalize(), validator: v}
}

// Run captures one profiling session and returns its report. The nsys path
// is attempted only when a workload is configured and the tool probes
// healthy; everything else uses the policy stall model.
func (p *Profiler) Run(ctx context.Context) (model.ProfileReport, error) {
	if p.opts.GPUCount <= 0 {
		return model.ProfileReport{}, engine.NewConfigurationError(
			"gpu_count must be positive, got %d", p.opts.GPUCount)
	}

	report := model.ProfileReport{
		GPUCount:        p.opts.GPUCount,
		DurationSeconds: int(p.opts.Duration.Seconds()),
		Target:          p.opts.Target,
	}

	output.Logger.Info("Profiling communication patterns",
		"gpu_count", p.opts.GPUCount,
		"duration", p.opts.Duration,
		"target", p.opts.Target,
	)

	if len(p.opts.Workload) > 0 && p.opts.Tool == "nsys" {
		if check := p.validator.Probe(ctx, "nsys"); check.Passed {
			reportFile, err := p.runNsys(ctx)
			if err != nil {
				output.Logger.Warn("nsys capture failed, falling back to stall model", "error", err)
			} else {
				report.ReportFile = reportFile
			}
		} else {
			output.Logger.Info("nsys unavailable, using stall model", "message", check.Message)
		}
	}

	report.SyncStallPercentage = p.opts.Policy.StallPct(p.opts.GPUCount)
	report.Bottlenecks = p.findBottlenecks(report.SyncStallPercentage)
	return report, nil
}

// Save writes the artifact into the output directory and returns its path.
func (p *Profiler) Save(report model.ProfileReport) (string, error) {
	path := filepath.Join(p.opts.OutputDir, ArtifactName(report.GPUCount))
	if err := output.SaveJSON(path, report); err != nil {
		return "", err
	}
	return path, nil
}

// ArtifactName is the canonical profiling artifact file name for a scale.
func ArtifactName(gpuCount int) string {
	return fmt.Sprintf("profile_gpu%d.json", gpuCount)
}

// ArtifactGlob matches all profiling artifacts in a directory.
const ArtifactGlob = "profile_gpu*.json"

func (p *Profiler) runNsys(ctx context.Context) (string, error) {
	// Capture window plus launch/teardown slack.
	ctx, cancel := context.WithTimeout(ctx, p.opts.Duration+30*time.Second)
	defer cancel()

	base := filepath.Join(p.opts.OutputDir, fmt.Sprintf("profile_gpu%d", p.opts.GPUCount))
	args := []string{
		"profile",
		"--output", base,
		"--force-overwrite", "true",
		"--duration", fmt.Sprintf("%d", int(p.opts.Duration.Seconds())),
	}
	args = append(args, p.opts.Workload...)

	cmd := exec.CommandContext(ctx, "nsys", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("nsys profile: %w: %s", err, firstBytes(out, 200))
	}
	return base + ".nsys-rep", nil
}

// findBottlenecks applies the stall model at the session's scale. The
// thresholds mirror anomaly classification so the two surfaces never
// disagree about what counts as a stall.
func (p *Profiler) findBottlenecks(stallPct float64) []model.Bottleneck {
	var found []model.Bottleneck
	if p.opts.GPUCount >= p.opts.Policy.CommStallMinGPUs {
		found = append(found, model.Bottleneck{
			Kind:           model.BottleneckCommunicationStall,
			Description:    fmt.Sprintf("NCCL all-reduce dominates inter-GPU communication at %d GPUs", p.opts.GPUCount),
			ImpactEstimate: fmt.Sprintf("%.1f%% of step time spent in collective ops", stallPct),
			Suggestion:     "Overlap communication with backward compute via DDP gradient bucketing",
		})
	}
	if p.opts.Target == TargetSyncStalls && p.opts.GPUCount > 1 {
		found = append(found, model.Bottleneck{
			Kind:           model.BottleneckGradientSyncVariance,
			Description:    "Gradient synchronization stalls across ranks",
			ImpactEstimate: "Ranks idle at sync barriers while the slowest rank catches up",
			Suggestion:     "Profile per-rank step time to isolate the slow rank",
		})
	}
	return found
}

func firstBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
