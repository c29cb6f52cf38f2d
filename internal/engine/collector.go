/*
PURPOSE:
  Sample collection for a single benchmark run.
  Produces the fixed-size window of per-iteration throughput/latency
  observations behind every RunResult.

REQUIREMENTS:
  User-specified:
  - A run is all-or-nothing: partial windows are discarded on failure.
  - avg_throughput and iteration_latency are arithmetic means of the same
    sample window, never re-derived from each other.

  Implementation-discovered:
  - Constrained environments (CI, laptops) have no GPUs; a simulated
    collector with a synthetic telemetry model keeps the rest of the
    pipeline exercisable anywhere.
  - The simulation constants are placeholders for real telemetry and are
    exposed as options, not buried literals.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/sweep.go (one Collect per matrix cell)
  - Uses: internal/model, internal/output

ERROR HANDLING:
  - Context errors are returned raw; the sweep normalizes them into the
    failure taxonomy (Timeout/Cancelled).
  - Malformed windows surface as SampleCountMismatch.

IMPLEMENTATION RULES:
  - Honor ctx at every suspension point.
  - Verbose telemetry lines must never alter results.

USAGE:
  c := engine.NewSimulatedCollector(engine.SimulatorOptions{})
  res, err := c.Collect(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - If sample windows change size, adjust SimulatorOptions.SampleWindow and
    the config default together.

RELATED FILES:
  - internal/engine/torchrun.go
  - internal/engine/sweep.go

MAINTENANCE:
  - Replace the jittered synthetic window once real log parsing lands.
*/

package engine

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
)

// DefaultSampleWindow is the number of per-iteration observations captured
// per run.
const DefaultSampleWindow = 10

// Collector executes one (model, batch_size, gpu_count) run and returns its
// raw telemetry. Implementations must honor ctx cancellation and deadlines.
type Collector interface {
	Collect(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error)

func (f CollectorFunc) Collect(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error) {
	return f(ctx, cfg)
}

// SimulatorOptions tune the simulated collector. Zero values fall back to
// the stock constants.
type SimulatorOptions struct {
	// SampleWindow is the number of iterations observed per run.
	SampleWindow int
	// PerGPUThroughput is the ideal single-GPU throughput basis
	// (samples/sec).
	PerGPUThroughput float64
	// ScalingKneeGPUs is the GPU count above which simulated efficiency
	// drops from EfficiencyBelow to EfficiencyAbove.
	ScalingKneeGPUs int
	// EfficiencyAbove / EfficiencyBelow model scaling loss above and at or
	// below the knee.
	EfficiencyAbove float64
	EfficiencyBelow float64
	// IterationPace, when positive, spaces successive samples to mimic a
	// live training loop. Keep zero for instant collection.
	IterationPace time.Duration
	// Clock paces iterations; defaults to the real clock.
	Clock clock.Clock
	// Verbose emits a telemetry log line per collected run.
	Verbose bool
}

func (o SimulatorOptions) normalize() SimulatorOptions {
	if o.SampleWindow <= 0 {
		o.SampleWindow = DefaultSampleWindow
	}
	if o.PerGPUThroughput <= 0 {
		o.PerGPUThroughput = 400
	}
	if o.ScalingKneeGPUs <= 0 {
		o.ScalingKneeGPUs = 4
	}
	if o.EfficiencyAbove <= 0 {
		o.EfficiencyAbove = 0.85
	}
	if o.EfficiencyBelow <= 0 {
		o.EfficiencyBelow = 0.95
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// SimulatedCollector synthesizes plausible DDP telemetry without touching
// hardware: near-linear throughput scaling with a configurable efficiency
// knee, and a deterministic jitter pattern across the sample window.
type SimulatedCollector struct {
	opts SimulatorOptions
}

func NewSimulatedCollector(opts SimulatorOptions) *SimulatedCollector {
	return &SimulatedCollector{opts: opts.normalize()}
}

var _ Collector = (*SimulatedCollector)(nil)

func (s *SimulatedCollector) Collect(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error) {
	targetThroughput := s.targetThroughput(cfg)
	// ms per iteration at the target rate, for the global batch.
	targetLatency := float64(cfg.BatchSize*cfg.GPUCount) / targetThroughput * 1000

	throughput := make([]float64, 0, s.opts.SampleWindow)
	latency := make([]float64, 0, s.opts.SampleWindow)
	for i := 0; i < s.opts.SampleWindow; i++ {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		jitter := 0.95 + 0.01*float64(i%10)
		throughput = append(throughput, targetThroughput*jitter)
		latency = append(latency, targetLatency*jitter)
	}

	res, err := buildResult(cfg, throughput, latency)
	if err != nil {
		return nil, err
	}
	if s.opts.Verbose {
		output.Logger.Info("Collected telemetry",
			"run", cfg.String(),
			"avg_throughput", res.AvgThroughput,
			"iteration_latency_ms", res.IterationLatency,
			"samples", len(res.ThroughputSamples),
		)
	}
	return res, nil
}

func (s *SimulatedCollector) targetThroughput(cfg model.RunConfig) float64 {
	eff := s.opts.EfficiencyBelow
	if cfg.GPUCount > s.opts.ScalingKneeGPUs {
		eff = s.opts.EfficiencyAbove
	}
	return s.opts.PerGPUThroughput * float64(cfg.GPUCount) * eff
}

func (s *SimulatedCollector) pace(ctx context.Context) error {
	if s.opts.IterationPace <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.opts.Clock.After(s.opts.IterationPace):
		return nil
	}
}

// buildResult assembles a RunResult from a completed window, computing both
// means from the same samples. The window must be non-empty and balanced.
func buildResult(cfg model.RunConfig, throughput, latency []float64) (*model.RunResult, error) {
	if len(throughput) != len(latency) {
		return nil, NewSampleCountMismatch(len(throughput), len(latency))
	}
	if len(throughput) == 0 {
		return nil, &RunFailure{Kind: FailureSampleMismatch, Err: errors.New("empty sample window")}
	}
	return &model.RunResult{
		RunConfig:         cfg,
		AvgThroughput:     mean(throughput),
		IterationLatency:  mean(latency),
		ThroughputSamples: throughput,
		LatencySamples:    latency,
	}, nil
}
