/*
PURPOSE:
  Sweep orchestration. Drives every cell of a run matrix through sample
  collection and anomaly classification under a bounded worker pool, and
  accumulates an ordered outcome per cell.

REQUIREMENTS:
  User-specified:
  - Output order equals matrix order no matter which runs finish first.
  - One run's failure never aborts the sweep; the failure is recorded in
    that run's slot and dispatch continues.
  - Cancellation stops new dispatches immediately, lets in-flight runs
    drain through their contexts, and keeps completed results.
  - Concurrent sweeps over one output directory are rejected, not merged.

  Implementation-discovered:
  - Each outcome slot is written exactly once, by the goroutine that owns
    its matrix index; the pool's Wait establishes the read barrier. No
    result mutex needed.
  - A launch interval throttle avoids thundering-herd GPU allocation when
    concurrency is raised.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli/benchmark.go
  - Uses: internal/engine collector/classifier, internal/metrics,
    golang.org/x/sync/errgroup, golang.org/x/time/rate,
    go.uber.org/multierr, k8s.io/utils/clock

ERROR HANDLING:
  - Run returns ErrSweepIncomplete (wrapped) only when cancelled or timed
    out as a whole; per-run failures live in the outcome slots and are
    aggregated separately by Err().
  - Options the pool cannot honor (concurrency below 1) are
    ConfigurationErrors returned before any run starts.

IMPLEMENTATION RULES:
  - A Sweep instance is single-use. Construct one per invocation.
  - Collectors own per-run work; the sweep owns deadlines and statuses.

USAGE:
  s := engine.NewSweep(matrix, collector, classifier, engine.SweepOptions{Concurrency: 2})
  outcomes, err := s.Run(ctx)

SELF-HEALING INSTRUCTIONS:
  - A stale .torchscale.lock after a crash must be removed manually; the
    lock names the owning pid to make that call easy.

RELATED FILES:
  - internal/engine/matrix.go
  - internal/engine/collector.go
  - internal/engine/classifier.go

MAINTENANCE:
  - Keep status strings stable; the CLI summary and tests key on them.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/mlinfra/torchscale/internal/metrics"
	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
)

const lockFileName = ".torchscale.lock"

// RunStatus records how a matrix cell ended.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Outcome is one matrix cell's final state. Result is set only for
// completed runs; Err only for failed or cancelled ones.
type Outcome struct {
	Config model.RunConfig
	Result *model.RunResult
	Err    error
	Status RunStatus
}

// Summary aggregates a finished sweep for user-facing reporting.
type Summary struct {
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	FlaggedRuns int
	Elapsed     time.Duration
}

// SweepOptions tune orchestration. Concurrency must be at least 1; the
// remaining zero values mean no per-run deadline, no launch throttle, no
// output lock, real clock.
type SweepOptions struct {
	// Concurrency caps simultaneous in-flight runs. Excess work queues;
	// it is never dispatched past the cap. Values below 1 fail the sweep
	// with a ConfigurationError before any run starts.
	Concurrency int
	// PerRunTimeout bounds a single run end to end.
	PerRunTimeout time.Duration
	// LaunchInterval enforces minimum spacing between run dispatches.
	LaunchInterval time.Duration
	// OutputDir, when set, is claimed exclusively for the sweep's
	// duration via a lock file.
	OutputDir string
	// Clock drives elapsed-time accounting.
	Clock clock.Clock
}

func (o SweepOptions) normalize() SweepOptions {
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// Sweep executes one run matrix. Single-use: construct per invocation so
// no results leak across sweeps.
type Sweep struct {
	matrix     []model.RunConfig
	collector  Collector
	classifier *Classifier
	opts       SweepOptions

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	outcomes []Outcome
	elapsed  time.Duration
}

func NewSweep(matrix []model.RunConfig, collector Collector, classifier *Classifier, opts SweepOptions) *Sweep {
	if classifier == nil {
		classifier = NewClassifier(DefaultPolicy())
	}
	return &Sweep{
		matrix:     matrix,
		collector:  collector,
		classifier: classifier,
		opts:       opts.normalize(),
		outcomes:   make([]Outcome, len(matrix)),
	}
}

// Run executes the matrix and returns outcomes in matrix order. The error
// is non-nil only when the sweep as a whole was cut short; per-run
// failures are inside the outcomes.
func (s *Sweep) Run(ctx context.Context) ([]Outcome, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("sweep already run; construct a new sweep per invocation")
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	// errgroup treats a zero limit as "never dispatch" and a negative one
	// as unbounded; both contradict the cap's contract.
	if s.opts.Concurrency < 1 {
		return nil, NewConfigurationError("concurrency must be at least 1, got %d", s.opts.Concurrency)
	}

	if s.opts.OutputDir != "" {
		unlock, err := lockOutputDir(s.opts.OutputDir)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	start := s.opts.Clock.Now()
	output.Logger.Info("Starting benchmark sweep",
		"runs", len(s.matrix),
		"concurrency", s.opts.Concurrency,
		"per_run_timeout", s.opts.PerRunTimeout,
	)

	var limiter *rate.Limiter
	if s.opts.LaunchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.LaunchInterval), 1)
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range s.matrix {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		i := i
		g.Go(func() error {
			s.runOne(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	// Cells never dispatched keep their zero status; mark them cancelled.
	for i := range s.outcomes {
		if s.outcomes[i].Status == "" {
			s.outcomes[i] = Outcome{
				Config: s.matrix[i],
				Err:    NewCancelled(context.Cause(ctx)),
				Status: StatusCancelled,
			}
		}
	}
	s.elapsed = s.opts.Clock.Since(start)

	sum := s.Summary()
	output.Logger.Info("Sweep finished",
		"completed", sum.Completed,
		"failed", sum.Failed,
		"cancelled", sum.Cancelled,
		"flagged", sum.FlaggedRuns,
		"elapsed", s.elapsed,
	)

	if ctx.Err() != nil {
		return s.outcomes, fmt.Errorf("%w: %v", ErrSweepIncomplete, context.Cause(ctx))
	}
	return s.outcomes, nil
}

// runOne owns outcome slot i end to end.
func (s *Sweep) runOne(ctx context.Context, i int) {
	cfg := s.matrix[i]
	if ctx.Err() != nil {
		s.outcomes[i] = Outcome{Config: cfg, Err: NewCancelled(ctx.Err()), Status: StatusCancelled}
		metrics.RecordRun(string(StatusCancelled), 0)
		return
	}

	metrics.RunStarted()
	defer metrics.RunFinished()
	runStart := s.opts.Clock.Now()

	runCtx := ctx
	if s.opts.PerRunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.PerRunTimeout)
		defer cancel()
	}

	res, err := s.collector.Collect(runCtx, cfg)
	if err != nil {
		out := s.failedOutcome(ctx, cfg, err)
		s.outcomes[i] = out
		metrics.RecordRun(string(out.Status), s.opts.Clock.Since(runStart).Seconds())
		return
	}

	detected, bottlenecks := s.classifier.Classify(res)
	res.VarianceDetected = detected
	res.Bottlenecks = bottlenecks
	for _, b := range bottlenecks {
		metrics.RecordBottleneck(string(b.Kind))
	}

	if detected {
		output.Logger.Warn("High gradient sync variance detected", "run", cfg.String())
	}
	output.Logger.Info("Run completed",
		"run", cfg.String(),
		"avg_throughput", res.AvgThroughput,
		"iteration_latency_ms", res.IterationLatency,
		"bottlenecks", len(bottlenecks),
	)
	s.outcomes[i] = Outcome{Config: cfg, Result: res, Status: StatusCompleted}
	metrics.RecordRun(string(StatusCompleted), s.opts.Clock.Since(runStart).Seconds())
}

// failedOutcome normalizes a collection error into the failure taxonomy.
// Sweep-level cancellation dominates; a per-run deadline is a Timeout.
func (s *Sweep) failedOutcome(sweepCtx context.Context, cfg model.RunConfig, err error) Outcome {
	out := Outcome{Config: cfg, Status: StatusFailed}
	switch {
	case sweepCtx.Err() != nil || errors.Is(err, context.Canceled) || IsCancelled(err):
		out.Err = NewCancelled(err)
		out.Status = StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		out.Err = NewTimeout(fmt.Errorf("run exceeded %s: %w", s.opts.PerRunTimeout, err))
	default:
		out.Err = err
	}
	output.Logger.Warn("Run failed",
		"run", cfg.String(),
		"kind", string(KindOf(out.Err)),
		"error", out.Err,
	)
	return out
}

// Cancel stops dispatch of not-yet-started runs. Idempotent; in-flight
// runs drain through their own contexts.
func (s *Sweep) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Results returns completed results in matrix order.
func (s *Sweep) Results() []model.RunResult {
	results := make([]model.RunResult, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		if o.Status == StatusCompleted && o.Result != nil {
			results = append(results, *o.Result)
		}
	}
	return results
}

// Err aggregates per-run failures for diagnostics. Nil when every run
// completed.
func (s *Sweep) Err() error {
	errs := make([]error, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Config, o.Err))
		}
	}
	return multierr.Combine(errs...)
}

// Summary tallies outcomes for the user-facing sweep report.
func (s *Sweep) Summary() Summary {
	counts := lo.CountValuesBy(s.outcomes, func(o Outcome) RunStatus { return o.Status })
	return Summary{
		Total:     len(s.outcomes),
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],
		FlaggedRuns: lo.CountBy(s.outcomes, func(o Outcome) bool {
			return o.Result != nil && len(o.Result.Bottlenecks) > 0
		}),
		Elapsed: s.elapsed,
	}
}

// lockOutputDir claims dir for a single sweep. The returned release must
// run before another sweep may target dir.
func lockOutputDir(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrOutputDirLocked, path)
		}
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}
