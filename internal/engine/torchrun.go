/*
PURPOSE:
  Live sample collection through torchrun. Launches one distributed
  training process per run and parses its telemetry stream into the same
  RunResult shape the simulated collector produces.

REQUIREMENTS:
  User-specified:
  - Launch failures are retried a bounded number of times, then surface as
    LaunchFailure with the last error.
  - The telemetry window is fixed-size; a short window fails the run.

  Implementation-discovered:
  - torchrun multiplexes rank output; only lines carrying the telemetry
    markers are trusted, everything else is ignored.
  - A missing torchrun binary never heals mid-sweep, so it aborts the
    retry loop immediately.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/sweep.go when live collection is configured
  - Uses: internal/model, internal/output, os/exec

ERROR HANDLING:
  - Context errors pass through untouched for the sweep to normalize.
  - Exit errors carry a stderr tail for diagnosis.

IMPLEMENTATION RULES:
  - Never reuse an exec.Cmd across attempts; build a fresh one each time.
  - Parse from the captured stream only after the process exits.

USAGE:
  c := engine.NewTorchrunCollector(engine.TorchrunOptions{Script: "train.py"})
  res, err := c.Collect(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - If the training script changes its log markers, update
    throughputPattern/latencyPattern together with the script.

RELATED FILES:
  - internal/engine/collector.go
  - internal/engine/sweep.go

MAINTENANCE:
  - Telemetry markers are throughput=<v> and latency_ms=<v>; keep the
    script contract in sync.
*/

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
)

var (
	throughputPattern = regexp.MustCompile(`throughput=([0-9][0-9.eE+-]*)`)
	latencyPattern    = regexp.MustCompile(`latency_ms=([0-9][0-9.eE+-]*)`)
)

// TorchrunOptions configure live collection.
type TorchrunOptions struct {
	// Binary is the launcher executable; defaults to "torchrun" on PATH.
	Binary string
	// Script is the training entrypoint handed to torchrun.
	Script string
	// ScriptArgs are passed through to the script after the standard
	// --model/--batch-size arguments.
	ScriptArgs []string
	// SampleWindow is the number of telemetry samples required per run.
	SampleWindow int
	// LaunchAttempts bounds process launch retries; defaults to 3.
	LaunchAttempts uint
	// RetryDelay is the base backoff between launch attempts.
	RetryDelay time.Duration
	// Verbose emits a telemetry log line per collected run.
	Verbose bool
}

func (o TorchrunOptions) normalize() TorchrunOptions {
	if o.Binary == "" {
		o.Binary = "torchrun"
	}
	if o.SampleWindow <= 0 {
		o.SampleWindow = DefaultSampleWindow
	}
	if o.LaunchAttempts == 0 {
		o.LaunchAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	return o
}

// TorchrunCollector shells out to torchrun with --nproc_per_node set from
// the run config and scrapes per-iteration telemetry from stdout.
type TorchrunCollector struct {
	opts TorchrunOptions
}

func NewTorchrunCollector(opts TorchrunOptions) *TorchrunCollector {
	return &TorchrunCollector{opts: opts.normalize()}
}

var _ Collector = (*TorchrunCollector)(nil)

func (t *TorchrunCollector) Collect(ctx context.Context, cfg model.RunConfig) (*model.RunResult, error) {
	if t.opts.Script == "" {
		return nil, NewConfigurationError("torchrun collection requires a training script")
	}

	var stdout string
	err := retry.Do(func() error {
		out, runErr := t.runOnce(ctx, cfg)
		if runErr != nil {
			if errors.Is(runErr, exec.ErrNotFound) {
				return retry.Unrecoverable(runErr)
			}
			return runErr
		}
		stdout = out
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(t.opts.LaunchAttempts),
		retry.Delay(t.opts.RetryDelay),
		retry.LastErrorOnly(true),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, NewLaunchFailure(err)
	}

	throughput, latency := parseTelemetry(stdout)
	if len(throughput) < t.opts.SampleWindow || len(latency) < t.opts.SampleWindow {
		return nil, &RunFailure{
			Kind: FailureSampleMismatch,
			Err: fmt.Errorf("incomplete telemetry for %s: %d throughput / %d latency samples, want %d",
				cfg.String(), len(throughput), len(latency), t.opts.SampleWindow),
		}
	}
	// Steady-state window: extra warmup samples beyond the window are
	// dropped from the front.
	throughput = throughput[len(throughput)-t.opts.SampleWindow:]
	latency = latency[len(latency)-t.opts.SampleWindow:]

	res, err := buildResult(cfg, throughput, latency)
	if err != nil {
		return nil, err
	}
	if t.opts.Verbose {
		output.Logger.Info("Collected telemetry",
			"run", cfg.String(),
			"avg_throughput", res.AvgThroughput,
			"iteration_latency_ms", res.IterationLatency,
			"samples", len(res.ThroughputSamples),
		)
	}
	return res, nil
}

// runOnce launches a single torchrun process and returns its stdout.
func (t *TorchrunCollector) runOnce(ctx context.Context, cfg model.RunConfig) (string, error) {
	args := []string{
		fmt.Sprintf("--nproc_per_node=%d", cfg.GPUCount),
		t.opts.Script,
		"--model", cfg.Model,
		"--batch-size", strconv.Itoa(cfg.BatchSize),
	}
	args = append(args, t.opts.ScriptArgs...)

	cmd := exec.CommandContext(ctx, t.opts.Binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	output.Logger.Debug("Launching torchrun",
		"binary", t.opts.Binary,
		"nproc_per_node", cfg.GPUCount,
		"script", t.opts.Script,
		"run", cfg.String(),
	)

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("torchrun %s: %w%s", cfg.String(), err, stderrTail(stderr.String()))
	}
	return stdout.String(), nil
}

// parseTelemetry scans process output for telemetry markers. Throughput and
// latency are matched independently so a malformed stream is detectable.
func parseTelemetry(out string) (throughput, latency []float64) {
	for _, line := range strings.Split(out, "\n") {
		if m := throughputPattern.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				throughput = append(throughput, v)
			}
		}
		if m := latencyPattern.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				latency = append(latency, v)
			}
		}
	}
	return throughput, latency
}

// stderrTail formats the last lines of stderr for inclusion in errors.
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return "\nstderr: " + strings.Join(lines, "\n")
}
