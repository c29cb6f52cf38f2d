/*
PURPOSE:
  Failure taxonomy for the benchmark engine.
  Distinguishes per-run failures (recorded in place, never fatal) from
  configuration errors (fatal before any run starts).

REQUIREMENTS:
  User-specified:
  - A single run's failure must not abort the sweep.
  - Malformed matrices must be rejected before dispatch.

  Implementation-discovered:
  - Collectors surface raw context errors; the sweep normalizes them into
    the taxonomy so custom collectors stay simple.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine (collector, sweep), internal/cli (summary)

ERROR HANDLING:
  - This IS the error handling.

IMPLEMENTATION RULES:
  - Typed failures wrap the cause; errors.As/Is must work through them.

USAGE:
  if engine.IsTimeout(outcome.Err) { ... }

RELATED FILES:
  - internal/engine/sweep.go

MAINTENANCE:
  - Extend FailureKind when new per-run failure classes appear.
*/

package engine

import (
	"errors"
	"fmt"
)

// FailureKind names a class of per-run failure.
type FailureKind string

const (
	FailureLaunch         FailureKind = "LaunchFailure"
	FailureTimeout        FailureKind = "Timeout"
	FailureSampleMismatch FailureKind = "SampleCountMismatch"
	FailureCancelled      FailureKind = "CancellationRequested"
)

// RunFailure is a per-run failure. It is recorded in the run's outcome slot
// and never unwinds the sweep.
type RunFailure struct {
	Kind FailureKind
	Err  error
}

func (f *RunFailure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *RunFailure) Unwrap() error { return f.Err }

func NewLaunchFailure(err error) *RunFailure {
	return &RunFailure{Kind: FailureLaunch, Err: err}
}

func NewTimeout(err error) *RunFailure {
	return &RunFailure{Kind: FailureTimeout, Err: err}
}

func NewSampleCountMismatch(throughput, latency int) *RunFailure {
	return &RunFailure{
		Kind: FailureSampleMismatch,
		Err:  fmt.Errorf("%d throughput samples vs %d latency samples", throughput, latency),
	}
}

func NewCancelled(err error) *RunFailure {
	return &RunFailure{Kind: FailureCancelled, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" when the
// error is not a RunFailure.
func KindOf(err error) FailureKind {
	var rf *RunFailure
	if errors.As(err, &rf) {
		return rf.Kind
	}
	return ""
}

func IsLaunchFailure(err error) bool { return KindOf(err) == FailureLaunch }
func IsTimeout(err error) bool       { return KindOf(err) == FailureTimeout }
func IsCancelled(err error) bool     { return KindOf(err) == FailureCancelled }

func IsSampleCountMismatch(err error) bool {
	return KindOf(err) == FailureSampleMismatch
}

// ConfigurationError marks a malformed sweep definition (empty dimension,
// non-positive value, duplicate triple, bad concurrency). Always fatal
// before any run starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ErrSweepIncomplete marks a sweep truncated by cancellation. Outcomes
// collected before the cancellation are still valid and retained.
var ErrSweepIncomplete = errors.New("sweep incomplete: cancelled before all runs were dispatched")

// ErrOutputDirLocked rejects a sweep whose output directory is already
// owned by another sweep.
var ErrOutputDirLocked = errors.New("output directory is locked by another sweep")

// DataQualityWarning reports a result excluded from scaling analysis.
// Advisory only; it never fails the analysis.
type DataQualityWarning struct {
	Model     string
	BatchSize int
	GPUCount  int
	Reason    string
}

func (w DataQualityWarning) String() string {
	return fmt.Sprintf("skipping %s (batch=%d, gpus=%d): %s", w.Model, w.BatchSize, w.GPUCount, w.Reason)
}
