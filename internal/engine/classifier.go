/*
PURPOSE:
  Anomaly classification for completed benchmark runs.
  Decides whether gradient-sync variance is abnormal and which
  synchronization bottlenecks apply to a run.

REQUIREMENTS:
  User-specified:
  - Coefficient of variation of latency samples above a threshold means
    abnormal sync variance.
  - Multi-GPU runs at or above the communication threshold are flagged with
    a CommunicationStall finding.

  Implementation-discovered:
  - The thresholds are heuristics, not validated constants. They live in a
    Policy struct so real telemetry can replace them without touching
    control flow.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/sweep.go (after each successful collection)
  - Consumes: internal/model.RunResult

ERROR HANDLING:
  - Never fails. Worst case is an empty finding list.

IMPLEMENTATION RULES:
  - Classification is a pure function of the run result. Identical inputs
    must yield identical findings (tests depend on this).
  - Boundary: CV exactly at the threshold is NOT detected.

USAGE:
  detected, findings := engine.NewClassifier(engine.DefaultPolicy()).Classify(res)

SELF-HEALING INSTRUCTIONS:
  - If real stall telemetry becomes available, replace the fixed stall
    percentages with the measured idle-time fraction.

RELATED FILES:
  - internal/engine/sweep.go
  - internal/profile/profile.go

MAINTENANCE:
  - Keep Policy defaults in sync with the profiler's simulation constants.
*/

package engine

import (
	"fmt"
	"math"

	"github.com/mlinfra/torchscale/internal/model"
)

// Policy holds the tunable classification thresholds. The zero value is not
// useful; start from DefaultPolicy and override selectively.
type Policy struct {
	// SyncVarianceCV is the coefficient-of-variation threshold on latency
	// samples above which gradient-sync variance counts as abnormal.
	SyncVarianceCV float64 `yaml:"sync_variance_cv"`
	// CommStallMinGPUs is the GPU count at which collective communication
	// is assumed to stall measurably.
	CommStallMinGPUs int `yaml:"comm_stall_min_gpus"`
	// StallPctHigh and StallPctLow estimate the cycle-time fraction lost
	// to sync stalls at/above and below CommStallMinGPUs. Placeholder
	// policy until measured idle-time fractions replace them.
	StallPctHigh float64 `yaml:"stall_pct_high"`
	StallPctLow  float64 `yaml:"stall_pct_low"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SyncVarianceCV:   0.15,
		CommStallMinGPUs: 4,
		StallPctHigh:     15.0,
		StallPctLow:      5.0,
	}
}

// normalize fills unset fields so partially-specified YAML policies work.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.SyncVarianceCV <= 0 {
		p.SyncVarianceCV = def.SyncVarianceCV
	}
	if p.CommStallMinGPUs <= 0 {
		p.CommStallMinGPUs = def.CommStallMinGPUs
	}
	if p.StallPctHigh <= 0 {
		p.StallPctHigh = def.StallPctHigh
	}
	if p.StallPctLow <= 0 {
		p.StallPctLow = def.StallPctLow
	}
	return p
}

// StallPct returns the estimated sync-stall percentage for a GPU count
// under this policy. Shared with the profiler's simulation mode.
func (p Policy) StallPct(gpuCount int) float64 {
	if gpuCount >= p.CommStallMinGPUs {
		return p.StallPctHigh
	}
	return p.StallPctLow
}

// Classifier applies a Policy to completed runs.
type Classifier struct {
	policy Policy
}

func NewClassifier(policy Policy) *Classifier {
	return &Classifier{policy: policy.normalize()}
}

// Classify reports whether the run's gradient-sync variance is abnormal and
// which bottlenecks apply. Pure and deterministic; it never mutates res.
func (c *Classifier) Classify(res *model.RunResult) (bool, []model.Bottleneck) {
	detected := c.varianceDetected(res)

	var findings []model.Bottleneck
	if res.GPUCount >= c.policy.CommStallMinGPUs {
		stall := c.policy.StallPct(res.GPUCount)
		findings = append(findings, model.Bottleneck{
			Kind:           model.BottleneckCommunicationStall,
			Description:    fmt.Sprintf("Slowest rank delays all-reduce across %d GPUs", res.GPUCount),
			ImpactEstimate: fmt.Sprintf("%.1f%% of cycle time spent waiting", stall),
			Suggestion:     "Check for system noise or thermal throttling on the slowest rank",
		})
	}
	if res.GPUCount > 1 && detected {
		findings = append(findings, model.Bottleneck{
			Kind:           model.BottleneckGradientSyncVariance,
			Description:    "High variance in gradient sync time",
			ImpactEstimate: "Uneven GPU utilization",
			Suggestion:     "Enable gradient bucketing or use a ZeRO optimizer",
		})
	}
	return detected, findings
}

func (c *Classifier) varianceDetected(res *model.RunResult) bool {
	if len(res.LatencySamples) < 2 || res.IterationLatency <= 0 {
		return false
	}
	cv := sampleStdDev(res.LatencySamples) / res.IterationLatency
	return cv > c.policy.SyncVarianceCV
}

// mean is the arithmetic mean. Callers guarantee a non-empty slice.
func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the sample standard deviation (n-1 denominator), matching
// what per-iteration telemetry windows need. Returns 0 for windows shorter
// than 2.
func sampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}
