/*
PURPOSE:
  Defines the core data structures used throughout TorchScale.
  These models represent benchmark configurations, run results, bottleneck
  findings, scaling rows, and profiling reports.

REQUIREMENTS:
  User-specified:
  - Record throughput (samples/sec) and iteration latency (ms) per run.
  - Track model name, batch size, and GPU count per configuration.
  - Flat JSON records, one object per run, compatible with the report loader.

  Implementation-discovered:
  - RunConfig must be embedded in RunResult so the serialized record stays
    flat (model/batch_size/gpu_count at the top level).
  - Configs need a stable fingerprint for duplicate detection and log
    correlation under concurrency.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/output, internal/profile,
    internal/report
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Never mutate a RunResult after the classifier has enriched it.

USAGE:
  cfg := model.RunConfig{Model: "resnet50", BatchSize: 64, GPUCount: 4}
  key := cfg.Fingerprint()

SELF-HEALING INSTRUCTIONS:
  - If new metrics are needed, add the field here and update the JSON
    writer plus the report generator together.

RELATED FILES:
  - internal/output/writer.go
  - internal/report/generator.go

MAINTENANCE:
  - Update when adding new metrics to capture.
*/

package model

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/hashstructure/v2"
)

// RunConfig identifies a single cell of the benchmark matrix. Immutable;
// unique per (model, batch_size, gpu_count) triple within a sweep.
type RunConfig struct {
	Model     string `json:"model" yaml:"model"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	GPUCount  int    `json:"gpu_count" yaml:"gpu_count"`
}

func (c RunConfig) String() string {
	return fmt.Sprintf("%s (batch=%d, gpus=%d)", c.Model, c.BatchSize, c.GPUCount)
}

// GroupKey identifies the (model, batch_size) scaling group this config
// belongs to. All gpu_count variants of a group share a key.
func (c RunConfig) GroupKey() string {
	return fmt.Sprintf("%s/%d", c.Model, c.BatchSize)
}

// Fingerprint returns a stable hash of the config triple, used for
// duplicate rejection in matrix construction and as a short run identity
// in logs.
func (c RunConfig) Fingerprint() string {
	// RunConfig is a plain value type; hashing cannot fail on it.
	h, _ := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	return strconv.FormatUint(h, 16)
}

// BottleneckKind classifies a detected synchronization bottleneck.
type BottleneckKind string

const (
	// BottleneckCommunicationStall indicates time lost waiting on
	// collective communication (NCCL all-reduce and friends).
	BottleneckCommunicationStall BottleneckKind = "CommunicationStall"
	// BottleneckGradientSyncVariance indicates uneven gradient
	// synchronization time across ranks.
	BottleneckGradientSyncVariance BottleneckKind = "GradientSyncVariance"
)

// Bottleneck is a single classified finding attached to a run or a
// profiling report. Derived data; never persisted on its own.
type Bottleneck struct {
	Kind           BottleneckKind `json:"kind"`
	Description    string         `json:"description"`
	ImpactEstimate string         `json:"impact_estimate"`
	Suggestion     string         `json:"suggestion"`
}

// RunResult is the outcome of one completed benchmark run. The collector
// fills the samples and means; the classifier enriches VarianceDetected and
// Bottlenecks exactly once. The embedded RunConfig keeps the JSON record
// flat for round-trip compatibility with the report loader.
type RunResult struct {
	RunConfig
	AvgThroughput     float64      `json:"avg_throughput"`
	IterationLatency  float64      `json:"iteration_latency"`
	ThroughputSamples []float64    `json:"throughput_samples"`
	LatencySamples    []float64    `json:"latency_samples"`
	VarianceDetected  bool         `json:"variance_detected"`
	Bottlenecks       []Bottleneck `json:"bottlenecks,omitempty"`
}

// ScalingRow is one row of the scaling-efficiency table: a run normalized
// against the smallest-gpu_count baseline of its (model, batch_size) group.
type ScalingRow struct {
	Model                string  `json:"model"`
	BatchSize            int     `json:"batch_size"`
	GPUCount             int     `json:"gpu_count"`
	AvgThroughput        float64 `json:"avg_throughput"`
	IdealThroughput      float64 `json:"ideal_throughput"`
	ScalingEfficiencyPct float64 `json:"scaling_efficiency_pct"`
}

// ProfileReport is the artifact of one profiling session, one record per
// gpu_count. Consumed by the report generator alongside benchmark results.
type ProfileReport struct {
	GPUCount            int          `json:"gpu_count"`
	DurationSeconds     int          `json:"duration"`
	Target              string       `json:"target"`
	Bottlenecks         []Bottleneck `json:"bottlenecks"`
	SyncStallPercentage float64      `json:"sync_stall_percentage"`
	ReportFile          string       `json:"report_file,omitempty"`
}
