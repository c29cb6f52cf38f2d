/*
PURPOSE:
  Scaling analysis over a completed result set. Computes ideal linear
  throughput and observed scaling efficiency per (model, batch_size) group
  as GPU count grows.

REQUIREMENTS:
  User-specified:
  - The baseline of each group is the row with the smallest gpu_count and
    must score exactly 100% efficiency.
  - Malformed results are excluded with a warning, never a fatal error.
  - Analysis is a pure function: identical input yields identical rows.

  Implementation-discovered:
  - Group emission follows first appearance in the input so report rows
    track sweep declaration order.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (benchmark summary), internal/report
  - Uses: internal/model, github.com/samber/lo

ERROR HANDLING:
  - Returns data-quality warnings alongside rows; callers decide whether
    to log or surface them.

IMPLEMENTATION RULES:
  - Never mutate the input slice.
  - Within a group, rows are ordered by gpu_count ascending.

USAGE:
  rows, warnings := engine.Analyze(results)

SELF-HEALING INSTRUCTIONS:
  - If efficiency drifts from 100% on baselines, check for duplicate
    gpu_counts inside a group before suspecting the math.

RELATED FILES:
  - internal/model/types.go
  - internal/report/report.go

MAINTENANCE:
  - Keep ScalingRow field derivations in sync with the report template.
*/

package engine

import (
	"sort"

	"github.com/samber/lo"

	"github.com/mlinfra/torchscale/internal/model"
)

// Analyze derives one ScalingRow per well-formed result. Results are grouped
// by (model, batch_size); each group is normalized against its smallest
// gpu_count. Results with non-positive throughput or GPU count are skipped
// and reported as warnings.
func Analyze(results []model.RunResult) ([]model.ScalingRow, []DataQualityWarning) {
	var warnings []DataQualityWarning
	valid := make([]model.RunResult, 0, len(results))
	for _, r := range results {
		if reason := malformedReason(r); reason != "" {
			warnings = append(warnings, DataQualityWarning{
				Model:     r.Model,
				BatchSize: r.BatchSize,
				GPUCount:  r.GPUCount,
				Reason:    reason,
			})
			continue
		}
		valid = append(valid, r)
	}

	groups := lo.GroupBy(valid, func(r model.RunResult) string { return r.GroupKey() })
	keys := lo.Uniq(lo.Map(valid, func(r model.RunResult, _ int) string { return r.GroupKey() }))

	rows := make([]model.ScalingRow, 0, len(valid))
	for _, key := range keys {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].GPUCount < group[j].GPUCount })
		baseline := group[0]
		for _, r := range group {
			ideal := baseline.AvgThroughput * float64(r.GPUCount) / float64(baseline.GPUCount)
			rows = append(rows, model.ScalingRow{
				Model:                r.Model,
				BatchSize:            r.BatchSize,
				GPUCount:             r.GPUCount,
				AvgThroughput:        r.AvgThroughput,
				IdealThroughput:      ideal,
				ScalingEfficiencyPct: 100 * r.AvgThroughput / ideal,
			})
		}
	}
	return rows, warnings
}

func malformedReason(r model.RunResult) string {
	switch {
	case r.GPUCount <= 0:
		return "non-positive gpu_count"
	case r.AvgThroughput <= 0:
		return "non-positive avg_throughput"
	default:
		return ""
	}
}
