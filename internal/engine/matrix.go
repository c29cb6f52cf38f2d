/*
PURPOSE:
  Run matrix construction. Expands sweep dimensions into the ordered
  Cartesian product of models x batch_sizes x gpu_counts and rejects
  malformed dimensions before anything launches.

REQUIREMENTS:
  User-specified:
  - Matrix order is the declared order: models outermost, then batch
    sizes, then GPU counts. Execution and reporting both follow it.
  - An empty dimension, a non-positive value, or a duplicate triple is a
    ConfigurationError raised before the first run starts.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli/benchmark.go before constructing a Sweep
  - Uses: internal/model

ERROR HANDLING:
  - All validation failures are ConfigurationError; nothing here is
    retryable.

IMPLEMENTATION RULES:
  - Validate every dimension fully before expanding; report the first
    offending value, not a generic message.

USAGE:
  matrix, err := engine.BuildMatrix(cfg.Models, cfg.BatchSizes, cfg.GPUCounts)

SELF-HEALING INSTRUCTIONS:
  - If sweep ordering in reports looks shuffled, verify callers did not
    sort the returned slice.

RELATED FILES:
  - internal/engine/sweep.go
  - internal/config/config.go

MAINTENANCE:
  - Duplicate detection keys on RunConfig.Fingerprint; keep it stable
    across releases.
*/

package engine

import (
	"strings"

	"github.com/mlinfra/torchscale/internal/model"
)

// BuildMatrix expands sweep dimensions into an ordered sequence of run
// configurations. The result is deterministic for identical inputs.
func BuildMatrix(models []string, batchSizes, gpuCounts []int) ([]model.RunConfig, error) {
	if len(models) == 0 {
		return nil, NewConfigurationError("models list is empty")
	}
	if len(batchSizes) == 0 {
		return nil, NewConfigurationError("batch_sizes list is empty")
	}
	if len(gpuCounts) == 0 {
		return nil, NewConfigurationError("gpu_counts list is empty")
	}
	for _, m := range models {
		if strings.TrimSpace(m) == "" {
			return nil, NewConfigurationError("model name must not be blank")
		}
	}
	for _, b := range batchSizes {
		if b <= 0 {
			return nil, NewConfigurationError("batch_size must be positive, got %d", b)
		}
	}
	for _, g := range gpuCounts {
		if g <= 0 {
			return nil, NewConfigurationError("gpu_count must be positive, got %d", g)
		}
	}

	matrix := make([]model.RunConfig, 0, len(models)*len(batchSizes)*len(gpuCounts))
	seen := make(map[string]struct{}, cap(matrix))
	for _, m := range models {
		for _, b := range batchSizes {
			for _, g := range gpuCounts {
				cfg := model.RunConfig{Model: m, BatchSize: b, GPUCount: g}
				fp := cfg.Fingerprint()
				if _, dup := seen[fp]; dup {
					return nil, NewConfigurationError("duplicate run configuration %s", cfg)
				}
				seen[fp] = struct{}{}
				matrix = append(matrix, cfg)
			}
		}
	}
	return matrix, nil
}
