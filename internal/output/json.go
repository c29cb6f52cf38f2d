/*
PURPOSE:
  Persists benchmark artifacts as JSON. Results are stored as one array of
  flat records so the report generator and external tooling can round-trip
  them without schema knowledge.

REQUIREMENTS:
  User-specified:
  - One JSON object per run, flat field layout, stable field names.
  - Artifacts must load back into the same structs that produced them.

  Implementation-discovered:
  - Indented output; these files get read by humans during triage.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli, internal/profile, internal/report
  - Consumes: internal/model.RunResult, internal/model.ProfileReport

ERROR HANDLING:
  - Returns wrapped errors naming the path on any file or codec failure.

IMPLEMENTATION RULES:
  - Use encoding/json.
  - Writes go through a temp file and rename so a crash never leaves a
    truncated artifact behind.

USAGE:
  err := output.SaveResults(path, results)
  results, err := output.LoadResults(path)

SELF-HEALING INSTRUCTIONS:
  - If loading fails after a version bump, diff field tags in
    internal/model/types.go against the artifact.

RELATED FILES:
  - internal/model/types.go
  - internal/report/report.go

MAINTENANCE:
  - Keep ResultsFileName matching ResultsGlob; the report loader merges
    every glob match.
*/

package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlinfra/torchscale/internal/model"
)

// ResultsFileName is the sweep artifact written into the output directory.
// Suffixed siblings (benchmark_results_node2.json and the like, from
// sweeps merged out of band) match ResultsGlob and are picked up by the
// report generator.
const (
	ResultsFileName = "benchmark_results.json"
	ResultsGlob     = "benchmark_results*.json"
)

// SaveJSON writes v as indented JSON at path, atomically.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// SaveResults writes the completed result set into dir as a flat JSON
// array and returns the artifact path.
func SaveResults(dir string, results []model.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, ResultsFileName)
	if err := SaveJSON(path, results); err != nil {
		return "", err
	}
	return path, nil
}

// LoadResults reads a result artifact back into memory.
func LoadResults(path string) ([]model.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var results []model.RunResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return results, nil
}

// LoadProfile reads one profiling artifact.
func LoadProfile(path string) (model.ProfileReport, error) {
	var report model.ProfileReport
	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode %s: %w", path, err)
	}
	return report, nil
}
