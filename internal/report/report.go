/*
PURPOSE:
  Report generation over persisted sweep artifacts. Loads benchmark
  results plus any profiling artifacts from a results directory, derives
  the scaling table, and renders HTML or CSV.

REQUIREMENTS:
  User-specified:
  - Consumes the exact artifacts the sweep and profiler write; no side
    channel between them.
  - PDF output degrades to HTML with a warning rather than failing.

  Implementation-discovered:
  - Result artifacts may arrive suffixed (benchmark_results_node2.json,
    one file per sweep leg); every benchmark_results*.json match is merged
    in lexical order before analysis.
  - Profiling artifacts sort numerically by gpu_count; lexical glob order
    puts profile_gpu16 before profile_gpu2.
  - A malformed profiling artifact is skipped with a warning; it must not
    sink the whole report. A malformed result artifact fails the report;
    results are the primary data.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli/report.go
  - Uses: internal/engine (scaling analysis), internal/output (artifact
    IO), html/template

ERROR HANDLING:
  - Missing results artifact is a hard error telling the user to run a
    sweep first.
  - Unknown formats are ConfigurationErrors.

IMPLEMENTATION RULES:
  - Rendering is read-only over the typed artifacts; no recomputation of
    run-level data beyond scaling analysis.

USAGE:
  g := report.NewGenerator("results", "html")
  path, err := g.Generate()

SELF-HEALING INSTRUCTIONS:
  - If the HTML renders empty sections, check artifact field names against
    internal/model/types.go before touching the template.

RELATED FILES:
  - internal/report/report.tmpl
  - internal/output/json.go

MAINTENANCE:
  - Keep template field references in sync with model types.
*/

package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/mlinfra/torchscale/internal/engine"
	"github.com/mlinfra/torchscale/internal/model"
	"github.com/mlinfra/torchscale/internal/output"
	"github.com/mlinfra/torchscale/internal/profile"
)

//go:embed report.tmpl
var reportTemplate string

// Artifact file names produced by Generate.
const (
	HTMLFileName = "benchmark_report.html"
	CSVFileName  = "scaling_report.csv"
)

// Generator renders reports from a results directory.
type Generator struct {
	sourceDir string
	format    string
}

// NewGenerator prepares rendering of sourceDir in the given format
// ("html", "csv" or "pdf"). Empty format means HTML.
func NewGenerator(sourceDir, format string) *Generator {
	if format == "" {
		format = "html"
	}
	return &Generator{sourceDir: sourceDir, format: format}
}

type reportData struct {
	GeneratedAt time.Time
	SourceDir   string
	Models      []string
	Results     []model.RunResult
	Rows        []model.ScalingRow
	Profiles    []model.ProfileReport
	Flagged     int
}

// Generate renders the report and returns the written file's path.
func (g *Generator) Generate() (string, error) {
	results, err := g.loadResults()
	if err != nil {
		return "", err
	}

	rows, warnings := engine.Analyze(results)
	for _, w := range warnings {
		output.Logger.Warn("Excluded result from scaling analysis",
			"model", w.Model,
			"batch_size", w.BatchSize,
			"gpu_count", w.GPUCount,
			"reason", w.Reason,
		)
	}

	profiles := g.loadProfiles()

	switch g.format {
	case "html":
		return g.writeHTML(results, rows, profiles)
	case "csv":
		return g.writeCSV(rows)
	case "pdf":
		output.Logger.Warn("PDF rendering needs an external converter, writing HTML instead")
		return g.writeHTML(results, rows, profiles)
	default:
		return "", engine.NewConfigurationError(
			"unsupported report format %q (expected html, csv, or pdf)", g.format)
	}
}

// loadResults merges every result artifact in the source directory, in
// lexical path order so repeated reports stay identical.
func (g *Generator) loadResults() ([]model.RunResult, error) {
	paths, err := filepath.Glob(filepath.Join(g.sourceDir, output.ResultsGlob))
	if err != nil {
		return nil, fmt.Errorf("scan %s for result artifacts: %w", g.sourceDir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no benchmark results in %s (run a sweep first)", g.sourceDir)
	}
	sort.Strings(paths)

	var results []model.RunResult
	for _, p := range paths {
		loaded, err := output.LoadResults(p)
		if err != nil {
			return nil, err
		}
		results = append(results, loaded...)
	}
	return results, nil
}

func (g *Generator) loadProfiles() []model.ProfileReport {
	paths, err := filepath.Glob(filepath.Join(g.sourceDir, profile.ArtifactGlob))
	if err != nil {
		return nil
	}
	profiles := make([]model.ProfileReport, 0, len(paths))
	for _, p := range paths {
		report, err := output.LoadProfile(p)
		if err != nil {
			output.Logger.Warn("Skipping unreadable profiling artifact", "path", p, "error", err)
			continue
		}
		profiles = append(profiles, report)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].GPUCount < profiles[j].GPUCount })
	return profiles
}

func (g *Generator) writeHTML(results []model.RunResult, rows []model.ScalingRow, profiles []model.ProfileReport) (string, error) {
	data := reportData{
		GeneratedAt: time.Now(),
		SourceDir:   g.sourceDir,
		Models: lo.Uniq(lo.Map(results, func(r model.RunResult, _ int) string {
			return r.Model
		})),
		Results:  results,
		Rows:     rows,
		Profiles: profiles,
		Flagged: lo.CountBy(results, func(r model.RunResult) bool {
			return len(r.Bottlenecks) > 0
		}),
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"effClass": efficiencyClass,
	}).Parse(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("parse report template: %w", err)
	}

	path := filepath.Join(g.sourceDir, HTMLFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	output.Logger.Info("Report written", "path", path, "runs", len(results), "scaling_rows", len(rows))
	return path, nil
}

func (g *Generator) writeCSV(rows []model.ScalingRow) (string, error) {
	path := filepath.Join(g.sourceDir, CSVFileName)
	w, err := output.NewScalingCSVWriter(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	output.Logger.Info("Scaling table written", "path", path, "rows", len(rows))
	return path, nil
}

// efficiencyClass buckets scaling efficiency for template styling.
func efficiencyClass(pct float64) string {
	switch {
	case pct >= 90:
		return "good"
	case pct >= 75:
		return "fair"
	default:
		return "poor"
	}
}
