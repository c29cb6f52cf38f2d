/*
PURPOSE:
  Writes scaling analysis rows to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - CSV export of the scaling table for spreadsheet users.

  Implementation-discovered:
  - Overwrite semantics: a new export replaces the previous one wholesale.

ARCHITECTURE INTEGRATION:
  - Called by: internal/report
  - Consumes: internal/model.ScalingRow

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Use Mutex; callers may export from concurrent report jobs.

USAGE:
  w, err := output.NewScalingCSVWriter("scaling_report.csv")
  w.Write(row)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update header and record conversion together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update Write() mapping when ScalingRow changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/mlinfra/torchscale/internal/model"
)

// ScalingCSVWriter handles writing scaling rows to a CSV file.
type ScalingCSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewScalingCSVWriter creates a new ScalingCSVWriter.
// It overwrites the file if it exists.
func NewScalingCSVWriter(path string) (*ScalingCSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)

	header := []string{
		"model", "batch_size", "gpu_count",
		"avg_throughput", "ideal_throughput", "scaling_efficiency_pct",
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &ScalingCSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single scaling row to the CSV file.
// It is thread-safe.
func (cw *ScalingCSVWriter) Write(r model.ScalingRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		r.Model,
		strconv.Itoa(r.BatchSize),
		strconv.Itoa(r.GPUCount),
		fmt.Sprintf("%.2f", r.AvgThroughput),
		fmt.Sprintf("%.2f", r.IdealThroughput),
		fmt.Sprintf("%.1f", r.ScalingEfficiencyPct),
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *ScalingCSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
