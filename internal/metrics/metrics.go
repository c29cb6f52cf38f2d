/*
PURPOSE:
  Prometheus instrumentation for sweep execution. Long scaling studies run
  for hours; these series make progress and failure modes scrapeable.

REQUIREMENTS:
  User-specified:
  - Observability must never change benchmark behavior; recording is
    fire-and-forget.

  Implementation-discovered:
  - Run duration spans launch through classification; bucket boundaries
    follow typical per-run timeouts (seconds to minutes).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/sweep.go, internal/cli/benchmark.go
  - Uses: github.com/prometheus/client_golang

ERROR HANDLING:
  - N/A; collectors are registered at init and cannot fail afterwards.

IMPLEMENTATION RULES:
  - Label cardinality stays bounded: status and kind are closed enums,
    model names come from the user's config.

USAGE:
  metrics.RecordRun("completed", 12.7)
  srv := metrics.Serve(":9090")

SELF-HEALING INSTRUCTIONS:
  - If a scrape shows no series, confirm the CLI was started with
    --metrics-addr; the endpoint is opt-in.

RELATED FILES:
  - internal/engine/sweep.go

MAINTENANCE:
  - Add new series here, not inline in the engine.
*/

package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlinfra/torchscale/internal/output"
)

const namespace = "torchscale"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Benchmark runs by final status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a single benchmark run, launch through classification.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_in_flight",
		Help:      "Benchmark runs currently executing.",
	})

	bottlenecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "bottlenecks_total",
		Help:      "Bottlenecks flagged by the anomaly classifier, by kind.",
	}, []string{"kind"})

	scalingEfficiency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "scaling_efficiency_pct",
		Help:      "Observed scaling efficiency per matrix cell.",
	}, []string{"model", "batch_size", "gpu_count"})
)

// RecordRun counts a finished run and observes its duration.
func RecordRun(status string, seconds float64) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(seconds)
}

// RunStarted and RunFinished bracket in-flight accounting.
func RunStarted()  { runsInFlight.Inc() }
func RunFinished() { runsInFlight.Dec() }

// RecordBottleneck counts one classified bottleneck.
func RecordBottleneck(kind string) {
	bottlenecksTotal.WithLabelValues(kind).Inc()
}

// SetScalingEfficiency publishes a scaling table cell.
func SetScalingEfficiency(model string, batchSize, gpuCount int, pct float64) {
	scalingEfficiency.WithLabelValues(model, strconv.Itoa(batchSize), strconv.Itoa(gpuCount)).Set(pct)
}

// Serve exposes /metrics on addr in the background. Callers own shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		output.Logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			output.Logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

// Shutdown stops a Serve'd endpoint, bounded by a short grace period.
func Shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
