// Package metrics exposes greenlight's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeployRuns counts finished deployment runs by outcome.
	DeployRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenlight_deploy_runs_total",
		Help: "Finished deployment runs by outcome.",
	}, []string{"outcome"})

	// ActiveRun is 1 while a deployment run is in flight.
	ActiveRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenlight_deploy_run_active",
		Help: "Whether a deployment run is currently active.",
	})

	// ProbeAttempts counts individual health probe attempts by result.
	ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenlight_probe_attempts_total",
		Help: "Health probe attempts by result.",
	}, []string{"result"})

	// SwapDuration observes how long the traffic swap step takes.
	SwapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "greenlight_swap_duration_seconds",
		Help:    "Duration of the traffic swap step.",
		Buckets: prometheus.DefBuckets,
	})

	// PipelineEvents counts pipeline trigger events by disposition.
	PipelineEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenlight_pipeline_events_total",
		Help: "Pipeline trigger events by disposition.",
	}, []string{"disposition"})
)
