package extract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "extractions_total",
		Help:      "Completed extractions by outcome status.",
	}, []string{"status"})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "resolver",
		Name:      "extraction_duration_seconds",
		Help:      "Wall time of an extraction including settle wait.",
		Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 60, 120, 180},
	})

	harvestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "harvest_failures_total",
		Help:      "Harvest steps that degraded to an empty value.",
	}, []string{"field"})

	navigationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "navigation_errors_total",
		Help:      "Non-fatal navigation failures by code.",
	}, []string{"code"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolver",
		Name:      "sessions_active",
		Help:      "Browser sessions currently acquired.",
	})

	launchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "launch_failures_total",
		Help:      "Browser sessions that failed to start.",
	})
)
