package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ocrd",
			Subsystem: "engine",
			Name:      "ready",
			Help:      "1 when the engine is initialized and accepting generations",
		},
	)

	engineInitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "engine",
			Name:      "init_duration_seconds",
			Help:      "Time spent constructing the engine",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Generations by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "engine",
			Name:      "generation_duration_seconds",
			Help:      "Duration of successful generations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	generationsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ocrd",
			Subsystem: "engine",
			Name:      "inflight_generations",
			Help:      "Generations currently holding the engine",
		},
	)
)

func init() {
	prometheus.MustRegister(engineReady, engineInitSeconds, generationsTotal, generationDuration, generationsInflight)
}

// Generation outcomes used as the outcome label.
const (
	outcomeOK       = "ok"
	outcomeNotReady = "not_ready"
	outcomeInvalid  = "invalid"
	outcomeBusy     = "busy"
	outcomeCanceled = "canceled"
	outcomeFailed   = "failed"
)
