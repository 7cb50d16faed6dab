package generate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	answersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "generate",
		Name:      "answers_total",
		Help:      "Answers by terminal query state",
	}, []string{"state"})

	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "generate",
		Name:      "fallbacks_total",
		Help:      "Calls handed to the fallback provider",
	})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scriptorium",
		Subsystem: "generate",
		Name:      "provider_call_duration_seconds",
		Help:      "Duration of language model calls",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"provider", "result"})
)
