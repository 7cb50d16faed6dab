package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "engine",
		Name:      "ingestions_total",
		Help:      "Document ingestions by result",
	}, []string{"result"})

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scriptorium",
		Subsystem: "engine",
		Name:      "ingestion_duration_seconds",
		Help:      "Duration of document ingestion",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "engine",
		Name:      "queries_total",
		Help:      "Queries by final state",
	}, []string{"state"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scriptorium",
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "Time from question to answer",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)
