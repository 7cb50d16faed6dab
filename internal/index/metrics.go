package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "chunks",
		Help:      "Committed chunks in the library",
	})

	documentsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "documents",
		Help:      "Committed documents in the library",
	})

	vectorsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "vectors",
		Help:      "Vectors in the chromem collection, including uncommitted ones",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "search_duration_seconds",
		Help:      "Duration of vector searches in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	upsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "upsert_failures_total",
		Help:      "Documents rolled back during indexing",
	})

	recoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "recovered_documents_total",
		Help:      "Interrupted documents removed at startup",
	})

	quarantineOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "index",
		Name:      "quarantine_operations_total",
		Help:      "Corrupt chromem collections moved aside at startup",
	}, []string{"result"})
)
