package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Metered provider requests recorded against the daily cap",
	}, []string{"provider"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "provider",
		Name:      "tokens_total",
		Help:      "Tokens consumed per provider",
	}, []string{"provider"})

	capReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptorium",
		Subsystem: "provider",
		Name:      "daily_cap_reached_total",
		Help:      "Calls refused because a provider reached its daily cap",
	}, []string{"provider"})
)
