package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "searchcore_circuit_breaker_state",
			Help: "Current breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_circuit_breaker_requests_total",
			Help: "Requests admitted through the breaker by result",
		},
		[]string{"provider", "result"},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_circuit_breaker_rejections_total",
			Help: "Requests rejected while the breaker was open or saturated",
		},
		[]string{"provider"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"provider", "from_state", "to_state"},
	)
)

// Track exports b's state transitions as metrics.
func Track(b *Breaker) {
	name := b.Name()
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	b.OnTransition(func(from, to State) {
		breakerState.WithLabelValues(name).Set(float64(to))
		breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	})
}

func recordRequest(name string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerRequests.WithLabelValues(name, result).Inc()
}

func recordRejection(name string) {
	breakerRejections.WithLabelValues(name).Inc()
}
