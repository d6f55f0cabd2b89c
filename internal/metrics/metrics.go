// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_deliveries_total",
			Help: "Automation delivery outcomes by trigger.",
		},
		[]string{"trigger", "outcome"},
	)
	duplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_duplicates_suppressed_total",
			Help: "Ledger inserts rejected because the event was already recorded.",
		},
		[]string{"trigger"},
	)
	evaluation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_evaluation_seconds",
			Help:    "Time spent evaluating one rule for one tenant.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
	ticketTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ticket_transitions_total",
			Help: "Ticket transitions by target status.",
		},
		[]string{"to"},
	)
	liveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_ws_connections",
			Help: "Current number of dashboard websocket connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveries, duplicates, evaluation, ticketTransitions, liveClients)
}

func Delivery(trigger, outcome string) {
	deliveries.WithLabelValues(trigger, outcome).Inc()
}

func DuplicateSuppressed(trigger string) {
	duplicates.WithLabelValues(trigger).Inc()
}

// ObserveEvaluation records the time since start for trigger.
func ObserveEvaluation(trigger string, start time.Time) {
	evaluation.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
}

func TicketTransition(to string) {
	ticketTransitions.WithLabelValues(to).Inc()
}

func IncConnections() {
	liveClients.Inc()
}

func DecConnections() {
	liveClients.Dec()
}
