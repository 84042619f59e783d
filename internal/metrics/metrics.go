// Package metrics holds the Prometheus metric definitions exposed on
// /metrics (§2.1, §4.11).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_signals_received_total",
		Help: "Signals received by the orchestrator, labeled by outcome.",
	}, []string{"outcome"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_orders_placed_total",
		Help: "Orders placed, labeled by role.",
	}, []string{"role"})

	OrderFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_order_fills_total",
		Help: "Order fills processed, labeled by role.",
	}, []string{"role"})

	BreakevenTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_breakeven_triggers_total",
		Help: "Breakeven stop moves triggered.",
	})

	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_reconciliation_runs_total",
		Help: "Reconciliation runs, labeled by mode and outcome.",
	}, []string{"mode", "outcome"})

	ReconciliationDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_reconciliation_degraded",
		Help: "1 if the last full sync timed out and proceeded on local state, else 0.",
	})

	BusPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_bus_publish_failures_total",
		Help: "Message bus publish failures, labeled by channel.",
	}, []string{"channel"})

	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_circuit_breaker_transitions_total",
		Help: "Sizing resolver circuit breaker state transitions.",
	}, []string{"from", "to"})

	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_event_queue_depth",
		Help: "Current depth of the orchestrator's internal serialized event queue.",
	})
)
