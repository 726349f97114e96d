// Package metrics exposes Prometheus instrumentation for the dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently connected sessions by device kind
	// ("logical" | "physical").
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roomctl_sessions_active",
		Help: "Number of currently connected device sessions",
	}, []string{"kind"})

	// AcceptorStatus reports the acceptor's cached tcp_server:status view (1=running, 0=stopped).
	AcceptorStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomctl_acceptor_status",
		Help: "Acceptor's cached tcp_server:status (1=running, 0=stopped)",
	})

	// CommandsDispatchedTotal counts envelopes written to a device socket.
	CommandsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomctl_commands_dispatched_total",
		Help: "Command envelopes dispatched to devices",
	}, []string{"kind"})

	// AcksTotal counts acknowledgments received, by resulting status.
	AcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomctl_acks_total",
		Help: "Acknowledgments received from devices",
	}, []string{"kind", "status"})

	// LedgerTransitionsTotal counts Execution Ledger state transitions.
	LedgerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomctl_ledger_transitions_total",
		Help: "Execution ledger transitions by resulting state",
	}, []string{"state"})

	// SessionTeardownsTotal counts session teardown events by cause.
	SessionTeardownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomctl_session_teardowns_total",
		Help: "Session teardowns by cause",
	}, []string{"cause"})

	// PhysicalCommandDuration measures bridge round-trip latency.
	PhysicalCommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomctl_physical_command_duration_seconds",
		Help:    "Direct-command bridge round-trip latency",
		Buckets: prometheus.DefBuckets,
	})

	// PhysicalCommandsTotal counts bridge outcomes.
	PhysicalCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomctl_physical_commands_total",
		Help: "Direct-command bridge invocations by outcome",
	}, []string{"outcome"})

	// HTTPRequestDuration measures the admin HTTP surface.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomctl_http_request_duration_seconds",
		Help:    "Admin HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
