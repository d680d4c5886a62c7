// Package observability exposes Prometheus metrics for the coordinators and
// the ledger gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerCalls counts ledger gateway calls by method and outcome
	// (confirmed, insufficient_balance, unauthorized, timeout, unknown).
	LedgerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carboncred_ledger_calls_total",
		Help: "Ledger gateway calls by method and outcome",
	}, []string{"method", "outcome"})

	// Settlements counts settlement attempts by result
	// (settled, deficit, transient_error).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carboncred_settlements_total",
		Help: "Settlement attempts by result",
	}, []string{"result"})

	// EscrowTransitions counts escrow protocol phases by phase and outcome.
	EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carboncred_escrow_transitions_total",
		Help: "Escrow protocol transitions by phase and outcome",
	}, []string{"phase", "outcome"})
)

// ObserveLedgerCall records one gateway call outcome.
func ObserveLedgerCall(method, outcome string) {
	LedgerCalls.WithLabelValues(method, outcome).Inc()
}
