package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger operation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeError        = "error"
)

// LedgerMetrics counts stock ledger mutations and how long the keyed lock was
// held for each.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	lockHeld   *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_operations_total",
		Help:      "Stock ledger operations by kind and outcome.",
	}, []string{"operation", "outcome"})
	lockHeld := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stock_lock_held_seconds",
		Help:      "Time a product/location lock was held.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})
	reg.MustRegister(operations, lockHeld)
	return &LedgerMetrics{operations: operations, lockHeld: lockHeld}
}

// ObserveOperation counts one finished operation.
func (m *LedgerMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveLockHeld records how long the per-key lock was held.
func (m *LedgerMetrics) ObserveLockHeld(operation string, held time.Duration) {
	if m == nil || m.lockHeld == nil {
		return
	}
	m.lockHeld.WithLabelValues(normalizeLabel(operation)).Observe(held.Seconds())
}

// ReconciliationMetrics tracks batch runs and their items.
type ReconciliationMetrics struct {
	runs  *prometheus.CounterVec
	items *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation metrics on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_runs_total",
		Help:      "Reconciliation runs by final status.",
	}, []string{"status"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_items_total",
		Help:      "Reconciled items by result.",
	}, []string{"result"})
	reg.MustRegister(runs, items)
	return &ReconciliationMetrics{runs: runs, items: items}
}

// ObserveRun records the final status and per-item counts of one run.
func (m *ReconciliationMetrics) ObserveRun(status string, succeeded, failed int) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(status)).Inc()
	m.items.WithLabelValues("succeeded").Add(float64(succeeded))
	m.items.WithLabelValues("failed").Add(float64(failed))
}
