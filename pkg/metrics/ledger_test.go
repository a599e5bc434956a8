package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLedgerMetricsCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.ObserveOperation("reserve", OutcomeOK)
	m.ObserveOperation("reserve", OutcomeOK)
	m.ObserveOperation("reserve", OutcomeInsufficient)
	m.ObserveLockHeld("reserve", 3*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterWithLabels(mfs, "stockledger_stock_operations_total", map[string]string{"operation": "reserve", "outcome": OutcomeOK}); got != 2 {
		t.Fatalf("expected ok=2, got %f", got)
	}
	if got := counterWithLabels(mfs, "stockledger_stock_operations_total", map[string]string{"operation": "reserve", "outcome": OutcomeInsufficient}); got != 1 {
		t.Fatalf("expected insufficient=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "stockledger_stock_lock_held_seconds", "operation", "reserve"); err != nil {
		t.Fatalf("fetch lock held: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected lock held sum > 0, got %f", got)
	}
}

func TestReconciliationMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconciliationMetrics(reg)
	m.ObserveRun("completed", 4, 1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "stockledger_reconciliation_runs_total", "status", "completed"); err != nil || got != 1 {
		t.Fatalf("expected completed=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "stockledger_reconciliation_items_total", "result", "succeeded"); err != nil || got != 4 {
		t.Fatalf("expected succeeded=4, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "stockledger_reconciliation_items_total", "result", "failed"); err != nil || got != 1 {
		t.Fatalf("expected failed=1, got %f (%v)", got, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.ObserveOperation("reserve", OutcomeOK)
	ledger.ObserveLockHeld("reserve", time.Second)
	NewLedgerMetrics(nil).ObserveOperation("consume", OutcomeError)

	var recon *ReconciliationMetrics
	recon.ObserveRun("failed", 0, 0)
}

func counterWithLabels(mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return -1
	}
	for _, metric := range mf.GetMetric() {
		matched := true
		for k, v := range labels {
			if !matchesLabel(metric.GetLabel(), k, v) {
				matched = false
				break
			}
		}
		if matched {
			return metric.GetCounter().GetValue()
		}
	}
	return -1
}
