package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/metrics"
)

func TestAtomicCollector(t *testing.T) {
	c := &metrics.AtomicCollector{}

	c.Observe(gcra.Decision{Outcome: gcra.OutcomePositive})
	c.Observe(gcra.Decision{Outcome: gcra.OutcomeNegative})
	c.Observe(gcra.Decision{Outcome: gcra.OutcomeNegative})
	c.Observe(gcra.Decision{Outcome: gcra.OutcomeInsufficientCapacity})

	got := c.Counts()
	want := metrics.Counts{Total: 4, Allowed: 1, Denied: 2, NeverFits: 1}
	if got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
}

func TestPrometheusCollectorIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewPrometheusCollector(reg)

	c.Observe(gcra.Decision{Outcome: gcra.OutcomePositive})
	c.Observe(gcra.Decision{Outcome: gcra.OutcomeNegative})

	if got := testutilCounterValue(c.Total); got != 2 {
		t.Errorf("Total = %v, want 2", got)
	}
	if got := testutilCounterValue(c.Allowed); got != 1 {
		t.Errorf("Allowed = %v, want 1", got)
	}
	if got := testutilCounterValue(c.Denied); got != 1 {
		t.Errorf("Denied = %v, want 1", got)
	}
}

// testutilCounterValue avoids pulling in the separate
// prometheus/client_golang/prometheus/testutil module just for a scalar
// read in tests.
func testutilCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
