// Package metrics instruments gcra decisions. It is deliberately not a
// middleware (package middleware): middleware.Middleware must stay pure and
// side-effect-free, while a Collector's whole purpose is the side effect of
// counting. A Collector is attached to a limiter as a decorator that
// observes outcomes around, not inside, the cell's CAS loop.
//
// Grounded verbatim on sync/ratelimit/metrics.go's MetricsCollector /
// AtomicMetricsCollector / PrometheusMetricsCollector from the teacher,
// generalized from one rate-limiter flavor to any gcra.Decision.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tatrate/gcra/gcra"
)

// Collector observes rate-limiting outcomes.
type Collector interface {
	Observe(d gcra.Decision)
	Counts() Counts
}

// Counts is a point-in-time read of a Collector's counters.
type Counts struct {
	Total     int64
	Allowed   int64
	Denied    int64
	NeverFits int64
}

// AtomicCollector is the default, dependency-free collector: four
// atomic.Int64 counters, no external exporter.
type AtomicCollector struct {
	total     atomic.Int64
	allowed   atomic.Int64
	denied    atomic.Int64
	neverFits atomic.Int64
}

func (c *AtomicCollector) Observe(d gcra.Decision) {
	c.total.Add(1)
	switch d.Outcome {
	case gcra.OutcomePositive:
		c.allowed.Add(1)
	case gcra.OutcomeNegative:
		c.denied.Add(1)
	case gcra.OutcomeInsufficientCapacity:
		c.neverFits.Add(1)
	}
}

func (c *AtomicCollector) Counts() Counts {
	return Counts{
		Total:     c.total.Load(),
		Allowed:   c.allowed.Load(),
		Denied:    c.denied.Load(),
		NeverFits: c.neverFits.Load(),
	}
}

// PrometheusCollector wraps four prometheus.Counters, matching the
// teacher's PrometheusMetricsCollector field-for-field.
type PrometheusCollector struct {
	Total     prometheus.Counter
	Allowed   prometheus.Counter
	Denied    prometheus.Counter
	NeverFits prometheus.Counter
}

// NewPrometheusCollector builds four counters and, if reg is non-nil,
// registers them under the "gcra" namespace.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		Total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcra",
			Name:      "checks_total",
			Help:      "Total rate limit checks performed.",
		}),
		Allowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcra",
			Name:      "checks_allowed_total",
			Help:      "Checks that conformed immediately.",
		}),
		Denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcra",
			Name:      "checks_denied_total",
			Help:      "Checks that did not conform yet but could later.",
		}),
		NeverFits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcra",
			Name:      "checks_never_fits_total",
			Help:      "Checks whose weight can never conform.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.Total, c.Allowed, c.Denied, c.NeverFits)
	}

	return c
}

func (c *PrometheusCollector) Observe(d gcra.Decision) {
	c.Total.Inc()
	switch d.Outcome {
	case gcra.OutcomePositive:
		c.Allowed.Inc()
	case gcra.OutcomeNegative:
		c.Denied.Inc()
	case gcra.OutcomeInsufficientCapacity:
		c.NeverFits.Inc()
	}
}

// Counts always returns zeros: Prometheus metrics are scraped via the
// /metrics endpoint, not read back in-process, matching the teacher's
// PrometheusMetricsCollector.GetMetrics comment and behavior.
func (c *PrometheusCollector) Counts() Counts {
	return Counts{}
}
