// Package cell wraps the gcra kernel behind a single lock-free atomic word,
// giving a direct rate limiter's state cell. It never falls back to a
// mutex: a failed compare-and-swap just re-reads and recomputes, mirroring
// the single-packed-uint64, CAS-retry-loop design of iryndin-limitron's
// RateLimiter, generalized to the GCRA kernel instead of a token-bucket
// timestamp pack.
package cell

import (
	"sync/atomic"

	"github.com/tatrate/gcra/clock"
	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/quota"
)

// Cell is exactly one 64-bit atomic slot holding a GCRA theoretical arrival
// time. The zero value is a valid, never-used cell.
type Cell struct {
	tat atomic.Uint64
}

// Check runs the CAS loop for weight n against quota q using clk for the
// arrival instant. Negative and insufficient-capacity decisions never
// write; only a successful positive decision installs a new TAT, so a
// rejected request can never push its own retry time further out by being
// retried.
func (c *Cell) Check(q quota.Quota, clk clock.Clock, n int64) gcra.Decision {
	for {
		prev := nanos.Nanos(c.tat.Load())
		now := clk.Now()

		d := gcra.Decide(q, prev, now, n)

		switch d.Outcome {
		case gcra.OutcomeInsufficientCapacity, gcra.OutcomeNegative:
			return d
		case gcra.OutcomePositive:
			if c.tat.CompareAndSwap(uint64(prev), uint64(d.NewTAT)) {
				return d
			}
			// Lost the race to another contender; reload and retry.
		}
	}
}

// CheckAt runs the CAS loop as Check does, but against an explicit arrival
// instant instead of reading clk.Now(). Used by callers that already have
// "now" and want to avoid a second clock read.
func (c *Cell) CheckAt(q quota.Quota, now nanos.Nanos, n int64) gcra.Decision {
	for {
		prev := nanos.Nanos(c.tat.Load())
		d := gcra.Decide(q, prev, now, n)

		switch d.Outcome {
		case gcra.OutcomeInsufficientCapacity, gcra.OutcomeNegative:
			return d
		case gcra.OutcomePositive:
			if c.tat.CompareAndSwap(uint64(prev), uint64(d.NewTAT)) {
				return d
			}
		}
	}
}

// TAT returns the cell's current theoretical arrival time. Intended for
// diagnostics/tests, not the hot decision path.
func (c *Cell) TAT() nanos.Nanos {
	return nanos.Nanos(c.tat.Load())
}

// Idle reports whether the cell's TAT is at or before now-tau, i.e. fully
// replenished and indistinguishable from a never-used cell. Used by the
// keyed store's shrink/retain_recent operation.
func (c *Cell) Idle(q quota.Quota, now nanos.Nanos) bool {
	tat := nanos.Nanos(c.tat.Load())
	if tat == 0 {
		return true
	}
	return !tat.After(now.Sub(q.Tolerance()))
}
