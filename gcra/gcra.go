// Package gcra implements the Generic Cell Rate Algorithm decision kernel:
// a pure function of (quota, prior state, arrival time, weight) producing a
// decision and the new state. It is the only place rate-limiting semantics
// live; everything else in this module is plumbing around it.
package gcra

import (
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/quota"
)

// Outcome distinguishes the two levels of a GCRA decision: a request that
// can never succeed regardless of wait, versus one that conforms now or
// will conform later.
type Outcome int

const (
	// OutcomePositive: the request conforms now.
	OutcomePositive Outcome = iota
	// OutcomeNegative: the request does not conform now, but will at
	// EarliestRetry.
	OutcomeNegative
	// OutcomeInsufficientCapacity: the request weight exceeds the
	// quota's burst; no wait will ever make it conform.
	OutcomeInsufficientCapacity
)

// Snapshot is a read-only observation derived from (quota, TAT, now): how
// much burst capacity remains and how long until the bucket is fully
// replenished.
type Snapshot struct {
	Quota              quota.Quota
	RemainingBurst     int64
	TimeToFullReplenish nanos.Nanos
}

// Decision is the kernel's output: an outcome plus the data relevant to
// that outcome. Only the fields relevant to Outcome are meaningful; e.g.
// EarliestRetry is zero for OutcomePositive.
type Decision struct {
	Outcome Outcome

	// Positive-only: the TAT the caller must CAS-install to accept this
	// decision.
	NewTAT nanos.Nanos

	// Negative-only.
	Wait          nanos.Nanos
	EarliestRetry nanos.Nanos

	// Set for both Positive and Negative.
	Snapshot Snapshot

	// InsufficientCapacity-only.
	Burst int64
}

// Decide runs the GCRA kernel for weight n arriving at instant now against
// quota q and prior state tatPrev (0 meaning "never used"). It is a pure
// function: the same inputs always produce the same output, and it never
// allocates beyond the returned Decision value.
//
// n must be >= 1; callers violate this precondition at their own risk (the
// core does not special-case it, matching spec.md §7's "no exceptions
// except on documented precondition violations").
func Decide(q quota.Quota, tatPrev nanos.Nanos, now nanos.Nanos, n int64) Decision {
	t := q.Emission()
	tau := q.Tolerance()
	burst := q.Burst()

	// 1. Over-capacity check: n*t > tau, equivalently n > burst.
	if n > burst {
		return Decision{
			Outcome: OutcomeInsufficientCapacity,
			Burst:   burst,
		}
	}

	// 2. Effective prior TAT: an unused or fully-drained cell is empty.
	tat0 := nanos.Max2(tatPrev, now)

	// 3. Candidate new TAT.
	tatNew := tat0.Add(t.Mul(n))

	// 4. Conformance test.
	earliest := tatNew.Sub(tau)
	if !earliest.After(now) {
		remaining := remainingBurst(tau, tatNew, now, t)
		return Decision{
			Outcome: OutcomePositive,
			NewTAT:  tatNew,
			Snapshot: Snapshot{
				Quota:               q,
				RemainingBurst:      remaining,
				TimeToFullReplenish: tatNew.Sub(now),
			},
		}
	}

	// 5. Non-conformance: exact retry-after.
	wait := earliest.Sub(now)
	remaining := remainingBurst(tau, tat0, now, t)
	return Decision{
		Outcome:       OutcomeNegative,
		Wait:          wait,
		EarliestRetry: earliest,
		Snapshot: Snapshot{
			Quota:               q,
			RemainingBurst:      remaining,
			TimeToFullReplenish: tat0.Sub(now),
		},
	}
}

// remainingBurst computes floor((tau - (tat - now)) / t), clamped to
// [0, burst]. Used for both the admitted-request snapshot (tat = new TAT)
// and the rejected-request snapshot (tat = effective prior TAT).
func remainingBurst(tau, tat, now, t nanos.Nanos) int64 {
	if t == 0 {
		return 0
	}
	used := tat.Sub(now)
	if used >= tau {
		return 0
	}
	free := tau.Sub(used)
	return int64(free / t)
}
