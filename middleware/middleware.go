// Package middleware transforms a raw gcra.Decision into a caller-chosen
// payload. A Middleware must be pure and side-effect-free: it is handed the
// snapshot taken inside the cell's CAS loop and must not inspect wall time,
// perform I/O, or fail, so that a retried check always produces the same
// observable output for the same decision. The result shape mirrors
// sync/ratelimit/ratelimit.go's Result struct from the teacher.
package middleware

import (
	"time"

	"github.com/tatrate/gcra/gcra"
)

// Middleware transforms a positive decision into P and a negative decision
// into N. It is a generic interface whose payload types P and N are fixed
// at compile time: the kernel's output shape is fixed, but the wrapper
// payload is type-parametric.
type Middleware[P, N any] interface {
	Positive(gcra.Decision) P
	Negative(gcra.Decision) N
}

// NoOp discards the snapshot on positive decisions: Positive returns
// struct{}{}. Negative returns the raw Decision unchanged, snapshot
// included, for callers that want the wait/earliest-retry fields.
type NoOp struct{}

func (NoOp) Positive(gcra.Decision) struct{} { return struct{}{} }
func (NoOp) Negative(d gcra.Decision) gcra.Decision { return d }

// State is the StateInformation middleware's positive payload: remaining
// burst capacity and the quota that produced it.
type State struct {
	Limit     int64
	Remaining int64
}

// Retry is the StateInformation middleware's negative payload: how long
// until the request would conform.
type Retry struct {
	Limit      int64
	RetryAfter time.Duration
}

// StateInformation exposes remaining burst capacity and quota on positive
// decisions, and the retry-after duration on negative ones.
type StateInformation struct{}

func (StateInformation) Positive(d gcra.Decision) State {
	return State{
		Limit:     d.Snapshot.Quota.Burst(),
		Remaining: d.Snapshot.RemainingBurst,
	}
}

func (StateInformation) Negative(d gcra.Decision) Retry {
	return Retry{
		Limit:      d.Snapshot.Quota.Burst(),
		RetryAfter: time.Duration(d.Wait),
	}
}
