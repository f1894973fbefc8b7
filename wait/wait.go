// Package wait implements the negative-decision waiting contract: given a
// "not yet" decision, compute the earliest retry instant and, optionally,
// suspend until then.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/nanos"
)

// ErrInsufficientCapacity is returned by SleepUntilReady when the request
// weight can never conform, regardless of wait.
var ErrInsufficientCapacity = errors.New("wait: request can never conform")

// TimeFrom returns max(0, earliestRetry-now), the duration a caller should
// wait before retrying an identical check.
func TimeFrom(earliestRetry, now nanos.Nanos) nanos.Nanos {
	if earliestRetry.Before(now) {
		return nanos.Zero
	}
	return earliestRetry.Sub(now)
}

// Sleeper abstracts the suspension point used by SleepUntilReady: a thread
// sleep in a blocking context, a timer suspension point in a
// cooperative-scheduling one. It must be cancellable via ctx.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on a real timer, respecting context cancellation.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Checker is the minimal surface SleepUntilReady needs from a rate
// limiter: run one decision for weight n.
type Checker interface {
	Check(n int64) gcra.Decision
}

// SleepUntilReady repeatedly checks limiter for weight n. On Positive it
// returns nil. On InsufficientCapacity it returns ErrInsufficientCapacity
// immediately. On Negative it suspends via sleeper for the computed wait
// duration, then retries. A cancelled sleep returns its error; because a
// rejected check never advances cell state, cancellation is a clean no-op.
func SleepUntilReady(ctx context.Context, limiter Checker, n int64, sleeper Sleeper) error {
	for {
		d := limiter.Check(n)

		switch d.Outcome {
		case gcra.OutcomePositive:
			return nil
		case gcra.OutcomeInsufficientCapacity:
			return ErrInsufficientCapacity
		case gcra.OutcomeNegative:
			if err := sleeper.Sleep(ctx, time.Duration(d.Wait)); err != nil {
				return err
			}
		}
	}
}
