package middleware_test

import (
	"testing"
	"time"

	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/middleware"
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/quota"
)

func TestNoOpPassesThroughNegativeDecision(t *testing.T) {
	var m middleware.NoOp
	d := gcra.Decision{Outcome: gcra.OutcomeNegative, Wait: 100}

	if _, ok := any(m.Positive(gcra.Decision{})).(struct{}); !ok {
		t.Error("Positive() did not return struct{}{}")
	}
	if got := m.Negative(d); got != d {
		t.Errorf("Negative() = %+v, want %+v", got, d)
	}
}

func TestStateInformation(t *testing.T) {
	var m middleware.StateInformation
	q := quota.MustPerSecond(5)

	positive := gcra.Decision{
		Snapshot: gcra.Snapshot{Quota: q, RemainingBurst: 3},
	}
	state := m.Positive(positive)
	if state.Limit != 5 || state.Remaining != 3 {
		t.Errorf("Positive() = %+v, want Limit=5 Remaining=3", state)
	}

	negative := gcra.Decision{
		Wait:     nanos.Nanos(200 * time.Millisecond),
		Snapshot: gcra.Snapshot{Quota: q},
	}
	retry := m.Negative(negative)
	if retry.Limit != 5 || retry.RetryAfter != 200*time.Millisecond {
		t.Errorf("Negative() = %+v, want Limit=5 RetryAfter=200ms", retry)
	}
}

func TestMiddlewareIsPureGivenSameInput(t *testing.T) {
	var m middleware.StateInformation
	q := quota.MustPerSecond(5)
	d := gcra.Decision{Snapshot: gcra.Snapshot{Quota: q, RemainingBurst: 2}}

	a := m.Positive(d)
	b := m.Positive(d)
	if a != b {
		t.Errorf("middleware not pure: %+v != %+v for identical input", a, b)
	}
}
