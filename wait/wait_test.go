package wait_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/wait"
)

func TestTimeFrom(t *testing.T) {
	if got := wait.TimeFrom(100, 40); got != 60 {
		t.Errorf("TimeFrom(100, 40) = %d, want 60", got)
	}
	if got := wait.TimeFrom(40, 100); got != 0 {
		t.Errorf("TimeFrom(40, 100) = %d, want 0 (already past)", got)
	}
}

type fakeSleeper struct {
	slept []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.slept = append(f.slept, d)
	return nil
}

type scriptedChecker struct {
	decisions []gcra.Decision
	i         int
}

func (s *scriptedChecker) Check(n int64) gcra.Decision {
	d := s.decisions[s.i]
	if s.i < len(s.decisions)-1 {
		s.i++
	}
	return d
}

func TestSleepUntilReadyRetriesThenSucceeds(t *testing.T) {
	checker := &scriptedChecker{decisions: []gcra.Decision{
		{Outcome: gcra.OutcomeNegative, Wait: nanos.Nanos(50 * time.Millisecond)},
		{Outcome: gcra.OutcomePositive},
	}}
	sleeper := &fakeSleeper{}

	if err := wait.SleepUntilReady(context.Background(), checker, 1, sleeper); err != nil {
		t.Fatalf("SleepUntilReady() error = %v", err)
	}
	if len(sleeper.slept) != 1 || sleeper.slept[0] != 50*time.Millisecond {
		t.Errorf("slept = %v, want one 50ms sleep", sleeper.slept)
	}
}

func TestSleepUntilReadyInsufficientCapacity(t *testing.T) {
	checker := &scriptedChecker{decisions: []gcra.Decision{
		{Outcome: gcra.OutcomeInsufficientCapacity, Burst: 3},
	}}
	sleeper := &fakeSleeper{}

	err := wait.SleepUntilReady(context.Background(), checker, 10, sleeper)
	if !errors.Is(err, wait.ErrInsufficientCapacity) {
		t.Errorf("SleepUntilReady() error = %v, want ErrInsufficientCapacity", err)
	}
}

func TestSleepUntilReadyCancellation(t *testing.T) {
	checker := &scriptedChecker{decisions: []gcra.Decision{
		{Outcome: gcra.OutcomeNegative, Wait: nanos.Nanos(time.Hour)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := wait.SleepUntilReady(ctx, checker, 1, wait.RealSleeper{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SleepUntilReady() error = %v, want context.Canceled", err)
	}
}
