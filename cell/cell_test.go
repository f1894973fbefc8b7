package cell_test

import (
	"sync"
	"testing"

	"github.com/tatrate/gcra/cell"
	"github.com/tatrate/gcra/clock"
	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/quota"
)

func TestCheckAdmitsUpToBurstThenRejects(t *testing.T) {
	q := quota.MustPerSecond(3)
	fc := clock.NewFake(0)
	c := &cell.Cell{}

	for i := 0; i < 3; i++ {
		d := c.Check(q, fc, 1)
		if d.Outcome != gcra.OutcomePositive {
			t.Fatalf("check %d: outcome = %v, want Positive", i, d.Outcome)
		}
	}

	d := c.Check(q, fc, 1)
	if d.Outcome != gcra.OutcomeNegative {
		t.Fatalf("4th check: outcome = %v, want Negative", d.Outcome)
	}
}

func TestRejectedCheckDoesNotAdvanceState(t *testing.T) {
	q := quota.MustPerSecond(1)
	fc := clock.NewFake(0)
	c := &cell.Cell{}

	c.Check(q, fc, 1) // consume the single burst slot

	before := c.TAT()
	c.Check(q, fc, 1) // rejected
	after := c.TAT()

	if before != after {
		t.Errorf("TAT changed on rejection: %d -> %d", before, after)
	}
}

func TestInsufficientCapacityNeverWrites(t *testing.T) {
	q := quota.MustPerSecond(3)
	fc := clock.NewFake(0)
	c := &cell.Cell{}

	before := c.TAT()
	d := c.Check(q, fc, q.Burst()+1)
	if d.Outcome != gcra.OutcomeInsufficientCapacity {
		t.Fatalf("outcome = %v, want InsufficientCapacity", d.Outcome)
	}
	if c.TAT() != before {
		t.Errorf("TAT changed on InsufficientCapacity: %d -> %d", before, c.TAT())
	}
}

func TestConcurrentCheckAdmitsExactlyBurst(t *testing.T) {
	q := quota.MustPerSecond(100)
	fc := clock.NewFake(0)
	c := &cell.Cell{}

	const n = 500
	var wg sync.WaitGroup
	var admitted int64
	var mu sync.Mutex

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if c.Check(q, fc, 1).Outcome == gcra.OutcomePositive {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != q.Burst() {
		t.Errorf("admitted = %d, want exactly burst = %d", admitted, q.Burst())
	}
}

func TestIdleAfterTauElapsed(t *testing.T) {
	q := quota.MustPerSecond(2)
	c := &cell.Cell{}

	if !c.Idle(q, 0) {
		t.Error("never-used cell should be idle")
	}

	c.CheckAt(q, 0, q.Burst())
	if c.Idle(q, 0) {
		t.Error("freshly exhausted cell should not be idle")
	}

	farFuture := c.TAT().Add(q.Tolerance())
	if !c.Idle(q, farFuture) {
		t.Error("cell should be idle once tau has fully elapsed past its TAT")
	}
}

func TestBurstBound(t *testing.T) {
	q := quota.MustPerSecond(5)
	c := &cell.Cell{}

	var admitted int64
	for i := int64(0); i < 1000; i++ {
		now := nanos.Nanos(i) // dense arrivals, far less than one emission interval apart
		if c.CheckAt(q, now, 1).Outcome == gcra.OutcomePositive {
			admitted++
		}
	}

	// Over any interval starting at an empty cell, admitted <= burst + floor(delta/t).
	delta := nanos.Nanos(999)
	bound := q.Burst() + int64(delta/q.Emission())
	if admitted > bound {
		t.Errorf("admitted = %d, want <= %d", admitted, bound)
	}
}
