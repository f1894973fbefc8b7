// Package quota describes an immutable replenishment rate and burst
// capacity for a GCRA rate limiter.
package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/tatrate/gcra/nanos"
)

// ErrInvalidQuota is wrapped by every construction-time validation failure.
var ErrInvalidQuota = errors.New("quota: invalid parameters")

// Quota is the immutable (t, burst) pair together with the derived delay
// variation tolerance tau = t * burst.
type Quota struct {
	t     nanos.Nanos
	burst int64
}

// Emission returns the emission interval t: nanoseconds between successive
// unit replenishments.
func (q Quota) Emission() nanos.Nanos {
	return q.t
}

// Burst returns the maximum burst size in units.
func (q Quota) Burst() int64 {
	return q.burst
}

// Tolerance returns tau, the delay variation tolerance: t * burst.
func (q Quota) Tolerance() nanos.Nanos {
	return q.t.Mul(q.burst)
}

// build constructs a Quota from an already-validated non-negative t
// (possibly 0, meaning "saturate to 1ns") and a burst.
func build(t time.Duration, burst int64) (Quota, error) {
	if burst < 1 {
		return Quota{}, fmt.Errorf("%w: burst must be >= 1, got %d", ErrInvalidQuota, burst)
	}

	tn := nanos.Nanos(t.Nanoseconds())
	if tn < 1 {
		// A caller asking for a rate of >= 1 per nanosecond saturates
		// the emission interval to 1ns instead of failing: every
		// check then conforms. This is the documented fix for the
		// historical bug in spec.md §3.
		tn = 1
	}

	tau := tn.Mul(burst)
	if tau == nanos.Max && tn != 0 && burst != 0 {
		// tau overflowed 64 bits.
		return Quota{}, fmt.Errorf("%w: tau = t*burst overflows 64 bits", ErrInvalidQuota)
	}

	return Quota{t: tn, burst: burst}, nil
}

// PerSecond returns a quota admitting n units per second, with burst = n.
func PerSecond(n int64) (Quota, error) {
	return withRate(n, time.Second)
}

// PerMinute returns a quota admitting n units per minute, with burst = n.
func PerMinute(n int64) (Quota, error) {
	return withRate(n, time.Minute)
}

// PerHour returns a quota admitting n units per hour, with burst = n.
func PerHour(n int64) (Quota, error) {
	return withRate(n, time.Hour)
}

func withRate(n int64, period time.Duration) (Quota, error) {
	if n < 1 {
		return Quota{}, fmt.Errorf("%w: rate must be >= 1, got %d", ErrInvalidQuota, n)
	}
	t := period / time.Duration(n)
	return build(t, n)
}

// WithPeriod returns a quota admitting one unit every p, burst = 1. Chain
// AllowBurst to raise the burst size.
func WithPeriod(p time.Duration) (Quota, error) {
	if p <= 0 {
		return Quota{}, fmt.Errorf("%w: period must be positive, got %s", ErrInvalidQuota, p)
	}
	return build(p, 1)
}

// AllowBurst returns a copy of q with its burst raised to b (tau grows
// accordingly); the emission interval t is unchanged.
func (q Quota) AllowBurst(b int64) (Quota, error) {
	return build(time.Duration(q.t), b)
}

// MustPerSecond is PerSecond, panicking on error. Intended for package-level
// var initialization in tests and examples, not for hot-path use.
func MustPerSecond(n int64) Quota {
	q, err := PerSecond(n)
	if err != nil {
		panic(err)
	}
	return q
}
