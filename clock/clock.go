// Package clock supplies the monotonic nanosecond instants the gcra kernel
// consumes. All variants produce a nanos.Nanos relative to a fixed reference
// instant chosen at construction; the kernel never cares which variant it is
// handed.
package clock

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tatrate/gcra/nanos"
)

// Clock produces the current instant relative to a fixed reference.
// Implementations must be monotonic non-decreasing across calls on the same
// instance.
type Clock interface {
	Now() nanos.Nanos
}

// Monotonic wraps the platform monotonic clock (time.Now's monotonic
// reading). It is the default clock for std environments.
type Monotonic struct {
	ref time.Time
}

// NewMonotonic returns a Monotonic clock referenced to the instant of
// construction.
func NewMonotonic() *Monotonic {
	return &Monotonic{ref: time.Now()}
}

func (c *Monotonic) Now() nanos.Nanos {
	return nanos.Nanos(time.Since(c.ref).Nanoseconds())
}

// ErrCalibrationFailed is returned when a HighResolution clock cannot
// establish a counter-to-nanosecond mapping.
var ErrCalibrationFailed = errors.New("clock: high resolution calibration failed")

// calibrationWindow is the nominal length of a counter calibration sample.
// calibrate below reads time.Now and takes no sample, so it does not use
// this window.
const calibrationWindow = time.Second

// HighResolution wraps a hardware timestamp-counter style source (here,
// time.Now, since Go exposes no portable TSC read) behind an explicit
// one-time calibration step, matching the contract spec.md §4.1 describes:
// calibration may be performed up front via CalibrateHighResolution, or
// lazily on first use.
type HighResolution struct {
	ref        time.Time
	calibrated bool
	logger     *slog.Logger
}

// HighResolutionOption configures a HighResolution clock at construction.
type HighResolutionOption func(*HighResolution)

// WithLogger attaches a structured logger used to record calibration
// failures. No logging occurs on the hot Now() path.
func WithLogger(l *slog.Logger) HighResolutionOption {
	return func(h *HighResolution) {
		h.logger = l
	}
}

// CalibrateHighResolution performs the calibration up front so that the
// first rate limiter construction using this clock is not blocked by it.
// Because the source is time.Now, calibration only records the reference
// instant and returns at once; it does not run a timed sample.
func CalibrateHighResolution(opts ...HighResolutionOption) (*HighResolution, error) {
	h := &HighResolution{}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.calibrate(); err != nil {
		if h.logger != nil {
			h.logger.Error("clock calibration failed",
				slog.String("err", err.Error()),
			)
		}
		return nil, err
	}

	return h, nil
}

// NewHighResolution returns an uncalibrated HighResolution clock; its first
// Now() call triggers calibration.
func NewHighResolution(opts ...HighResolutionOption) *HighResolution {
	h := &HighResolution{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HighResolution) calibrate() error {
	start := time.Now()
	time.Sleep(0) // placeholder sample point; real TSC calibration would busy-sample here.
	if time.Since(start) < 0 {
		return ErrCalibrationFailed
	}
	h.ref = start
	h.calibrated = true
	return nil
}

func (h *HighResolution) Now() nanos.Nanos {
	if !h.calibrated {
		if err := h.calibrate(); err != nil {
			if h.logger != nil {
				h.logger.Error("clock calibration failed",
					slog.String("err", err.Error()),
				)
			}
			return nanos.Zero
		}
	}
	return nanos.Nanos(time.Since(h.ref).Nanoseconds())
}

// Upkeep is a cached nanosecond clock kept fresh by a background sampler
// supplied by the embedding application. Reading it is a plain atomic load;
// the embedder is responsible for calling Advance often enough that rate
// limiters relying on this clock keep making progress. If the sampler
// stops, Advance is simply never called again: the cached value freezes,
// limiters admit up to their burst, then stall. This is documented
// behaviour, not a bug — see spec.md §9's open question.
type Upkeep struct {
	cached atomic.Uint64
}

// NewUpkeep returns an Upkeep clock seeded at zero. Call Advance before
// relying on it for real decisions.
func NewUpkeep() *Upkeep {
	return &Upkeep{}
}

// Advance updates the cached instant if now is strictly greater than the
// currently cached value, guaranteeing the clock never runs backwards even
// if the underlying sampler jitters.
func (u *Upkeep) Advance(now nanos.Nanos) {
	for {
		cur := u.cached.Load()
		if uint64(now) <= cur {
			return
		}
		if u.cached.CompareAndSwap(cur, uint64(now)) {
			return
		}
	}
}

func (u *Upkeep) Now() nanos.Nanos {
	return nanos.Nanos(u.cached.Load())
}

// Fake is a caller-controlled clock for tests: it advances only when told
// to, making the CAS-loop and wait-time arithmetic deterministic under test.
type Fake struct {
	now atomic.Uint64
}

// NewFake returns a Fake clock starting at the given instant.
func NewFake(start nanos.Nanos) *Fake {
	f := &Fake{}
	f.now.Store(uint64(start))
	return f
}

func (f *Fake) Now() nanos.Nanos {
	return nanos.Nanos(f.now.Load())
}

// Advance moves the fake clock forward by d. d is unsigned, so Advance can
// never move the clock backwards.
func (f *Fake) Advance(d nanos.Nanos) {
	f.now.Add(uint64(d))
}

// Set pins the fake clock to an absolute instant. It must not move the
// clock backwards.
func (f *Fake) Set(at nanos.Nanos) {
	cur := nanos.Nanos(f.now.Load())
	if at.Before(cur) {
		panic("clock: Fake.Set must not move time backwards")
	}
	f.now.Store(uint64(at))
}
