// Package gcrarate wires the quota, clock, cell/store, and middleware
// components into the two caller-facing limiter shapes: Direct (one cell
// for the whole instance) and Keyed (one cell per distinct key). The
// composition style — New(...) taking already-built collaborators —
// mirrors sync/ratelimit/ratelimit.go's New(throttler, regulator) in the
// teacher.
package gcrarate

import (
	"fmt"
	"log/slog"

	"github.com/tatrate/gcra/cell"
	"github.com/tatrate/gcra/clock"
	"github.com/tatrate/gcra/gcra"
	"github.com/tatrate/gcra/metrics"
	"github.com/tatrate/gcra/middleware"
	"github.com/tatrate/gcra/quota"
	"github.com/tatrate/gcra/store"
	"github.com/tatrate/gcra/wait"
)

// Result is the outer sum type spec.md §6 calls a hard compatibility
// contract: callers must be able to distinguish "too large to ever fit"
// from "did not fit right now".
type Result struct {
	// Succeeded is true for both Positive and Negative outcomes; false
	// only for CannotEverSucceed.
	Succeeded bool

	// CannotEverSucceed-only.
	BurstSize int64

	// Succeeded-only: the inner Positive/Negative split.
	Conformed bool

	// Payload is the middleware-transformed inner value: the P return of
	// Middleware.Positive when Conformed, the N return of
	// Middleware.Negative otherwise. Unset (nil) for CannotEverSucceed,
	// since middleware only wraps the inner Positive/Negative split.
	// Callers type-assert it to the concrete payload type their chosen
	// middleware produces.
	Payload any

	Decision gcra.Decision
}

// middlewareFunc type-erases a middleware.Middleware[P, N] so that the
// non-generic Direct and Keyed[K] limiters can hold one without themselves
// being parameterized over P and N.
type middlewareFunc func(gcra.Decision) any

func wrapMiddleware[P, N any](m middleware.Middleware[P, N]) middlewareFunc {
	return func(d gcra.Decision) any {
		if d.Outcome == gcra.OutcomePositive {
			return m.Positive(d)
		}
		return m.Negative(d)
	}
}

func defaultMiddleware() middlewareFunc {
	return wrapMiddleware[struct{}, gcra.Decision](middleware.NoOp{})
}

func toResult(d gcra.Decision, mw middlewareFunc) Result {
	switch d.Outcome {
	case gcra.OutcomeInsufficientCapacity:
		return Result{Succeeded: false, BurstSize: d.Burst, Decision: d}
	case gcra.OutcomePositive:
		return Result{Succeeded: true, Conformed: true, Payload: mw(d), Decision: d}
	default: // OutcomeNegative
		return Result{Succeeded: true, Conformed: false, Payload: mw(d), Decision: d}
	}
}

// options collects the shared construction options for Direct and Keyed
// limiters.
type options struct {
	clock      clock.Clock
	logger     *slog.Logger
	middleware middlewareFunc
}

// Option configures a Direct or Keyed limiter at construction.
type Option func(*options)

// WithClock selects the clock variant. Defaults to a fresh Monotonic clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger attaches a structured logger used only for construction-time
// errors (a failed clock calibration in NewDirectCalibrated); never on the
// hot path. Quota errors are returned by package quota and not logged here.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware attaches the decision transformer applied to every
// Check/CheckN result before it is returned. Defaults to middleware.NoOp.
// Go cannot infer P and N from a concrete middleware value, so callers
// instantiate explicitly: gcrarate.WithMiddleware[middleware.State,
// middleware.Retry](middleware.StateInformation{}).
func WithMiddleware[P, N any](m middleware.Middleware[P, N]) Option {
	return func(o *options) { o.middleware = wrapMiddleware(m) }
}

func newOptions(opts []Option) *options {
	o := &options{clock: clock.NewMonotonic(), middleware: defaultMiddleware()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func logConstructionError(o *options, err error) {
	if o.logger != nil && err != nil {
		o.logger.Error("gcra: construction failed", slog.String("err", err.Error()))
	}
}

// Direct is a single-cell rate limiter: exactly one GCRA state for the
// whole instance, owned exclusively by it.
type Direct struct {
	q          quota.Quota
	clk        clock.Clock
	cell       cell.Cell
	metrics    metrics.Collector
	middleware middlewareFunc
}

// NewDirect builds a Direct limiter for quota q.
func NewDirect(q quota.Quota, opts ...Option) *Direct {
	o := newOptions(opts)
	return &Direct{q: q, clk: o.clock, middleware: o.middleware}
}

// NewDirectCalibrated builds a Direct limiter backed by a freshly
// calibrated HighResolution clock, performing the calibration during
// construction rather than on the first Check call. If calibration
// fails, the error is logged (if WithLogger was supplied) and returned;
// no limiter is constructed.
func NewDirectCalibrated(q quota.Quota, opts ...Option) (*Direct, error) {
	o := newOptions(opts)

	hrOpts := []clock.HighResolutionOption{}
	if o.logger != nil {
		hrOpts = append(hrOpts, clock.WithLogger(o.logger))
	}

	hr, err := clock.CalibrateHighResolution(hrOpts...)
	if err != nil {
		// clock.CalibrateHighResolution already logged via o.logger
		// if one was supplied; nothing further to do here.
		return nil, err
	}

	return &Direct{q: q, clk: hr, middleware: o.middleware}, nil
}

// Observe attaches a metrics collector; every subsequent Check is recorded
// around (not inside) the CAS loop.
func (d *Direct) Observe(c metrics.Collector) {
	d.metrics = c
}

// Check runs the GCRA kernel for weight 1.
func (d *Direct) Check() Result {
	return d.CheckN(1)
}

// CheckN runs the GCRA kernel for weight n against the clock's current
// instant.
func (d *Direct) CheckN(n int64) Result {
	decision := d.cell.Check(d.q, d.clk, n)
	if d.metrics != nil {
		d.metrics.Observe(decision)
	}
	return toResult(decision, d.middleware)
}

// Quota returns the quota this limiter enforces.
func (d *Direct) Quota() quota.Quota {
	return d.q
}

// directChecker adapts Direct to wait.Checker for SleepUntilReady.
type directChecker struct {
	d *Direct
}

func (c directChecker) Check(n int64) gcra.Decision {
	return c.d.CheckN(n).Decision
}

// AsChecker exposes the minimal surface package wait needs to drive
// SleepUntilReady against this limiter.
func (d *Direct) AsChecker() wait.Checker {
	return directChecker{d: d}
}

// Keyed is a rate limiter that keeps an independent GCRA state per
// distinct key, backed by a store.Store.
type Keyed[K comparable] struct {
	q          quota.Quota
	clk        clock.Clock
	store      store.Store[K]
	metrics    metrics.Collector
	middleware middlewareFunc
}

// KeyedOption configures a Keyed limiter; it extends Option with the
// store selection, which only makes sense for keyed limiters.
type KeyedOption[K comparable] func(*keyedOptions[K])

type keyedOptions[K comparable] struct {
	options
	store store.Store[K]
}

// WithKeyedClock selects the clock variant for a Keyed limiter.
func WithKeyedClock[K comparable](c clock.Clock) KeyedOption[K] {
	return func(o *keyedOptions[K]) { o.clock = c }
}

// WithKeyedLogger attaches a construction-error logger for a Keyed limiter.
func WithKeyedLogger[K comparable](l *slog.Logger) KeyedOption[K] {
	return func(o *keyedOptions[K]) { o.logger = l }
}

// WithStore chooses the backing store. Defaults to a 16-shard Sharded
// store for string keys via NewKeyedString; non-string key types must
// supply a store explicitly.
func WithStore[K comparable](s store.Store[K]) KeyedOption[K] {
	return func(o *keyedOptions[K]) { o.store = s }
}

// WithKeyedMiddleware attaches the decision transformer applied to every
// CheckKey/CheckKeyN result, mirroring WithMiddleware for Keyed limiters.
// Defaults to middleware.NoOp.
func WithKeyedMiddleware[K comparable, P, N any](m middleware.Middleware[P, N]) KeyedOption[K] {
	return func(o *keyedOptions[K]) { o.middleware = wrapMiddleware(m) }
}

// NewKeyed builds a Keyed[K] limiter for quota q. A store must be supplied
// via WithStore for every key type, string included; without one NewKeyed
// returns an error. NewKeyedString supplies a default store for string keys.
func NewKeyed[K comparable](q quota.Quota, opts ...KeyedOption[K]) (*Keyed[K], error) {
	o := &keyedOptions[K]{options: options{clock: clock.NewMonotonic(), middleware: defaultMiddleware()}}
	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		err := fmt.Errorf("gcrarate: NewKeyed requires WithStore for key type %T", *new(K))
		logConstructionError(&o.options, err)
		return nil, err
	}

	return &Keyed[K]{q: q, clk: o.clock, store: o.store, middleware: o.middleware}, nil
}

// NewKeyedString builds a Keyed[string] limiter with a default 16-shard
// Sharded store, the common case (client IP, API key, user ID keys).
func NewKeyedString(q quota.Quota, opts ...KeyedOption[string]) *Keyed[string] {
	o := &keyedOptions[string]{options: options{clock: clock.NewMonotonic(), middleware: defaultMiddleware()}}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = store.NewShardedString(16)
	}
	return &Keyed[string]{q: q, clk: o.clock, store: o.store, middleware: o.middleware}
}

// Observe attaches a metrics collector to all subsequent CheckKey calls.
func (k *Keyed[K]) Observe(c metrics.Collector) {
	k.metrics = c
}

// CheckKey runs the GCRA kernel for weight 1 against key's cell, creating
// it on first use.
func (k *Keyed[K]) CheckKey(key K) (Result, error) {
	return k.CheckKeyN(key, 1)
}

// CheckKeyN runs the GCRA kernel for weight n against key's cell.
func (k *Keyed[K]) CheckKeyN(key K, n int64) (Result, error) {
	c, err := k.store.Get(key)
	if err != nil {
		return Result{}, err
	}

	decision := c.Check(k.q, k.clk, n)
	if k.metrics != nil {
		k.metrics.Observe(decision)
	}
	return toResult(decision, k.middleware), nil
}

// Len reports the number of distinct keys currently tracked.
func (k *Keyed[K]) Len() int {
	return k.store.Len()
}

// IsEmpty reports whether no keys are currently tracked.
func (k *Keyed[K]) IsEmpty() bool {
	return k.store.IsEmpty()
}

// RetainRecent garbage-collects idle keys, if the backing store supports
// it (see store.Shrinkable). It returns 0, false if the store does not
// support shrinking.
func (k *Keyed[K]) RetainRecent() (removed int, supported bool) {
	s, ok := k.store.(store.Shrinkable[K])
	if !ok {
		return 0, false
	}
	return s.RetainRecent(k.q, k.clk.Now()), true
}

// Quota returns the quota this limiter enforces.
func (k *Keyed[K]) Quota() quota.Quota {
	return k.q
}
