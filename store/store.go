// Package store multiplexes many gcra cells behind a hash key. Two
// concrete implementations are provided: Sharded (the default, many
// independently-locked buckets) and Coarse (a single lock, for
// deterministic iteration and simpler embeddings). Sharded generalizes the
// teacher's unfinished sync/cmap.ConcurrentMap stub into a working
// sharded map of *cell.Cell.
package store

import (
	"errors"
	"fmt"
	"hash/maphash"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tatrate/gcra/cell"
	"github.com/tatrate/gcra/nanos"
	"github.com/tatrate/gcra/quota"
)

// ErrStoreCapacityExhausted is returned by Get when the store has a MaxKeys
// bound and creating a cell for a new key would exceed it.
var ErrStoreCapacityExhausted = errors.New("store: capacity exhausted")

// Store is the keyed-state abstraction a rate limiter multiplexes its
// checks through.
type Store[K comparable] interface {
	// Get returns the cell for k, creating it on first use. Two
	// concurrent first-uses of the same key must observe the same cell.
	Get(k K) (*cell.Cell, error)
	// Len reports the number of distinct keys currently held. For
	// Sharded this may be approximate under concurrent mutation, exact
	// at quiescence.
	Len() int
	// IsEmpty reports whether the store currently holds no keys.
	IsEmpty() bool
}

// Shrinkable is implemented by stores that support garbage-collecting idle
// keys. It is a capability predicate rather than a separate type
// hierarchy: type-assert a Store to Shrinkable to find out.
type Shrinkable[K comparable] interface {
	// RetainRecent removes every cell whose TAT is at or before
	// now-tau — fully replenished and idle — using q to compute tau.
	// Removal is safe against a concurrent Get on the same key: a
	// resurrected key begins with a fresh, empty cell, which is
	// semantically equivalent to never having been seen.
	RetainRecent(q quota.Quota, now nanos.Nanos) (removed int)
}

const defaultShardCount = 16

type shard[K comparable] struct {
	mu    sync.RWMutex
	cells map[K]*cell.Cell
	group singleflight.Group
}

// Sharded is a concurrent map from key to *cell.Cell split across a fixed
// number of shards, each guarded by its own sync.RWMutex — the sharded
// concurrent map the teacher's sync/cmap package sketched but never
// implemented (New/Add/Set/SetNX/Get were all empty bodies there).
// Lookups on existing keys only take a shard's read lock; first-use
// creation is deduplicated per-shard with singleflight so that two
// goroutines racing on the same new key end up sharing one cell.
//
// Routing a key to its shard requires a hash function; NewSharded takes
// one explicitly so that hashing stays allocation-free on the hot path
// (hash/maphash.String, the stdlib's allocation-free string hash, backs
// the common case via NewShardedString).
type Sharded[K comparable] struct {
	shards  []*shard[K]
	hash    func(K) uint64
	maxKeys int
}

// ShardedOption configures a Sharded store at construction.
type ShardedOption[K comparable] func(*Sharded[K])

// WithMaxKeys bounds the total number of distinct keys the store will
// track; once reached, Get on a new key returns ErrStoreCapacityExhausted.
// Zero (the default) means unbounded.
func WithMaxKeys[K comparable](n int) ShardedOption[K] {
	return func(s *Sharded[K]) {
		s.maxKeys = n
	}
}

// NewSharded returns a Sharded store with the given number of shards,
// routing keys to shards with hash. shards <= 0 defaults to 16.
func NewSharded[K comparable](shards int, hash func(K) uint64, opts ...ShardedOption[K]) *Sharded[K] {
	if shards <= 0 {
		shards = defaultShardCount
	}

	s := &Sharded[K]{
		shards: make([]*shard[K], shards),
		hash:   hash,
	}
	for i := range s.shards {
		s.shards[i] = &shard[K]{cells: make(map[K]*cell.Cell)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewShardedString returns a Sharded[string] store using the stdlib's
// allocation-free maphash.String as its routing hash — the default and
// most common case (keys are client IPs, API keys, user IDs, ...).
func NewShardedString(shards int, opts ...ShardedOption[string]) *Sharded[string] {
	seed := maphash.MakeSeed()
	return NewSharded(shards, func(k string) uint64 {
		return maphash.String(seed, k)
	}, opts...)
}

func (s *Sharded[K]) shardFor(k K) *shard[K] {
	return s.shards[s.hash(k)%uint64(len(s.shards))]
}

func (s *Sharded[K]) Get(k K) (*cell.Cell, error) {
	sh := s.shardFor(k)

	sh.mu.RLock()
	if c, ok := sh.cells[k]; ok {
		sh.mu.RUnlock()
		return c, nil
	}
	sh.mu.RUnlock()

	// Collapse concurrent first-use races onto a single winner.
	v, err, _ := sh.group.Do(fmt.Sprint(k), func() (any, error) {
		sh.mu.Lock()
		defer sh.mu.Unlock()

		if c, ok := sh.cells[k]; ok {
			return c, nil
		}

		if s.maxKeys > 0 && s.totalLen() >= s.maxKeys {
			return nil, ErrStoreCapacityExhausted
		}

		c := &cell.Cell{}
		sh.cells[k] = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cell.Cell), nil
}

func (s *Sharded[K]) totalLen() int {
	n := 0
	for _, sh := range s.shards {
		n += len(sh.cells)
	}
	return n
}

func (s *Sharded[K]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.cells)
		sh.mu.RUnlock()
	}
	return n
}

func (s *Sharded[K]) IsEmpty() bool {
	for _, sh := range s.shards {
		sh.mu.RLock()
		empty := len(sh.cells) == 0
		sh.mu.RUnlock()
		if !empty {
			return false
		}
	}
	return true
}

// RetainRecent implements Shrinkable.
func (s *Sharded[K]) RetainRecent(q quota.Quota, now nanos.Nanos) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, c := range sh.cells {
			if c.Idle(q, now) {
				delete(sh.cells, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Coarse is a single coarse-locked map from key to *cell.Cell. It trades
// the Sharded variant's throughput for deterministic iteration (Len and
// RetainRecent run under one lock, with no shard skew) and a simpler
// implementation suitable for constrained embeddings.
type Coarse[K comparable] struct {
	mu      sync.Mutex
	cells   map[K]*cell.Cell
	maxKeys int
}

// CoarseOption configures a Coarse store at construction.
type CoarseOption[K comparable] func(*Coarse[K])

// WithCoarseMaxKeys bounds the total number of distinct keys, mirroring
// WithMaxKeys for the Sharded variant.
func WithCoarseMaxKeys[K comparable](n int) CoarseOption[K] {
	return func(c *Coarse[K]) {
		c.maxKeys = n
	}
}

// NewCoarse returns an empty Coarse store.
func NewCoarse[K comparable](opts ...CoarseOption[K]) *Coarse[K] {
	c := &Coarse[K]{cells: make(map[K]*cell.Cell)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coarse[K]) Get(k K) (*cell.Cell, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cells[k]; ok {
		return v, nil
	}

	if c.maxKeys > 0 && len(c.cells) >= c.maxKeys {
		return nil, ErrStoreCapacityExhausted
	}

	v := &cell.Cell{}
	c.cells[k] = v
	return v, nil
}

func (c *Coarse[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cells)
}

func (c *Coarse[K]) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cells) == 0
}

// RetainRecent implements Shrinkable.
func (c *Coarse[K]) RetainRecent(q quota.Quota, now nanos.Nanos) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.cells {
		if v.Idle(q, now) {
			delete(c.cells, k)
			removed++
		}
	}
	return removed
}
