package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity — discarded by a cliff-edge truncation at the membrane.
	EvictCapacity EvictReason = iota
	// EvictTTL — expired: removed by a sweep, or demoted to a tombstone
	// after a stale hit (the entry becomes unreachable at that moment).
	EvictTTL
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Drained reports how many hit signals a drain cycle applied.
	Drained(n int)
	// Dropped records a hit signal lost to a full queue.
	Dropped()
	// Size reports resident entries and the current membrane position.
	Size(entries, evictPoint int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache. Zero values are safe for every field
// except Capacity; sane defaults are applied in New():
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => zap.NewNop()
//   - SignalBuffer <= 0 => 1024
type Options[K comparable, V any] struct {
	// Capacity is the maximum number of live arena entries. Required;
	// New panics when it is not positive.
	Capacity int

	// SignalBuffer bounds the hit-signal queue between the lock-free
	// read path and the writer. When full, further hits are silently
	// dropped so reads never block.
	SignalBuffer int

	// DefaultTTL applies to Add/Set when no per-key TTL is provided
	// (0 = entries never expire).
	DefaultTTL time.Duration

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// OnEvict is called once per entry that leaves the cache through a
	// cliff eviction, a TTL sweep, or a stale-hit demotion. It runs
	// outside the writer lock; keep it lightweight anyway.
	OnEvict func(k K, v V, reason EvictReason)

	// Metrics receives Hit/Miss/Evict/Drained/Dropped/Size signals.
	Metrics Metrics

	// Clock overrides the time source (tests). Nil => time.Now().
	Clock Clock

	// Logger receives slow-path events only (cliff evictions, sweeps,
	// maintenance lifecycle); the hot path never logs.
	Logger *zap.Logger

	// DrainInterval is the Serve cadence for draining hit signals,
	// adjusting the membrane and committing a snapshot (default 50ms).
	DrainInterval time.Duration

	// SweepInterval is the Serve cadence for counter decay and the TTL
	// sweep (default 1s).
	SweepInterval time.Duration
}
