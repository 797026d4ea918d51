package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hianova/dualcache/internal/singleflight"
	"github.com/hianova/dualcache/internal/util"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// snapshot is an immutable arena+index copy published for lock-free
// reads. Its lifetime runs from one Commit to the next; readers still
// holding an older snapshot keep observing it safely until they drop
// their reference.
type snapshot[K comparable, V any] struct {
	arena []node[K, V]
	index map[K]int
}

// dual is the concurrency envelope around the ranked core: the
// authoritative state under a writer mutex, an atomically swapped
// mirror snapshot for readers, and a bounded lossy channel carrying
// observed hits back to the writer.
type dual[K comparable, V any] struct {
	mu   sync.Mutex
	main *ranked[K, V]

	mirror  atomic.Pointer[snapshot[K, V]]
	signals chan K

	closed atomic.Bool
	opt    Options[K, V]
	log    *zap.Logger

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
	drops  util.PaddedAtomicUint64
}

// New constructs a cache with the provided Options.
// The membrane starts at capacity: nothing is at risk until the arena
// fills and Maintain has had a chance to measure it.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("cache: Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.SignalBuffer <= 0 {
		opt.SignalBuffer = 1024
	}
	if opt.DrainInterval <= 0 {
		opt.DrainInterval = 50 * time.Millisecond
	}
	if opt.SweepInterval <= 0 {
		opt.SweepInterval = time.Second
	}

	c := &dual[K, V]{
		main:    newRanked[K, V](opt.Capacity),
		signals: make(chan K, opt.SignalBuffer),
		opt:     opt,
		log:     opt.Logger,
	}
	// Publish an empty snapshot so readers never observe nil.
	c.mirror.Store(&snapshot[K, V]{index: make(map[K]int)})
	return c
}

// ---- read path (lock-free) ----

// Get loads the current mirror snapshot and resolves k through its
// lazy index. A valid hit is reported to the writer with a try-send;
// when the queue is full the signal is dropped and the read stays
// non-blocking. An expired snapshot entry reads as a miss, but its
// signal is still sent so the next drain demotes it.
func (c *dual[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	snap := c.mirror.Load()
	i, ok := snap.index[k]
	if !ok || i >= len(snap.arena) || snap.arena[i].key != k {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}
	n := &snap.arena[i]

	select {
	case c.signals <- k:
	default:
		c.drops.Add(1)
		c.opt.Metrics.Dropped()
	}

	if n.expired(c.now()) {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}
	c.hits.Add(1)
	c.opt.Metrics.Hit()
	return n.val, true
}

// ---- write path (under mu) ----

// Add inserts k→v only if absent, using DefaultTTL if set.
// Returns false if the key already exists (no update is performed).
func (c *dual[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	exp := c.deadline(c.opt.DefaultTTL)
	c.mu.Lock()
	if _, ok := c.main.lookup(k); ok {
		c.mu.Unlock()
		return false
	}
	out := c.main.gatsbyInsert(k, v, exp)
	ep := c.main.evictPoint
	c.mu.Unlock()
	c.reportEvicted(out, EvictCapacity, ep)
	return true
}

// Set inserts or updates k→v, using DefaultTTL if set.
func (c *dual[K, V]) Set(k K, v V) {
	c.SetWithTTL(k, v, c.opt.DefaultTTL)
}

// SetWithTTL inserts or updates k→v with a per-key TTL.
// A non-positive ttl disables expiration for this entry.
func (c *dual[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	exp := c.deadline(ttl)
	c.mu.Lock()
	out := c.main.gatsbyInsert(k, v, exp)
	ep := c.main.evictPoint
	c.mu.Unlock()
	c.reportEvicted(out, EvictCapacity, ep)
}

// Update replaces the value in place; rank, counter and deadline are
// untouched. Returns false when k is absent or its index entry is stale.
func (c *dual[K, V]) Update(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	ok := c.main.updateValue(k, v)
	c.mu.Unlock()
	return ok
}

// Remove deletes k via a double-swap through the membrane gate.
// Explicit removal is not counted as an eviction.
func (c *dual[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	_, ok := c.main.doubleSwapDelete(k)
	c.mu.Unlock()
	return ok
}

// Len returns the number of resident arena entries.
func (c *dual[K, V]) Len() int {
	c.mu.Lock()
	n := len(c.main.arena)
	c.mu.Unlock()
	return n
}

// DrainSignals pops queued hit signals and applies a viscous climb for
// each. At most one queue capacity's worth is consumed per call, so a
// maintenance cycle does bounded work even under read pressure.
func (c *dual[K, V]) DrainSignals() int {
	if c.closed.Load() {
		return 0
	}
	now := c.now()
	budget := cap(c.signals)
	var demoted []node[K, V]
	n := 0

	c.mu.Lock()
loop:
	for n < budget {
		select {
		case k := <-c.signals:
			n++
			if d, res := c.main.viscousClimb(k, now); res == climbExpired {
				demoted = append(demoted, d)
			}
		default:
			break loop
		}
	}
	c.mu.Unlock()

	for i := range demoted {
		c.evicts.Add(1)
		c.opt.Metrics.Evict(EvictTTL)
		if cb := c.opt.OnEvict; cb != nil {
			cb(demoted[i].key, demoted[i].val, EvictTTL)
		}
	}
	if n > 0 {
		c.opt.Metrics.Drained(n)
	}
	return n
}

// Maintain runs one membrane adjustment and reports the new shape.
func (c *dual[K, V]) Maintain() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	c.main.updateEvictPoint()
	entries, ep := len(c.main.arena), c.main.evictPoint
	c.mu.Unlock()
	c.opt.Metrics.Size(entries, ep)
}

// Decay halves every access counter.
func (c *dual[K, V]) Decay() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	c.main.timeDecay()
	c.mu.Unlock()
}

// SweepExpired removes every entry past its deadline and compacts any
// tombstones it walks over.
func (c *dual[K, V]) SweepExpired() {
	if c.closed.Load() {
		return
	}
	now := c.now()
	c.mu.Lock()
	removed := c.main.cleanupExpired(now)
	c.mu.Unlock()

	live := 0
	for i := range removed {
		if !removed[i].live {
			continue // tombstone: reported when it was demoted
		}
		live++
		c.evicts.Add(1)
		c.opt.Metrics.Evict(EvictTTL)
		if cb := c.opt.OnEvict; cb != nil {
			cb(removed[i].node.key, removed[i].node.val, EvictTTL)
		}
	}
	if len(removed) > 0 {
		c.log.Debug("ttl sweep",
			zap.Int("expired", live),
			zap.Int("tombstones", len(removed)-live))
	}
}

// Commit deep-clones the writer state and atomically publishes it as
// the new mirror. The clone is the price of lock-free reads; values
// are shared handles, so only node metadata is duplicated.
func (c *dual[K, V]) Commit() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	snap := c.main.clone()
	c.mu.Unlock()
	c.mirror.Store(snap)
}

// Serve drives the maintenance loop the spec leaves to the host: drain
// signals, adjust the membrane and commit on the fast cadence; decay
// counters and sweep TTLs on the slow one. It blocks until ctx is
// cancelled and returns ctx.Err().
func (c *dual[K, V]) Serve(ctx context.Context) error {
	drain := time.NewTicker(c.opt.DrainInterval)
	defer drain.Stop()
	sweep := time.NewTicker(c.opt.SweepInterval)
	defer sweep.Stop()

	c.log.Info("maintenance loop started",
		zap.Duration("drain_interval", c.opt.DrainInterval),
		zap.Duration("sweep_interval", c.opt.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("maintenance loop stopped")
			return ctx.Err()
		case <-drain.C:
			c.DrainSignals()
			c.Maintain()
			c.Commit()
		case <-sweep.C:
			c.Decay()
			c.SweepExpired()
			c.Commit()
		}
	}
}

// GetOrLoad returns the value for k; on miss it loads via
// Options.Loader, coalescing concurrent loads for the same key. The
// loaded value is inserted and committed so subsequent reads hit the
// mirror directly.
func (c *dual[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	return c.sf.Do(ctx, k, func() (V, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err == nil {
			c.Set(k, v)
			c.Commit()
		}
		return v, err
	})
}

// Stats returns a point-in-time copy of the hot counters.
func (c *dual[K, V]) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evicts.Load(),
		DroppedSignals: c.drops.Load(),
	}
}

// Close marks the cache as closed. Afterwards Get misses and the
// write-side operations do nothing (Len and Stats still report, and
// GetOrLoad still calls the Loader without caching the result); a
// running Serve loop keeps ticking harmlessly until its ctx ends.
func (c *dual[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// ---- helpers ----

// reportEvicted fires metrics and the eviction callback for entries a
// cliff truncation discarded. Tombstones were reported when they became
// unreachable and are skipped here.
func (c *dual[K, V]) reportEvicted(out []evicted[K, V], reason EvictReason, evictPoint int) {
	if len(out) == 0 {
		return
	}
	live := 0
	for i := range out {
		if !out[i].live {
			continue
		}
		live++
		c.evicts.Add(1)
		c.opt.Metrics.Evict(reason)
		if cb := c.opt.OnEvict; cb != nil {
			cb(out[i].node.key, out[i].node.val, reason)
		}
	}
	c.log.Debug("cliff eviction",
		zap.Int("discarded", live),
		zap.Int("tombstones", len(out)-live),
		zap.Int("evict_point", evictPoint))
}

// now returns the current time in UnixNano, honouring Options.Clock.
func (c *dual[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// deadline converts a relative TTL into an absolute UnixNano deadline.
// A non-positive ttl returns 0 (no expiration).
func (c *dual[K, V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.now() + int64(ttl)
}
