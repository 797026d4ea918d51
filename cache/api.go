package cache

import (
	"context"
	"time"
)

// Cache is a concurrent ranked-arena key/value cache.
//
// Reads are lock-free: they observe an immutable snapshot published by
// Commit and report their hits through a bounded, lossy signal queue.
// All mutations go through a single writer lock. The promotion and
// eviction effects of reads therefore become visible only after the
// writer drains the queue and commits — typically from the maintenance
// loop (Serve) or explicit DrainSignals/Commit calls.
type Cache[K comparable, V any] interface {
	// Get returns the value for k from the current snapshot and a
	// presence flag. On a valid hit, k is reported to the writer for
	// asynchronous promotion (dropped silently when the queue is full).
	// Entries past their deadline read as misses.
	Get(k K) (V, bool)

	// Add inserts k→v only if k is not live, using DefaultTTL (if any).
	// Returns false if the key already exists (no update is performed).
	Add(k K, v V) bool

	// Set inserts or updates k→v using DefaultTTL (if any). A new key
	// enters just inside the at-risk zone; inserting into a full cache
	// triggers a cliff-edge eviction at the membrane.
	Set(k K, v V)

	// SetWithTTL is Set with a per-key TTL (relative duration).
	// A non-positive ttl disables expiration for this entry.
	SetWithTTL(k K, v V, ttl time.Duration)

	// Update replaces the value in place: no counter, deadline or rank
	// change. Returns false when k is absent.
	Update(k K, v V) bool

	// Remove deletes k if present and returns true on success. Other
	// safe-zone entries keep their positions; when k itself sits in the
	// safe zone, its slot is refilled from the at-risk zone.
	Remove(k K) bool

	// Len returns the number of resident arena entries (tombstones
	// included until the next truncation or sweep collects them).
	Len() int

	// DrainSignals applies queued hit signals to the writer state and
	// returns the number consumed. Work is bounded by the queue
	// capacity per call.
	DrainSignals() int

	// Maintain runs one membrane adjustment.
	Maintain()

	// Decay halves every access counter.
	Decay()

	// SweepExpired removes every entry past its deadline.
	SweepExpired()

	// Commit publishes a snapshot of the writer state for readers. New
	// Gets observe it immediately; in-flight reads keep the snapshot
	// they loaded.
	Commit()

	// Serve runs the maintenance loop (drain → membrane → commit on
	// DrainInterval; decay → sweep → commit on SweepInterval) until ctx
	// is cancelled. The cache never starts this loop itself.
	Serve(ctx context.Context) error

	// GetOrLoad returns the value for k, loading it via Options.Loader
	// on miss. Concurrent loads for the same key are coalesced.
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Stats returns a point-in-time copy of the hot counters.
	Stats() Stats

	// Close marks the cache closed. Afterwards Get misses and the
	// write-side operations do nothing; Len and Stats still report, and
	// GetOrLoad still runs the Loader on the resulting miss without
	// caching its result.
	Close() error
}

// Stats is an immutable copy of the cache's hot counters.
type Stats struct {
	Hits           int64
	Misses         int64
	Evictions      uint64
	DroppedSignals uint64
}
