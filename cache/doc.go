// Package cache provides a generic, concurrent in-memory key/value
// cache built around a ranked arena with a diffusion-style promotion
// and eviction discipline.
//
// # Design
//
//   - Storage: a single ordered arena ([]node) plus a key→position
//     index. Position 0 is the hottest rank; the tail is death row.
//     A dynamically adjusted membrane (the evict point) splits the
//     arena into a safe zone and an at-risk zone.
//
//   - Viscous climb: a hit promotes an entry by exactly one rank, no
//     matter how hot it is. Popularity is earned one access at a time,
//     which resists scan pollution without ghost queues.
//
//   - Gatsby insert: a newcomer lands just inside the at-risk zone
//     rather than at death row, buying a grace period in which further
//     hits can promote it into the safe zone.
//
//   - Cliff-edge eviction: when a full cache takes an insert,
//     everything at or past the membrane is truncated in one step.
//     Index entries for the discarded keys are left behind as lazy
//     tombstones; every lookup re-validates its slot, which is what
//     makes the truncation O(1).
//
//   - Membrane breathing: Maintain compares the boundary entry's
//     access counter against the arena mean. A strong boundary grows
//     the safe zone by a step; a weak one lets it shrink, exposing
//     weak entries to the next cliff.
//
//   - Dual copy: all mutations run single-writer under a mutex, while
//     readers observe an immutable snapshot swapped in atomically by
//     Commit. Reads never block writers; hits are reported back over a
//     bounded, lossy signal queue and applied by DrainSignals.
//
// # Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{Capacity: 10_000})
//	c.Set("a", []byte("1"))
//	c.Commit() // publish for readers
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//
// # Maintenance
//
// The cache never starts background work by itself. Either run the
// bundled loop:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go c.Serve(ctx)
//	defer cancel()
//
// or drive the primitives on your own cadence: DrainSignals, Maintain,
// Decay, SweepExpired, Commit.
//
// # With GetOrLoad (singleflight)
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Capacity: 1024,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        return "v:" + k, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// # Consistency model
//
// A Get after Commit(S) observes S or later. The promotion effect of a
// read becomes visible only after the writer drains the signal queue;
// when the queue is full, hits are dropped by design. Callers that
// need read-your-write semantics should Commit after writing.
package cache
