package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// Scenario: a reader holding snapshot S keeps observing S while the
// writer mutates and commits; a fresh read sees the new snapshot.
func TestDual_MirrorIsolation(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{Capacity: 32}).(*dual[string, string])
	t.Cleanup(func() { _ = c.Close() })

	c.Set("k", "v1")
	c.Commit()
	held := c.mirror.Load() // a reader's in-flight snapshot

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("extra%d", i), "x")
	}
	c.Set("k", "v2")

	// Not yet committed: readers still observe v1.
	if v, ok := c.Get("k"); !ok || v != "v1" {
		t.Fatalf("pre-commit Get = %q ok=%v, want v1", v, ok)
	}

	c.Commit()
	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("post-commit Get = %q ok=%v, want v2", v, ok)
	}

	// The held snapshot is immutable: still one entry, still v1.
	if len(held.arena) != 1 || held.arena[0].val != "v1" {
		t.Fatalf("held snapshot mutated: %+v", held.arena)
	}
}

// Scenario: three reads with a drain after each move the key up by
// exactly one rank per cycle, never jumping to the top.
func TestDual_SignalDrivenViscousClimb(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 5}).(*dual[string, int])
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Commit()

	want := 4
	for cycle := 0; cycle < 3; cycle++ {
		if _, ok := c.Get("k4"); !ok {
			t.Fatalf("cycle %d: unexpected miss", cycle)
		}
		if n := c.DrainSignals(); n != 1 {
			t.Fatalf("cycle %d: drained %d signals, want 1", cycle, n)
		}
		want--
		if p, ok := c.main.lookup("k4"); !ok || p != want {
			t.Fatalf("cycle %d: k4 at %d (ok=%v), want %d", cycle, p, ok, want)
		}
	}
	if p, _ := c.main.lookup("k4"); p < 1 {
		t.Fatal("three reads promoted k4 all the way to the top")
	}
}

// The signal queue is bounded and lossy: overflow drops silently and
// never blocks the reader.
func TestDual_SignalQueueLossy(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 4, SignalBuffer: 2}).(*dual[string, int])
	t.Cleanup(func() { _ = c.Close() })

	c.Set("k", 1)
	c.Commit()

	for i := 0; i < 5; i++ {
		if _, ok := c.Get("k"); !ok {
			t.Fatal("unexpected miss")
		}
	}
	if s := c.Stats(); s.DroppedSignals != 3 {
		t.Fatalf("DroppedSignals = %d, want 3", s.DroppedSignals)
	}
	if n := c.DrainSignals(); n != 2 {
		t.Fatalf("drained %d, want the 2 buffered signals", n)
	}
	if n := c.DrainSignals(); n != 0 {
		t.Fatalf("second drain consumed %d signals from an empty queue", n)
	}
}

// An expired entry reads as a miss but its signal still demotes it on
// the next drain, orphaning the index entry.
func TestDual_ExpiredReadDemotesOnDrain(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var reasons []EvictReason
	c := New[string, int](Options[string, int]{
		Capacity: 4,
		Clock:    clk,
		OnEvict:  func(_ string, _ int, r EvictReason) { reasons = append(reasons, r) },
	}).(*dual[string, int])
	t.Cleanup(func() { _ = c.Close() })

	c.SetWithTTL("tmp", 1, 100*time.Millisecond)
	c.Set("b", 2)
	c.main.evictPoint = 0
	c.Commit()

	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("tmp"); ok {
		t.Fatal("expired entry served")
	}
	if n := c.DrainSignals(); n != 1 {
		t.Fatalf("drained %d, want 1", n)
	}
	if _, ok := c.main.lookup("tmp"); ok {
		t.Fatal("expired entry still reachable after drain")
	}
	if len(reasons) != 1 || reasons[0] != EvictTTL {
		t.Fatalf("OnEvict reasons = %v, want [EvictTTL]", reasons)
	}
	// The tombstone body is collected by the next sweep, not before.
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (tombstone still resident)", c.Len())
	}
	c.SweepExpired()
	if c.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1", c.Len())
	}
	// Demotion already reported; the sweep must not double-fire.
	if len(reasons) != 1 {
		t.Fatalf("sweep re-reported the demoted entry: %v", reasons)
	}
}

func TestDual_SweepExpiredRemovesLiveEntries(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var evicted []string
	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Clock:    clk,
		OnEvict: func(k string, _ int, r EvictReason) {
			if r != EvictTTL {
				t.Errorf("reason = %v, want EvictTTL", r)
			}
			evicted = append(evicted, k)
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.SetWithTTL("a", 1, 50*time.Millisecond)
	c.SetWithTTL("b", 2, 50*time.Millisecond)
	c.Set("keep", 3)

	clk.add(time.Second)
	c.SweepExpired()
	c.Commit()

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if len(evicted) != 2 {
		t.Fatalf("OnEvict fired for %v, want a and b", evicted)
	}
	if _, ok := c.Get("keep"); !ok {
		t.Fatal("survivor lost")
	}
}

func TestDual_MaintainMovesMembrane(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 10}).(*dual[string, int])
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.main.arena[0].counter = 10
	c.main.counterSum = 14
	c.main.evictPoint = 0

	c.Maintain()
	if ep := c.main.evictPoint; ep != 1 {
		t.Fatalf("strong boundary: evictPoint = %d, want 1", ep)
	}

	c.main.evictPoint = 4 // boundary counter 1 <= avg 2
	c.Maintain()
	if ep := c.main.evictPoint; ep != 3 {
		t.Fatalf("weak boundary: evictPoint = %d, want 3", ep)
	}
}

// The bundled maintenance loop drains, maintains, commits and stops
// when its context is cancelled.
func TestDual_ServeLifecycle(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		Capacity:      16,
		DrainInterval: time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	// A write becomes visible without an explicit Commit: the loop
	// publishes snapshots on its own cadence.
	c.Set("k", 42)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok := c.Get("k"); ok && v == 42 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("maintenance loop never committed the write")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

func TestDual_StatsCounters(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 4})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Commit()
	c.Get("a")   // hit
	c.Get("zzz") // miss

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Fatalf("Stats = %+v, want 1 hit / 1 miss", s)
	}
}
