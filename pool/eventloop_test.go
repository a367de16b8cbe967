package pool

import "testing"

func TestEventLoopGroupPreferredLoopIsStable(t *testing.T) {
	g := NewEventLoopGroup(4)
	key := "session-123"

	first := g.PreferredLoop(key)
	for i := 0; i < 20; i++ {
		if got := g.PreferredLoop(key); got != first {
			t.Fatalf("expected PreferredLoop(%q) to be stable, got %v then %v", key, first, got)
		}
	}
	if first < 0 || int(first) >= g.Size() {
		t.Fatalf("expected loop id within [0, %d), got %d", g.Size(), first)
	}
}

func TestEventLoopGroupDistributesAcrossLoops(t *testing.T) {
	g := NewEventLoopGroup(8)
	seen := make(map[LoopID]bool)
	for i := 0; i < 200; i++ {
		key := loopNodeName(i) // reuse as an arbitrary distinct string per iteration
		seen[g.PreferredLoop(key)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected rendezvous hashing to spread keys across more than one loop, saw %d distinct loops", len(seen))
	}
}

func TestEventLoopGroupClampsNonPositiveSize(t *testing.T) {
	g := NewEventLoopGroup(0)
	if g.Size() != 1 {
		t.Fatalf("expected size to clamp to 1, got %d", g.Size())
	}
}

func TestLoopNodeNameRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 42} {
		name := loopNodeName(n)
		if got := parseLoopNodeName(name); got != LoopID(n) {
			t.Fatalf("round trip failed for %d: got %v", n, got)
		}
	}
}
