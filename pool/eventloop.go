package pool

import (
	"github.com/dgryski/go-rendezvous"
)

// EventLoopGroup stands in for the cooperative, multi-event-loop
// runtime that spec §5 treats as ambient ("a cooperative event-driven
// runtime (multiple event loops, each single-threaded)"). It only hands
// out loop identities; it does not itself run anything — each loop is
// simply an integer id that Connections and Requests agree to use for
// affinity.
type EventLoopGroup struct {
	n    int
	hash *rendezvous.Rendezvous
}

// NewEventLoopGroup creates a group of n logical loops (n >= 1).
func NewEventLoopGroup(n int) *EventLoopGroup {
	if n < 1 {
		n = 1
	}
	nodes := make([]string, n)
	for i := range nodes {
		nodes[i] = loopNodeName(i)
	}
	return &EventLoopGroup{
		n:    n,
		hash: rendezvous.New(nodes, xxhashString),
	}
}

// Size returns the number of loops in the group.
func (g *EventLoopGroup) Size() int { return g.n }

// PreferredLoop picks a default loop for callers that have a routing
// key (e.g. a client or session identifier) but no specific loop
// pinned, using rendezvous hashing so the same key consistently maps to
// the same loop as the group membership is unchanged — useful for
// cache/connection locality without the caller having to track loop
// assignment itself.
func (g *EventLoopGroup) PreferredLoop(key string) LoopID {
	node := g.hash.Lookup(key)
	return parseLoopNodeName(node)
}

func loopNodeName(i int) string {
	return "loop-" + itoa(i)
}

func parseLoopNodeName(name string) LoopID {
	// names are always "loop-<n>" as produced by loopNodeName.
	n := 0
	for i := len("loop-"); i < len(name); i++ {
		n = n*10 + int(name[i]-'0')
	}
	return LoopID(n)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// xxhashString adapts a string hash into the uint64 signature
// go-rendezvous wants for its seed function.
func xxhashString(s string) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis, avoids a second import for a one-line hash
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
