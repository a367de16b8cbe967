package pool

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestManagerCreatesOnePoolPerOrigin(t *testing.T) {
	var built []string
	m := NewManager(DefaultConfig(), func(origin string) ConnectionFactory {
		built = append(built, origin)
		return nil
	}, zerolog.Nop())

	a1 := m.Pool("a.example.test:443")
	a2 := m.Pool("a.example.test:443")
	b := m.Pool("b.example.test:443")

	assert.Same(t, a1, a2, "repeated lookups of the same origin must return the same pool")
	assert.NotSame(t, a1, b)
	assert.ElementsMatch(t, []string{"a.example.test:443", "b.example.test:443"}, built)
}

func TestManagerOriginsReflectsCreatedPools(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	m.Pool("a")
	m.Pool("b")

	assert.ElementsMatch(t, []string{"a", "b"}, m.Origins())
}

func TestManagerDrainRemovesPoolAndShutsItDown(t *testing.T) {
	var calls int
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	p := m.Pool("a")
	p.delegate = delegateFunc(func(unclean bool) { calls++ })

	ok := m.Drain("a")
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Empty(t, m.Origins())

	assert.False(t, m.Drain("a"), "draining an unknown origin must report false")
}

func TestManagerShutdownAllDrainsEveryPool(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	var calls int64
	for _, origin := range []string{"a", "b", "c"} {
		p := m.Pool(origin)
		p.delegate = delegateFunc(func(unclean bool) { atomic.AddInt64(&calls, 1) })
	}

	m.ShutdownAll()

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	assert.Empty(t, m.Origins())
}
