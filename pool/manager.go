package pool

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager multiplexes one Pool per origin key (spec §9: "A
// ConnectionPoolManager (not specified here) instantiates and
// multiplexes many pools"). It is grounded on the teacher's
// provider.Registry: a map guarded by an RWMutex with lazy creation and
// a fan-out operation across every entry.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool

	newFactory func(origin string) ConnectionFactory
	cfg        Config
	log        zerolog.Logger
}

// NewManager creates a manager that lazily builds a Pool (via
// newFactory, called once per origin) the first time that origin is
// requested.
func NewManager(cfg Config, newFactory func(origin string) ConnectionFactory, log zerolog.Logger) *Manager {
	return &Manager{
		pools:      make(map[string]*Pool),
		newFactory: newFactory,
		cfg:        cfg,
		log:        log,
	}
}

// Pool returns the pool for origin, creating it on first access.
func (m *Manager) Pool(origin string) *Pool {
	m.mu.RLock()
	p, ok := m.pools[origin]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[origin]; ok {
		return p
	}

	var factory ConnectionFactory
	if m.newFactory != nil {
		factory = m.newFactory(origin)
	}
	p = NewPool(origin, m.cfg, factory, nil, m.log)
	m.pools[origin] = p
	return p
}

// Origins returns the currently known origin keys.
func (m *Manager) Origins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for origin := range m.pools {
		out = append(out, origin)
	}
	return out
}

// Stats returns a snapshot of every pool's counters, keyed by origin.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	pools := make(map[string]*Pool, len(m.pools))
	for k, v := range m.pools {
		pools[k] = v
	}
	m.mu.RUnlock()

	out := make(map[string]Stats, len(pools))
	for origin, p := range pools {
		out[origin] = p.Stats()
	}
	return out
}

// Drain shuts down and forgets the pool for a single origin, if one
// exists. Returns false if no pool was tracked for that origin.
func (m *Manager) Drain(origin string) bool {
	m.mu.Lock()
	p, ok := m.pools[origin]
	if ok {
		delete(m.pools, origin)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.Shutdown()
	return true
}

// ShutdownAll shuts down every pool the manager knows about.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Shutdown()
		}(p)
	}
	wg.Wait()
}
