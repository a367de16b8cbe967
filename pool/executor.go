package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Delegate receives pool-lifecycle notifications that don't belong to
// any single request or connection (spec §6 "Pool → caller").
type Delegate interface {
	// PoolDidShutdown is delivered exactly once, after the pool has
	// finished tearing down every connection it owned.
	PoolDidShutdown(unclean bool)
}

// Config configures a Pool for one origin (spec §6 "Configuration").
type Config struct {
	// MaxConnections is maximumConcurrentHTTP1Connections; default 8.
	MaxConnections int
	// ConnectTimeout is connect.timeout; default 30s.
	ConnectTimeout time.Duration
	// IdleTimeout is connectionPool.idleTimeout.
	IdleTimeout time.Duration
}

// DefaultConfig returns spec-mandated defaults (§6).
func DefaultConfig() Config {
	return Config{
		MaxConnections: 8,
		ConnectTimeout: 30 * time.Second,
		IdleTimeout:    90 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 8
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	return c
}

// Pool is the PoolExecutor (spec §4.4) plus the caller-facing surface
// (spec §6 "Pool → caller"). It owns state-lock (mu) guarding the state
// machine and timer-lock (timerMu) guarding the three timer maps; the
// two are never held together (spec §4.4 concurrency rules), and
// state-lock is never held across a callback, timer scheduling, or I/O.
type Pool struct {
	origin string
	cfg    Config
	log    zerolog.Logger

	mu sync.Mutex
	sm *http1StateMachine

	factory  ConnectionFactory
	delegate Delegate

	timerMu       sync.Mutex
	requestTimers map[uint64]*time.Timer
	idleTimers    map[int64]*time.Timer
	backoffTimers map[int64]*time.Timer
}

// NewPool constructs a pool for one origin. factory may be nil, in which
// case connections the state machine creates are never dialed; delegate
// may be nil, in which case shutdown is not notified.
func NewPool(origin string, cfg Config, factory ConnectionFactory, delegate Delegate, log zerolog.Logger) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		origin:        origin,
		cfg:           cfg,
		log:           log.With().Str("origin", origin).Logger(),
		sm:            newHTTP1StateMachine(cfg.MaxConnections, rand.New(rand.NewSource(time.Now().UnixNano()))),
		factory:       factory,
		delegate:      delegate,
		requestTimers: make(map[uint64]*time.Timer),
		idleTimers:    make(map[int64]*time.Timer),
		backoffTimers: make(map[int64]*time.Timer),
	}
}

// ─── Caller-facing surface (spec §6) ────────────────────────────────

// ExecuteRequest is the pool's only entry point for new work.
func (p *Pool) ExecuteRequest(req Request) {
	p.mu.Lock()
	act := p.sm.executeRequest(req)
	p.mu.Unlock()
	p.perform(act)
}

// CancelRequest cancels a request still waiting in the queue; a request
// already handed to a connection must be cancelled through its
// connection/transport instead (spec §4.3 cancelRequest).
func (p *Pool) CancelRequest(req Request) {
	id := makeWaiterID(req.ID(), req.RequiredLoop())
	p.mu.Lock()
	act := p.sm.cancelRequest(id)
	p.mu.Unlock()
	p.perform(act)
}

// Shutdown begins the single-shot pool teardown. PoolDidShutdown fires
// exactly once, possibly asynchronously after this call returns if
// connections were still starting or leased.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	act := p.sm.shutdown()
	p.mu.Unlock()
	p.perform(act)
}

// ─── Transport → pool notifications (spec §6 "Pool → transport" is the
// forward direction; these are the delegate callbacks flowing back) ───

// ConnectionReleased must be called by (or on behalf of) a Connection
// once it has finished running the request handed to it via Execute.
func (p *Pool) ConnectionReleased(id int64) {
	p.mu.Lock()
	act := p.sm.http1ConnectionReleased(id)
	p.mu.Unlock()
	p.perform(act)
}

// ConnectionClosed reports an unsolicited close — the transport closed
// the connection on its own (peer reset, read error, protocol error)
// rather than in response to a pool-initiated Close/Shutdown call.
func (p *Pool) ConnectionClosed(id int64) {
	p.mu.Lock()
	act := p.sm.connectionClosed(id)
	p.mu.Unlock()
	p.perform(act)
}

// ─── ConnectionFactoryDelegate ──────────────────────────────────────

// OnConnected implements ConnectionFactoryDelegate.
func (p *Pool) OnConnected(handle Connection) {
	p.mu.Lock()
	act := p.sm.newHTTP1ConnectionEstablished(handle)
	p.mu.Unlock()
	p.perform(act)
}

// OnFailed implements ConnectionFactoryDelegate.
func (p *Pool) OnFailed(id int64, err error) {
	p.mu.Lock()
	act := p.sm.failedToCreateNewConnection(err, id)
	p.mu.Unlock()
	p.perform(act)
}

// ─── Timer callbacks (spec §9 "Timer races": remove-then-act, under
// timer-lock, before ever touching state-lock) ──────────────────────

func (p *Pool) fireRequestTimeout(id waiterID, timerKey uint64) {
	if !p.removeTimer(p.requestTimers, timerKey) {
		return
	}
	p.mu.Lock()
	act := p.sm.timeoutRequest(id)
	p.mu.Unlock()
	p.perform(act)
}

func (p *Pool) fireIdleTimeout(id int64) {
	if !p.removeConnTimer(p.idleTimers, id) {
		return
	}
	p.mu.Lock()
	act := p.sm.connectionIdleTimeout(id)
	p.mu.Unlock()
	p.perform(act)
}

func (p *Pool) fireBackoffDone(id int64) {
	if !p.removeConnTimer(p.backoffTimers, id) {
		return
	}
	p.mu.Lock()
	act := p.sm.connectionCreationBackoffDone(id)
	p.mu.Unlock()
	p.perform(act)
}

// ─── Side-effect dispatch (spec §4.4) — runs with neither lock held ──

func (p *Pool) perform(a action) {
	p.performRequestAction(a.request)
	p.performConnectionAction(a.connection)
}

func (p *Pool) performRequestAction(a requestAction) {
	switch a.kind {
	case requestActionNone:
		return
	case requestActionExecute:
		if a.cancelTimeout {
			p.cancelRequestTimer(a.req.ID())
		}
		a.conn.Execute(a.req)
	case requestActionExecuteBulk:
		for _, r := range a.reqs {
			r2 := r
			if a.cancelTimeout {
				p.cancelRequestTimer(r2.ID())
			}
			a.conn.Execute(r2)
		}
	case requestActionFail:
		if a.cancelTimeout {
			p.cancelRequestTimer(a.req.ID())
		}
		a.req.Fail(a.err)
	case requestActionFailBulk:
		for _, r := range a.reqs {
			if a.cancelTimeout {
				p.cancelRequestTimer(r.ID())
			}
			r.Fail(a.err)
		}
	case requestActionCancelTimeout:
		p.cancelRequestTimer(a.timeoutID)
	case requestActionCancelTimeoutBulk:
		for _, id := range a.timeoutIDs {
			p.cancelRequestTimer(id)
		}
	case requestActionScheduleTimeout:
		p.scheduleRequestTimeout(a.req, a.loop)
	}
}

func (p *Pool) performConnectionAction(a connectionAction) {
	switch a.kind {
	case connectionActionNone:
		return
	case connectionActionCreate:
		p.createConnection(a.connID, a.loop)
	case connectionActionScheduleBackoff:
		p.scheduleBackoff(a.connID, a.loop, a.backoff)
	case connectionActionScheduleIdleTimeout:
		p.scheduleIdleTimeout(a.connID, a.loop)
	case connectionActionCancelIdleTimeout:
		p.cancelIdleTimer(a.connID)
	case connectionActionClose:
		p.closeConnection(a.handle, a.isShutdownUnclean)
	case connectionActionCleanup:
		p.cleanupConnections(a.cleanup, a.isShutdownUnclean)
	}
}

func (p *Pool) createConnection(id int64, loop LoopID) {
	if p.factory == nil {
		return
	}
	deadline := time.Now().Add(p.cfg.ConnectTimeout)
	p.factory.MakeConnection(context.Background(), id, loop, deadline, p)
}

func (p *Pool) scheduleBackoff(id int64, loop LoopID, backoff time.Duration) {
	_ = loop
	p.timerMu.Lock()
	p.backoffTimers[id] = time.AfterFunc(backoff, func() { p.fireBackoffDone(id) })
	p.timerMu.Unlock()
}

func (p *Pool) scheduleIdleTimeout(id int64, loop LoopID) {
	_ = loop
	p.timerMu.Lock()
	p.idleTimers[id] = time.AfterFunc(p.cfg.IdleTimeout, func() { p.fireIdleTimeout(id) })
	p.timerMu.Unlock()
}

func (p *Pool) cancelIdleTimer(id int64) {
	p.removeConnTimer(p.idleTimers, id)
}

func (p *Pool) closeConnection(handle Connection, isShutdownUnclean *bool) {
	if handle != nil {
		handle.Close()
	}
	p.notifyShutdownIfNeeded(isShutdownUnclean)
}

func (p *Pool) cleanupConnections(ctx cleanupContext, isShutdownUnclean *bool) {
	for _, h := range ctx.close {
		h.Close()
	}
	for _, h := range ctx.cancel {
		h.Shutdown()
	}
	for _, id := range ctx.connectBackoff {
		p.removeConnTimer(p.backoffTimers, id)
	}
	p.notifyShutdownIfNeeded(isShutdownUnclean)
}

func (p *Pool) notifyShutdownIfNeeded(isShutdownUnclean *bool) {
	if isShutdownUnclean == nil || p.delegate == nil {
		return
	}
	p.delegate.PoolDidShutdown(*isShutdownUnclean)
}

func (p *Pool) scheduleRequestTimeout(req Request, loop LoopID) {
	id := makeWaiterID(req.ID(), req.RequiredLoop())
	key := req.ID()
	deadline := req.ConnectionDeadline()
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	p.timerMu.Lock()
	p.requestTimers[key] = time.AfterFunc(delay, func() { p.fireRequestTimeout(id, key) })
	p.timerMu.Unlock()
	req.WasQueued(p)
}

func (p *Pool) cancelRequestTimer(id uint64) {
	p.removeTimer(p.requestTimers, id)
}

// removeTimer claims (removes) a uint64-keyed timer under timer-lock,
// stopping it, and reports whether it was still present — this is the
// single critical section every timer fire and every cancellation races
// through (spec §9 "Timer races").
func (p *Pool) removeTimer(m map[uint64]*time.Timer, key uint64) bool {
	p.timerMu.Lock()
	t, ok := m[key]
	if ok {
		delete(m, key)
	}
	p.timerMu.Unlock()
	if ok {
		t.Stop()
	}
	return ok
}

func (p *Pool) removeConnTimer(m map[int64]*time.Timer, key int64) bool {
	p.timerMu.Lock()
	t, ok := m[key]
	if ok {
		delete(m, key)
	}
	p.timerMu.Unlock()
	if ok {
		t.Stop()
	}
	return ok
}

// Stats is a point-in-time snapshot for observability/admin surfaces.
type Stats struct {
	Origin      string
	Starting    int
	BackingOff  int
	Idle        int
	Leased      int
	QueueDepth  int
}

// Stats takes state-lock briefly to read the current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Origin:     p.origin,
		Starting:   p.sm.connections.starting,
		BackingOff: p.sm.connections.backingOff,
		Idle:       p.sm.connections.idle,
		Leased:     p.sm.connections.leased,
		QueueDepth: p.sm.queue.generalPurposeCount(),
	}
}
