package pool

import "math/rand"

// poolPhase is the pool half of spec §3's "Pool state: running |
// shutting-down(unclean) | shut-down".
type poolPhase int

const (
	phaseRunning poolPhase = iota
	phaseShuttingDown
	phaseShutDown
)

// http1StateMachine is the pure decision engine (spec §4.3). Every
// method is a function of its own fields, returns an action, and
// mutates internal state accordingly — no I/O, no timer calls, no
// callbacks. Its only callers are PoolExecutor methods that already
// hold state-lock.
type http1StateMachine struct {
	phase           poolPhase
	uncleanShutdown bool

	queue       *requestQueue
	connections *connectionSet

	failedConsecutiveConnectionAttempts int
	lastConnectFailure                  error

	rng *rand.Rand
}

func newHTTP1StateMachine(maxConnections int, rng *rand.Rand) *http1StateMachine {
	return &http1StateMachine{
		phase:       phaseRunning,
		queue:       newRequestQueue(),
		connections: newConnectionSet(maxConnections),
		rng:         rng,
	}
}

// executeRequest handles the arrival of a new request (spec §4.3
// executeRequest).
func (sm *http1StateMachine) executeRequest(req Request) action {
	if sm.phase != phaseRunning {
		return action{request: requestAction{kind: requestActionFail, req: req, err: ErrAlreadyShutdown}}
	}

	if required := req.RequiredLoop(); required != nil {
		loop := *required
		if conn := sm.connections.leaseConnectionRequired(loop); conn != nil {
			return action{
				request:    requestAction{kind: requestActionExecute, req: req, conn: conn, cancelTimeout: false},
				connection: connectionAction{kind: connectionActionCancelIdleTimeout, connID: conn.ID()},
			}
		}

		w := newWaiter(req)
		sm.queue.push(w)

		var connAction connectionAction
		if sm.connections.startingEventLoopConnections(loop) < sm.queue.count(loop) {
			id := sm.connections.createNewOverflowConnection(loop)
			connAction = connectionAction{kind: connectionActionCreate, connID: id, loop: loop}
		}
		return action{
			request:    requestAction{kind: requestActionScheduleTimeout, req: req, loop: loop},
			connection: connAction,
		}
	}

	preferred := req.PreferredLoop()
	if conn := sm.connections.leaseConnectionPreferred(preferred); conn != nil {
		return action{
			request:    requestAction{kind: requestActionExecute, req: req, conn: conn, cancelTimeout: false},
			connection: connectionAction{kind: connectionActionCancelIdleTimeout, connID: conn.ID()},
		}
	}

	w := newWaiter(req)
	sm.queue.push(w)

	var connAction connectionAction
	switch {
	case !sm.connections.canGrow():
		// wait only
	case sm.connections.startingGeneralPurposeConnections() >= sm.queue.generalPurposeCount():
		// wait only
	default:
		id := sm.connections.createNewConnection(preferred)
		connAction = connectionAction{kind: connectionActionCreate, connID: id, loop: preferred}
	}
	return action{
		request:    requestAction{kind: requestActionScheduleTimeout, req: req, loop: preferred},
		connection: connAction,
	}
}

// newHTTP1ConnectionEstablished handles a successful dial (spec §4.3).
func (sm *http1StateMachine) newHTTP1ConnectionEstablished(handle Connection) action {
	sm.failedConsecutiveConnectionAttempts = 0
	sm.lastConnectFailure = nil

	index, ctx := sm.connections.newHTTP1ConnectionEstablished(handle)
	return sm.nextActionForIdle(index, ctx)
}

// failedToCreateNewConnection handles a dial failure (spec §4.3).
func (sm *http1StateMachine) failedToCreateNewConnection(err error, id int64) action {
	sm.failedConsecutiveConnectionAttempts++
	sm.lastConnectFailure = err

	switch sm.phase {
	case phaseRunning:
		loop := sm.connections.backoffNextConnectionAttempt(id)
		delay := computeBackoff(sm.failedConsecutiveConnectionAttempts, sm.rng)
		return action{connection: connectionAction{kind: connectionActionScheduleBackoff, connID: id, loop: loop, backoff: delay}}
	case phaseShuttingDown:
		index, ctx, ok := sm.connections.failConnection(id)
		if !ok {
			return noAction()
		}
		return sm.nextActionForFailed(index, ctx)
	default: // shutDown
		invariantViolation("failedToCreateNewConnection called after shut-down")
		return noAction()
	}
}

// connectionCreationBackoffDone handles a backoff timer firing (spec
// §4.3).
func (sm *http1StateMachine) connectionCreationBackoffDone(id int64) action {
	if sm.phase != phaseRunning {
		return noAction() // race with shutdown
	}
	index, ctx, ok := sm.connections.failConnection(id)
	if !ok {
		invariantViolation("connectionCreationBackoffDone: unknown connection id while running")
	}
	return sm.nextActionForFailed(index, ctx)
}

// connectionIdleTimeout handles an idle timer firing (spec §4.3).
func (sm *http1StateMachine) connectionIdleTimeout(id int64) action {
	handle := sm.connections.closeConnectionIfIdle(id)
	if handle == nil {
		return noAction() // race with lease
	}
	return action{connection: connectionAction{kind: connectionActionClose, handle: handle}}
}

// http1ConnectionReleased handles a request completing on a connection
// (spec §4.3).
func (sm *http1StateMachine) http1ConnectionReleased(id int64) action {
	index, ctx := sm.connections.releaseConnection(id)
	return sm.nextActionForIdle(index, ctx)
}

// connectionClosed handles an unsolicited close report (spec §4.3).
func (sm *http1StateMachine) connectionClosed(id int64) action {
	index, ctx, ok := sm.connections.failConnection(id)
	if !ok {
		return noAction() // pool-initiated close
	}
	return sm.nextActionForFailed(index, ctx)
}

// timeoutRequest handles a request-timeout timer firing (spec §4.3).
func (sm *http1StateMachine) timeoutRequest(id waiterID) action {
	w := sm.queue.remove(id)
	if w == nil {
		return noAction() // race with lease
	}
	var err error
	switch {
	case sm.lastConnectFailure != nil:
		err = sm.lastConnectFailure
	case sm.connections.idle+sm.connections.leased == 0:
		err = ErrConnectTimeout
	default:
		err = ErrGetConnectionTimeout
	}
	return action{request: requestAction{kind: requestActionFail, req: w.req, err: err, cancelTimeout: false}}
}

// cancelRequest handles a caller-initiated cancellation (spec §4.3): if
// the request is still queued it is dequeued and its request-timeout
// timer cancelled. It is not failed here — the caller already knows it
// cancelled the request; the pool's job is only to stop tracking it and
// stop the dangling timer so it cannot spuriously fire later.
func (sm *http1StateMachine) cancelRequest(id waiterID) action {
	w := sm.queue.remove(id)
	if w == nil {
		return noAction() // already on a connection; transport handles it
	}
	return action{request: requestAction{kind: requestActionCancelTimeout, timeoutID: w.id}}
}

// shutdown is the single-shot pool teardown entry point (spec §4.3).
func (sm *http1StateMachine) shutdown() action {
	if sm.phase != phaseRunning {
		invariantViolation("shutdown called more than once")
	}

	waiters := sm.queue.removeAll()
	cleanup := sm.connections.shutdown()

	unclean := len(cleanup.cancel) > 0 || len(waiters) > 0
	sm.uncleanShutdown = unclean

	var reqAction requestAction
	if len(waiters) > 0 {
		reqs := make([]Request, len(waiters))
		for i, w := range waiters {
			reqs[i] = w.req
		}
		reqAction = requestAction{kind: requestActionFailBulk, reqs: reqs, err: ErrCancelled, cancelTimeout: true}
	}

	isShutdown := false
	if sm.connections.isEmpty() {
		sm.phase = phaseShutDown
		isShutdown = true
	} else {
		sm.phase = phaseShuttingDown
	}

	var shutdownFlag *bool
	if isShutdown {
		u := unclean
		shutdownFlag = &u
	}

	return action{
		request:    reqAction,
		connection: connectionAction{kind: connectionActionCleanup, cleanup: cleanup, isShutdownUnclean: shutdownFlag},
	}
}

// nextActionForIdle dispatches an entry that just became idle-eligible —
// freshly established or just released (spec §4.3.1).
func (sm *http1StateMachine) nextActionForIdle(index int, ctx idleConnectionContext) action {
	if sm.phase == phaseRunning {
		if ctx.use == useGeneralPurpose {
			if w := sm.queue.popFirst(nil); w != nil {
				conn := sm.connections.leaseAt(index)
				return action{request: requestAction{kind: requestActionExecute, req: w.req, conn: conn, cancelTimeout: true}}
			}
			loop := ctx.loop
			if w := sm.queue.popFirst(&loop); w != nil {
				conn := sm.connections.leaseAt(index)
				return action{request: requestAction{kind: requestActionExecute, req: w.req, conn: conn, cancelTimeout: true}}
			}
			id, loop := sm.connections.parkConnection(index)
			return action{connection: connectionAction{kind: connectionActionScheduleIdleTimeout, connID: id, loop: loop}}
		}

		// event-loop-bound
		loop := ctx.loop
		if w := sm.queue.popFirst(&loop); w != nil {
			conn := sm.connections.leaseAt(index)
			return action{request: requestAction{kind: requestActionExecute, req: w.req, conn: conn, cancelTimeout: true}}
		}
		handle := sm.connections.closeConnection(index)
		return action{connection: connectionAction{kind: connectionActionClose, handle: handle}}
	}

	// shutting-down: close and remove the idle entry.
	handle := sm.connections.closeConnection(index)
	sm.connections.removeConnection(index)
	connAction := connectionAction{kind: connectionActionClose, handle: handle}
	if sm.connections.isEmpty() {
		sm.phase = phaseShutDown
		u := sm.uncleanShutdown
		connAction.isShutdownUnclean = &u
	}
	return action{connection: connAction}
}

// nextActionForFailed dispatches an entry that just failed to dial or
// closed unsolicited (spec §4.3.2).
func (sm *http1StateMachine) nextActionForFailed(index int, ctx failedConnectionContext) action {
	if sm.phase == phaseRunning {
		var bucketLimit int
		if ctx.use == useGeneralPurpose {
			bucketLimit = sm.queue.generalPurposeCount()
		} else {
			bucketLimit = sm.queue.count(ctx.loop)
		}

		if ctx.connectionsStartingForUseCase < bucketLimit {
			newID, loop := sm.connections.replaceConnection(index)
			return action{connection: connectionAction{kind: connectionActionCreate, connID: newID, loop: loop}}
		}
		sm.connections.removeConnection(index)
		return noAction()
	}

	// shutting-down
	sm.connections.removeConnection(index)
	if sm.connections.isEmpty() {
		sm.phase = phaseShutDown
		u := sm.uncleanShutdown
		return action{connection: connectionAction{kind: connectionActionCleanup, isShutdownUnclean: &u}}
	}
	return noAction()
}
