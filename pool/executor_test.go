package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRequest is a Request whose WasQueued/Fail outcomes can be
// observed from a test goroutine, unlike fakeRequest's no-ops.
type recordingRequest struct {
	id        uint64
	required  *LoopID
	preferred LoopID
	deadline  time.Time

	mu      sync.Mutex
	queued  bool
	failErr error
	done    chan struct{}
}

func newRecordingRequest(id uint64, deadline time.Time) *recordingRequest {
	return &recordingRequest{id: id, deadline: deadline, done: make(chan struct{}, 1)}
}

func (r *recordingRequest) ID() uint64                    { return r.id }
func (r *recordingRequest) RequiredLoop() *LoopID         { return r.required }
func (r *recordingRequest) PreferredLoop() LoopID         { return r.preferred }
func (r *recordingRequest) ConnectionDeadline() time.Time { return r.deadline }

func (r *recordingRequest) WasQueued(p *Pool) {
	r.mu.Lock()
	r.queued = true
	r.mu.Unlock()
}

func (r *recordingRequest) Fail(err error) {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
}

// instantFactory completes every dial synchronously on the calling
// goroutine, so tests don't need to sleep/poll for connection setup.
type instantFactory struct {
	mu   sync.Mutex
	fail bool
	err  error
}

func (f *instantFactory) MakeConnection(ctx context.Context, id int64, loop LoopID, deadline time.Time, delegate ConnectionFactoryDelegate) {
	f.mu.Lock()
	fail, err := f.fail, f.err
	f.mu.Unlock()
	if fail {
		delegate.OnFailed(id, err)
		return
	}
	conn := newTestConnection(loop)
	conn.id = id
	delegate.OnConnected(conn)
}

func testPool(t *testing.T, max int, factory ConnectionFactory) *Pool {
	t.Helper()
	cfg := Config{MaxConnections: max, ConnectTimeout: time.Second, IdleTimeout: 50 * time.Millisecond}
	return NewPool("example.test:443", cfg, factory, nil, zerolog.Nop())
}

func TestPoolExecuteRequestLeasesEstablishedConnection(t *testing.T) {
	p := testPool(t, 1, &instantFactory{})
	req := newRecordingRequest(1, time.Now().Add(time.Second))

	p.ExecuteRequest(req)

	p.mu.Lock()
	leased := p.sm.connections.leased
	p.mu.Unlock()
	assert.Equal(t, 1, leased, "synchronous factory should leave the connection leased immediately")
}

func TestPoolFailedConnectionSchedulesBackoff(t *testing.T) {
	factory := &instantFactory{fail: true, err: ErrConnectTimeout}
	p := testPool(t, 1, factory)
	req := newRecordingRequest(1, time.Now().Add(500*time.Millisecond))

	p.ExecuteRequest(req)

	p.mu.Lock()
	backingOff := p.sm.connections.backingOff
	p.mu.Unlock()
	assert.Equal(t, 1, backingOff, "failed dial should move the entry to backing-off")

	p.mu.Lock()
	connID := p.sm.connections.entries[0].id
	p.mu.Unlock()

	p.timerMu.Lock()
	_, hasBackoffTimer := p.backoffTimers[connID]
	p.timerMu.Unlock()
	assert.True(t, hasBackoffTimer, "expected a backoff timer to be armed")
}

func TestPoolRequestTimeoutFailsWaiter(t *testing.T) {
	// No factory: the connection never completes, so the request must
	// time out via its own deadline.
	p := testPool(t, 1, nil)
	req := newRecordingRequest(1, time.Now().Add(20*time.Millisecond))

	p.ExecuteRequest(req)

	select {
	case <-req.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected request to time out")
	}

	req.mu.Lock()
	err := req.failErr
	req.mu.Unlock()
	require.Error(t, err)
}

func TestPoolCancelRequestRemovesFromQueueWithoutFailing(t *testing.T) {
	p := testPool(t, 1, nil) // no factory: the dial never completes
	req := newRecordingRequest(1, time.Now().Add(5*time.Second))

	p.ExecuteRequest(req)
	p.CancelRequest(req)

	select {
	case <-req.done:
		t.Fatalf("cancelRequest must not invoke Fail")
	case <-time.After(50 * time.Millisecond):
	}

	p.timerMu.Lock()
	_, stillArmed := p.requestTimers[req.ID()]
	p.timerMu.Unlock()
	assert.False(t, stillArmed, "expected the request timer to be cancelled")
}

func TestPoolShutdownNotifiesDelegateExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	var lastUnclean bool
	delegate := delegateFunc(func(unclean bool) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastUnclean = unclean
	})

	cfg := Config{MaxConnections: 1, ConnectTimeout: time.Second, IdleTimeout: time.Second}
	p := NewPool("example.test:443", cfg, nil, delegate, zerolog.Nop())

	p.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "PoolDidShutdown must fire exactly once")
	assert.False(t, lastUnclean, "shutting down an idle pool with no work is a clean shutdown")
}

// delegateFunc adapts a plain function to the Delegate interface for
// tests that only care about PoolDidShutdown.
type delegateFunc func(unclean bool)

func (f delegateFunc) PoolDidShutdown(unclean bool) { f(unclean) }
