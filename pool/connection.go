package pool

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
)

// connVariant tags which transport a Connection wraps (spec §9
// "Polymorphic connection handle").
type connVariant int

const (
	variantHTTP1 connVariant = iota
	variantHTTP2             // requesting this in DialerConfig panics, see factory.go
	variantTest
)

var connIDGen int64

// nextConnectionID returns a process-unique, monotonically increasing
// connection id (spec §3).
func nextConnectionID() int64 {
	return atomic.AddInt64(&connIDGen, 1)
}

// Connection is the uniform handle the pool holds over a transport (spec
// §3 "Connection handle", §6 "Pool → transport"). Identity is the id;
// for the test variant, equality also considers the event loop so tests
// can create distinguishable stubs sharing a dial sequence number.
type Connection interface {
	// ID returns this connection's process-unique identity.
	ID() int64

	// EventLoop returns the loop the underlying transport lives on.
	EventLoop() LoopID

	// Execute hands a leased connection an opaque request to run. The
	// pool never inspects what happens next; release/failure are
	// reported back to the pool via the factory/executor's delegate
	// callbacks, not through this call's return value.
	Execute(req Request)

	// Shutdown cancels any in-flight request and then closes the
	// connection. Used at pool shutdown for leased connections.
	Shutdown()

	// Close closes the connection, assuming it is idle. Used for
	// idle-timeout and cooperative teardown of parked connections.
	Close()

	variant() connVariant
}

// http1Connection is the live HTTP/1.1 transport variant: a single TCP
// (or TLS) connection plus enough protocol framing to run one request at
// a time. Wire-level request serialization and response parsing are out
// of scope (spec §1 Non-goals) — this type only owns the socket: Execute
// writes and reads nothing, and Shutdown/Close close the socket.
type http1Connection struct {
	id   int64
	loop LoopID
	conn net.Conn
	tls  bool
}

func newHTTP1Connection(loop LoopID, conn net.Conn, usedTLS bool) *http1Connection {
	return newHTTP1ConnectionWithID(nextConnectionID(), loop, conn, usedTLS)
}

// newHTTP1ConnectionWithID builds a connection adopting an id the pool
// already assigned to the `starting` entry being completed, rather than
// minting a fresh one that would then have to be discarded.
func newHTTP1ConnectionWithID(id int64, loop LoopID, conn net.Conn, usedTLS bool) *http1Connection {
	return &http1Connection{
		id:   id,
		loop: loop,
		conn: conn,
		tls:  usedTLS,
	}
}

func (c *http1Connection) ID() int64          { return c.id }
func (c *http1Connection) EventLoop() LoopID  { return c.loop }
func (c *http1Connection) variant() connVariant { return variantHTTP1 }

func (c *http1Connection) Execute(req Request) {
	// Wire serialization/response parsing are explicitly out of scope
	// (spec §1). A real transport would write the request and read the
	// response here, then report release/failure to its delegate.
}

func (c *http1Connection) Shutdown() {
	_ = c.conn.Close()
}

func (c *http1Connection) Close() {
	_ = c.conn.Close()
}

// tlsHandshake performs the TLS handshake for a dialed connection,
// honoring ctx's deadline. Split out of the factory so it's easy to
// exercise independently in tests via a fake net.Conn.
func tlsHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// testConnection is a Connection stub for unit tests: no real I/O,
// records calls, and lets tests force id/loop/variant-driven equality
// (spec §3: "equality and hashing use id plus, for the test variant, the
// event-loop identity").
type testConnection struct {
	id        int64
	loop      LoopID
	executed  []Request
	shutdowns int
	closes    int
}

func newTestConnection(loop LoopID) *testConnection {
	return &testConnection{id: nextConnectionID(), loop: loop}
}

func (c *testConnection) ID() int64            { return c.id }
func (c *testConnection) EventLoop() LoopID    { return c.loop }
func (c *testConnection) variant() connVariant { return variantTest }
func (c *testConnection) Execute(req Request)  { c.executed = append(c.executed, req) }
func (c *testConnection) Shutdown()            { c.shutdowns++ }
func (c *testConnection) Close()               { c.closes++ }

// connectionKey is the equality/hash key described in spec §3.
func connectionKey(c Connection) (int64, LoopID, bool) {
	if c.variant() == variantTest {
		return c.ID(), c.EventLoop(), true
	}
	return c.ID(), 0, false
}
