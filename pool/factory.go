package pool

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionFactory dials and (for https origins) TLS-handshakes new
// connections (spec §1 "ConnectionFactory", §6 "Pool → factory"). The
// pool calls MakeConnection and expects exactly one eventual callback on
// the delegate: either OnConnected or OnFailed.
type ConnectionFactory interface {
	MakeConnection(ctx context.Context, id int64, loop LoopID, deadline time.Time, delegate ConnectionFactoryDelegate)
}

// ConnectionFactoryDelegate receives the outcome of a dial requested via
// ConnectionFactory.MakeConnection.
type ConnectionFactoryDelegate interface {
	OnConnected(handle Connection)
	OnFailed(id int64, err error)
}

// DialerConfig configures DefaultConnectionFactory.
type DialerConfig struct {
	Host      string
	Port      int
	UseTLS    bool
	TLSConfig *tls.Config

	DialTimeout time.Duration
	KeepAlive   time.Duration

	// DialRate caps dial attempts per second for this origin;
	// DialBurst is the bucket size. Zero DialRate disables throttling.
	DialRate  rate.Limit
	DialBurst int

	// Variant selects the transport MakeConnection establishes. The
	// zero value is variantHTTP1. HTTP/2 is out of scope (spec §1/§9);
	// requesting it is a caller precondition failure, not a dial error.
	Variant connVariant
}

// DefaultConnectionFactory dials with net.Dialer and, for TLS origins,
// completes the handshake itself — the same dialer/handshake-timeout
// shape as the teacher's provider.ConnectionPool.createTransport, but
// producing one Connection per call instead of owning an
// http.Transport's internal pool (this package is the pool).
type DefaultConnectionFactory struct {
	cfg     DialerConfig
	dialer  *net.Dialer
	limiter *rate.Limiter
}

// NewDefaultConnectionFactory builds a factory for one origin.
func NewDefaultConnectionFactory(cfg DialerConfig) *DefaultConnectionFactory {
	f := &DefaultConnectionFactory{
		cfg: cfg,
		dialer: &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
	}
	if cfg.DialRate > 0 {
		burst := cfg.DialBurst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(cfg.DialRate, burst)
	}
	return f
}

// MakeConnection implements ConnectionFactory. It runs the dial (and
// optional TLS handshake) on its own goroutine so the caller — the
// PoolExecutor, outside state-lock — never blocks on I/O here either;
// the eventual result re-enters the pool via delegate.OnConnected/
// OnFailed exactly as spec §6 describes.
func (f *DefaultConnectionFactory) MakeConnection(ctx context.Context, id int64, loop LoopID, deadline time.Time, delegate ConnectionFactoryDelegate) {
	if f.cfg.Variant == variantHTTP2 {
		panic("pool: HTTP/2 connection establishment not implemented")
	}

	go func() {
		if f.limiter != nil {
			if err := f.limiter.WaitN(ctx, 1); err != nil {
				delegate.OnFailed(id, err)
				return
			}
		}

		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()

		addr := net.JoinHostPort(f.cfg.Host, itoa(f.cfg.Port))
		conn, err := f.dialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			delegate.OnFailed(id, err)
			return
		}

		if f.cfg.UseTLS {
			tlsConn, err := tlsHandshake(dialCtx, conn, f.cfg.TLSConfig)
			if err != nil {
				_ = conn.Close()
				delegate.OnFailed(id, err)
				return
			}
			conn = tlsConn
		}

		handle := newHTTP1ConnectionWithID(id, loop, conn, f.cfg.UseTLS)
		delegate.OnConnected(handle)
	}()
}
