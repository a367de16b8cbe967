package pool

import "errors"

// Error kinds surfaced to requests (spec §6, §7). A request never sees
// anything else out of this package except a transport-reported dial
// failure, which is returned verbatim.
var (
	// ErrAlreadyShutdown is returned to executeRequest once the pool has
	// started or finished shutting down.
	ErrAlreadyShutdown = errors.New("httpclient/pool: pool is shutting down")

	// ErrCancelled is delivered to a queued request when the pool shuts
	// down while the request was still waiting for a connection.
	ErrCancelled = errors.New("httpclient/pool: request cancelled")

	// ErrGetConnectionTimeout is delivered when a request's connection
	// deadline elapses while an established (idle or leased) connection
	// exists elsewhere in the pool and no dial failure is on record.
	ErrGetConnectionTimeout = errors.New("httpclient/pool: timed out waiting for a connection from the pool")

	// ErrConnectTimeout is delivered when a request's connection deadline
	// elapses, no dial failure is on record, and the pool holds no
	// established (idle or leased) connection.
	ErrConnectTimeout = errors.New("httpclient/pool: timed out establishing a connection")
)

// invariantViolation panics with a message identifying a programmer
// error per spec §7: double-shutdown, a backoff timer firing for an
// unknown connection id while running, or releasing/closing an entry
// that is not in the expected state. These are never recoverable.
func invariantViolation(msg string) {
	panic("httpclient/pool: invariant violation: " + msg)
}
