// Package pool implements the per-origin HTTP/1.1 connection pool state
// machine: for every incoming request it decides whether to execute it
// on an existing idle connection, queue it until one becomes available,
// or trigger creation of a new connection, and it drives the lifecycle
// of connections (starting, backing off, idle, leased, closed) under
// concurrent load.
//
// The decision logic (http1StateMachine) is kept pure and lock-free by
// construction: it only ever mutates its own fields and returns an
// action describing what the caller — PoolExecutor, embodied here by
// Pool — should do outside the lock. See DESIGN.md for how each piece
// maps onto the reference design this package implements.
package pool
