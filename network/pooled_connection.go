package network

import (
	"sync/atomic"
	"time"
)

// PooledConnection is a connection checked out of a ConnectionPool. It must
// be returned with Release on every path; Release is idempotent.
type PooledConnection struct {
	pool     *ConnectionPool
	entry    *connEntry
	idleFor  time.Duration
	released atomic.Bool
}

func newPooledConnection(p *ConnectionPool, entry *connEntry, idleFor time.Duration) *PooledConnection {
	return &PooledConnection{
		pool:    p,
		entry:   entry,
		idleFor: idleFor,
	}
}

// ID returns the connection id assigned by the pool
func (c *PooledConnection) ID() uint32 {
	return c.entry.conn.ID()
}

// Connection exposes the underlying connection. It must not be used after
// Release.
func (c *PooledConnection) Connection() Connection {
	return c.entry.conn
}

// IdleDuration is how long the connection sat in the idle queue before it
// was acquired.
func (c *PooledConnection) IdleDuration() time.Duration {
	return c.idleFor
}

// Release returns the connection to its pool
func (c *PooledConnection) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.pool.release(c.entry)
}
