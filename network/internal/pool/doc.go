// Package pool holds the lock-free accounting primitives shared by the
// connection pool: a capacity guard over the open-connection counter and a
// sliding window of recent connection failures.
package pool
