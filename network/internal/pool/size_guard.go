package pool

import "sync/atomic"

// SizeGuard reserves one unit of pool capacity. The counter is incremented
// when the guard is created and decremented exactly once by Release, however
// many times Release is called.
type SizeGuard struct {
	counter  *atomic.Int64
	value    int64
	released atomic.Bool
}

// NewSizeGuard increments counter and remembers the value it produced.
func NewSizeGuard(counter *atomic.Int64) *SizeGuard {
	return &SizeGuard{
		counter: counter,
		value:   counter.Add(1),
	}
}

// Value is the counter value observed right after the increment.
func (g *SizeGuard) Value() int64 {
	return g.value
}

// Release gives the reserved capacity back. It reports whether this call
// performed the decrement.
func (g *SizeGuard) Release() bool {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return false
	}
	g.counter.Add(-1)
	return true
}
