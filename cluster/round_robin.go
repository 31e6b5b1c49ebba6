package cluster

import "sync/atomic"

// roundRobin is a cursor shared by every selection, whatever the candidate
// list it is applied to.
type roundRobin struct {
	current atomic.Uint32
}

// next picks an index in [0, n)
func (r *roundRobin) next(n int) int {
	if n <= 1 {
		return 0
	}
	return int(r.current.Add(1) % uint32(n))
}
