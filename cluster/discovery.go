package cluster

import (
	"context"
	"sync"
	"sync/atomic"
)

// Discovery classifies cluster hosts into roles
type Discovery interface {
	Discover(ctx context.Context, dsns []string) (HostsByType, error)
}

// StaticDiscovery returns a fixed classification that can be replaced at
// runtime. It serves single-host setups and tests.
type StaticDiscovery struct {
	hosts atomic.Pointer[HostsByType]
	calls atomic.Int64

	mu  sync.Mutex
	err error
}

// NewStaticDiscovery creates a discovery that always reports hosts
func NewStaticDiscovery(hosts HostsByType) *StaticDiscovery {
	d := &StaticDiscovery{}
	d.Set(hosts)
	return d
}

// Set replaces the reported classification
func (d *StaticDiscovery) Set(hosts HostsByType) {
	cloned := hosts.Clone()
	d.hosts.Store(&cloned)
}

// SetError makes Discover fail with err until it is reset with nil
func (d *StaticDiscovery) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Calls returns the number of Discover calls
func (d *StaticDiscovery) Calls() int64 {
	return d.calls.Load()
}

func (d *StaticDiscovery) Discover(ctx context.Context, dsns []string) (HostsByType, error) {
	d.calls.Add(1)
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return (*d.hosts.Load()).Clone(), nil
}
