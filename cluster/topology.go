package cluster

import (
	"slices"
)

// HostsByType maps every role to the DSNs that currently have it.
// A value handed out by the cluster is never modified.
type HostsByType map[HostType][]string

// Clone returns a deep copy
func (h HostsByType) Clone() HostsByType {
	out := make(HostsByType, len(h))
	for ht, dsns := range h {
		out[ht] = slices.Clone(dsns)
	}
	return out
}

// Equal reports whether both classifications hold the same hosts per role
func (h HostsByType) Equal(other HostsByType) bool {
	a, b := h.normalize(), other.normalize()
	if len(a) != len(b) {
		return false
	}
	for ht, dsns := range a {
		if !slices.Equal(dsns, b[ht]) {
			return false
		}
	}
	return true
}

// DSNs returns every host of the classification once, sorted
func (h HostsByType) DSNs() []string {
	var all []string
	for _, dsns := range h {
		all = append(all, dsns...)
	}
	slices.Sort(all)
	return slices.Compact(all)
}

// Empty reports a classification without any host
func (h HostsByType) Empty() bool {
	for _, dsns := range h {
		if len(dsns) > 0 {
			return false
		}
	}
	return true
}

// normalize sorts and dedupes every role, drops empty roles and lists sync
// replicas among the replicas as well.
func (h HostsByType) normalize() HostsByType {
	out := make(HostsByType, len(h))
	for ht, dsns := range h {
		if ht == ReplicaOrPrimary {
			continue
		}
		out[ht] = append(out[ht], dsns...)
	}
	out[Replica] = append(out[Replica], out[SyncReplica]...)
	for ht, dsns := range out {
		slices.Sort(dsns)
		dsns = slices.Compact(dsns)
		if len(dsns) == 0 {
			delete(out, ht)
			continue
		}
		out[ht] = dsns
	}
	return out
}

// candidates returns the hosts eligible for a role
func (h HostsByType) candidates(ht HostType) []string {
	if ht == ReplicaOrPrimary {
		if replicas := h[Replica]; len(replicas) > 0 {
			return replicas
		}
		return h[Primary]
	}
	return h[ht]
}

// roleOf returns the most specific role of a host, or 0
func (h HostsByType) roleOf(dsn string) HostType {
	for _, ht := range []HostType{Primary, SyncReplica, Replica} {
		if slices.Contains(h[ht], dsn) {
			return ht
		}
	}
	return 0
}
