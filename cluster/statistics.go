package cluster

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guileen/pgcluster/network"
)

// ClusterStatistics groups pool statistics by the role of their host
type ClusterStatistics struct {
	ID           string                       `json:"id"`
	Primary      []network.InstanceStatistics `json:"primary"`
	SyncReplicas []network.InstanceStatistics `json:"sync_replicas"`
	Replicas     []network.InstanceStatistics `json:"replicas"`
	// Unknown holds pools whose host has no role in the current topology
	Unknown []network.InstanceStatistics `json:"unknown"`
}

// Statistics returns a snapshot of every pool, grouped by role
func (c *Cluster) Statistics() ClusterStatistics {
	state := c.state.Load()
	stats := ClusterStatistics{ID: c.id}

	dsns := make([]string, 0, len(state.pools))
	for dsn := range state.pools {
		dsns = append(dsns, dsn)
	}
	slices.Sort(dsns)

	for _, dsn := range dsns {
		st := state.pools[dsn].Statistics()
		switch state.topology.roleOf(dsn) {
		case Primary:
			stats.Primary = append(stats.Primary, st)
		case SyncReplica:
			stats.SyncReplicas = append(stats.SyncReplicas, st)
		case Replica:
			stats.Replicas = append(stats.Replicas, st)
		default:
			stats.Unknown = append(stats.Unknown, st)
		}
	}
	return stats
}

var hostsDesc = prometheus.NewDesc(
	prometheus.BuildFQName("pgcluster", "cluster", "hosts"),
	"Hosts of the cluster by role.",
	[]string{"role"}, nil,
)

// Describe sends nothing; the cluster is an unchecked collector
func (c *Cluster) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector for the cluster and all its pools
func (c *Cluster) Collect(ch chan<- prometheus.Metric) {
	state := c.state.Load()
	for _, ht := range []HostType{Primary, SyncReplica, Replica} {
		ch <- prometheus.MustNewConstMetric(hostsDesc, prometheus.GaugeValue,
			float64(len(state.topology[ht])), ht.String())
	}
	for _, p := range state.pools {
		p.Collect(ch)
	}
}
