// Package cluster routes transactions to the hosts of a PostgreSQL cluster by
// role. The role classification and the per-host pools are published together
// as one immutable snapshot, replaced atomically when the topology changes.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jbenet/goprocess"
	goprocessctx "github.com/jbenet/goprocess/context"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network"
)

// DefaultCheckInterval is the period of topology refresh
const DefaultCheckInterval = 5 * time.Second

// ClusterDescription lists the hosts of a cluster; roles are discovered
type ClusterDescription struct {
	DSNs []string `yaml:"dsns" json:"dsns"`
}

// Config holds everything needed to build a Cluster
type Config struct {
	Description    ClusterDescription
	PoolSettings   network.PoolSettings
	CommandControl network.CommandControl
	Connector      network.Connector
	Discovery      Discovery
	// TopologyStore is optional
	TopologyStore TopologyStore
	CheckInterval time.Duration
	Logger        *slog.Logger
	Clock         clock.Clock
}

// TopologyCheckResult is the outcome of one CheckTopology call
type TopologyCheckResult int

const (
	// TopologyBusy means another check was in flight; nothing was done
	TopologyBusy TopologyCheckResult = iota
	TopologyUnchanged
	TopologyUpdated
	TopologyFailed
)

func (r TopologyCheckResult) String() string {
	switch r {
	case TopologyBusy:
		return "busy"
	case TopologyUnchanged:
		return "unchanged"
	case TopologyUpdated:
		return "updated"
	case TopologyFailed:
		return "failed"
	}
	return fmt.Sprintf("topology_check_result(%d)", int(r))
}

// clusterState is the immutable snapshot readers load in one step
type clusterState struct {
	topology HostsByType
	pools    map[string]*network.ConnectionPool
}

// Cluster routes transactions to per-host connection pools by role
type Cluster struct {
	id        string
	key       string
	dsns      []string
	settings  network.PoolSettings
	connector network.Connector
	discovery Discovery
	store     TopologyStore
	interval  time.Duration
	logger    *slog.Logger
	poolLog   *slog.Logger
	clock     clock.Clock

	state    atomic.Pointer[clusterState]
	cursor   roundRobin
	checking atomic.Bool
	cmdCtl   atomic.Pointer[network.CommandControl]

	// mu orders snapshot installs against Close
	mu     sync.Mutex
	closed bool
	proc   goprocess.Process
}

// NewCluster creates a pool per described host, runs a first discovery and
// starts the periodic topology refresh.
func NewCluster(cfg Config) (*Cluster, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	log := logger.OrDiscard(cfg.Logger)
	id := uuid.NewString()

	dsns := slices.Clone(cfg.Description.DSNs)
	slices.Sort(dsns)
	dsns = slices.Compact(dsns)

	c := &Cluster{
		id:        id,
		key:       ClusterKey(dsns),
		dsns:      dsns,
		settings:  cfg.PoolSettings,
		connector: cfg.Connector,
		discovery: cfg.Discovery,
		store:     cfg.TopologyStore,
		interval:  cfg.CheckInterval,
		logger:    log.With(logger.Component("cluster"), logger.String("cluster_id", id)),
		poolLog:   log,
		clock:     cfg.Clock,
	}
	cmdCtl := cfg.CommandControl
	c.cmdCtl.Store(&cmdCtl)

	pools, err := c.createPools(dsns)
	if err != nil {
		return nil, err
	}
	c.state.Store(&clusterState{
		topology: c.loadTopology(),
		pools:    pools,
	})
	c.proc = goprocess.WithTeardown(c.teardown)

	ctx, cancel := context.WithTimeout(goprocessctx.OnClosingContext(c.proc), c.interval)
	result := c.CheckTopology(ctx)
	cancel()
	c.logger.Info("cluster initialized",
		logger.Int("hosts", len(dsns)),
		logger.String("topology", result.String()),
	)

	c.proc.Go(c.refreshLoop)
	return c, nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.Description.DSNs) == 0 {
		return fmt.Errorf("%w: cluster has no hosts", network.ErrInvalidConfig)
	}
	// pools, metrics and the persisted topology are keyed by the DSN
	// without its password
	safe := make(map[string]string, len(cfg.Description.DSNs))
	for _, dsn := range cfg.Description.DSNs {
		if dsn == "" {
			return fmt.Errorf("%w: empty DSN in cluster description", network.ErrInvalidConfig)
		}
		cut := network.CutPassword(dsn)
		if prev, ok := safe[cut]; ok && prev != dsn {
			return fmt.Errorf("%w: DSNs for %s differ only in password", network.ErrInvalidConfig, cut)
		}
		safe[cut] = dsn
	}
	if err := cfg.PoolSettings.Validate(); err != nil {
		return err
	}
	if err := cfg.CommandControl.Validate(); err != nil {
		return err
	}
	if cfg.Connector == nil {
		return fmt.Errorf("%w: nil connector", network.ErrInvalidConfig)
	}
	if cfg.Discovery == nil {
		return fmt.Errorf("%w: nil discovery", network.ErrInvalidConfig)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return nil
}

// createPools builds pools for dsns concurrently. On failure every pool
// created so far is closed.
func (c *Cluster) createPools(dsns []string) (map[string]*network.ConnectionPool, error) {
	created := make([]*network.ConnectionPool, len(dsns))

	var g errgroup.Group
	for i, dsn := range dsns {
		i, dsn := i, dsn
		g.Go(func() error {
			p, err := network.NewConnectionPool(network.PoolConfig{
				DSN:            dsn,
				Settings:       c.settings,
				CommandControl: c.DefaultCommandControl(),
				Logger:         c.poolLog,
				Clock:          c.clock,
			}, c.connector)
			if err != nil {
				return err
			}
			created[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var live []*network.ConnectionPool
		for _, p := range created {
			if p != nil {
				live = append(live, p)
			}
		}
		return nil, multierr.Append(err, closePools(live))
	}

	pools := make(map[string]*network.ConnectionPool, len(dsns))
	for i, dsn := range dsns {
		pools[dsn] = created[i]
	}
	return pools, nil
}

func (c *Cluster) loadTopology() HostsByType {
	if c.store == nil {
		return HostsByType{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stored, err := c.store.Load(ctx, c.key)
	if err != nil {
		if !errors.Is(err, ErrTopologyNotFound) {
			c.logger.Warn("failed to load persisted topology", logger.ErrorField(err))
		}
		return HostsByType{}
	}

	// stored DSNs carry no password: map them back to the described hosts
	bySafe := make(map[string]string, len(c.dsns))
	for _, dsn := range c.dsns {
		bySafe[network.CutPassword(dsn)] = dsn
	}
	hosts := HostsByType{}
	for ht, dsns := range stored {
		for _, safe := range dsns {
			if dsn, ok := bySafe[safe]; ok {
				hosts[ht] = append(hosts[ht], dsn)
			}
		}
	}
	hosts = hosts.normalize()
	c.logger.Info("loaded persisted topology", logger.Int("hosts", len(hosts.DSNs())))
	return hosts
}

func (c *Cluster) saveTopology(ctx context.Context, hosts HostsByType) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.key, hosts); err != nil {
		c.logger.Warn("failed to persist topology", logger.ErrorField(err))
	}
}

// ID returns the unique id of this cluster instance
func (c *Cluster) ID() string {
	return c.id
}

// Begin starts a transaction on a host with the requested role. A nil cmdCtl
// uses the cluster default.
func (c *Cluster) Begin(ctx context.Context, ht HostType, opts network.TransactionOptions, cmdCtl *network.CommandControl) (*network.Transaction, error) {
	p, err := c.findPool(ht)
	if err != nil {
		return nil, err
	}
	if cmdCtl == nil {
		current := c.DefaultCommandControl()
		cmdCtl = &current
	}
	return p.Begin(ctx, opts, cmdCtl)
}

// Start returns a handle for statements run outside a transaction on a host
// with the requested role.
func (c *Cluster) Start(ctx context.Context, ht HostType) (*network.NonTransaction, error) {
	p, err := c.findPool(ht)
	if err != nil {
		return nil, err
	}
	return p.Start(ctx)
}

// findPool selects a pool for the role from a single snapshot load
func (c *Cluster) findPool(ht HostType) (*network.ConnectionPool, error) {
	state := c.state.Load()

	candidates := state.topology.candidates(ht)
	if len(candidates) == 0 {
		return nil, &RoleUnavailableError{HostType: ht}
	}
	dsn := candidates[c.cursor.next(len(candidates))]

	p, ok := state.pools[dsn]
	if !ok {
		return nil, fmt.Errorf("%w: no pool for %s", ErrClusterUnavailable, network.CutPassword(dsn))
	}
	return p, nil
}

// Topology returns a copy of the current role classification
func (c *Cluster) Topology() HostsByType {
	return c.state.Load().topology.Clone()
}

// CheckTopology runs discovery and installs a new snapshot when the
// classification changed. Only one check runs at a time; a concurrent call
// returns TopologyBusy without doing anything.
func (c *Cluster) CheckTopology(ctx context.Context) TopologyCheckResult {
	if !c.checking.CompareAndSwap(false, true) {
		return TopologyBusy
	}
	defer c.checking.Store(false)

	if c.closing() {
		return TopologyFailed
	}
	log := logger.WithContext(c.logger, ctx)

	current := c.state.Load()
	hosts, err := c.discovery.Discover(ctx, c.dsns)
	if err == nil && hosts.Empty() {
		err = ErrNoHostsDiscovered
	}
	if err != nil {
		log.Warn("topology discovery failed, keeping the current topology", logger.ErrorField(err))
		return TopologyFailed
	}
	hosts = hosts.normalize()
	if hosts.Equal(current.topology) {
		return TopologyUnchanged
	}

	next := &clusterState{
		topology: hosts,
		pools:    make(map[string]*network.ConnectionPool, len(current.pools)),
	}
	var added []string
	for _, dsn := range hosts.DSNs() {
		if p, ok := current.pools[dsn]; ok {
			next.pools[dsn] = p
			continue
		}
		added = append(added, dsn)
	}
	created, err := c.createPools(added)
	if err != nil {
		log.Error("failed to create pools for new hosts", logger.ErrorField(err))
		return TopologyFailed
	}
	for dsn, p := range created {
		next.pools[dsn] = p
	}

	var retired []*network.ConnectionPool
	for dsn, p := range current.pools {
		if _, ok := next.pools[dsn]; !ok {
			retired = append(retired, p)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = closePools(mapValues(created))
		return TopologyFailed
	}
	c.state.Store(next)
	c.retire(retired)
	c.mu.Unlock()

	// a default set while the new pools were being built must reach them too
	cmdCtl := c.DefaultCommandControl()
	for _, p := range created {
		p.SetDefaultCommandControl(cmdCtl)
	}

	c.saveTopology(ctx, hosts)

	log.Info("topology updated",
		logger.Int("primary", len(hosts[Primary])),
		logger.Int("sync_replicas", len(hosts[SyncReplica])),
		logger.Int("replicas", len(hosts[Replica])),
		logger.Int("added", len(created)),
		logger.Int("retired", len(retired)),
	)
	return TopologyUpdated
}

// retire closes pools of hosts that left the topology in the background.
// Transactions already bound to them keep their connections. Callers hold
// c.mu with the cluster open.
func (c *Cluster) retire(pools []*network.ConnectionPool) {
	if len(pools) == 0 {
		return
	}
	c.proc.Go(func(goprocess.Process) {
		if err := closePools(pools); err != nil {
			c.logger.Warn("error closing retired pools", logger.ErrorField(err))
		}
	})
}

func (c *Cluster) refreshLoop(proc goprocess.Process) {
	ctx := goprocessctx.OnClosingContext(proc)
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Closing():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, c.interval)
			c.CheckTopology(checkCtx)
			cancel()
		}
	}
}

// SetDefaultCommandControl replaces the cluster default and hands it to every
// pool. Setting the current value again does nothing.
func (c *Cluster) SetDefaultCommandControl(cmdCtl network.CommandControl) {
	if *c.cmdCtl.Load() == cmdCtl {
		return
	}
	c.cmdCtl.Store(&cmdCtl)
	for _, p := range c.state.Load().pools {
		p.SetDefaultCommandControl(cmdCtl)
	}
}

// DefaultCommandControl returns the cluster default command control
func (c *Cluster) DefaultCommandControl() network.CommandControl {
	return *c.cmdCtl.Load()
}

// Close stops the topology refresh and closes every pool
func (c *Cluster) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.proc.Close()
}

func (c *Cluster) teardown() error {
	err := closePools(mapValues(c.state.Load().pools))
	c.logger.Info("cluster closed")
	return err
}

func (c *Cluster) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func closePools(pools []*network.ConnectionPool) error {
	errs := make([]error, len(pools))
	var g errgroup.Group
	for i, p := range pools {
		i, p := i, p
		g.Go(func() error {
			errs[i] = p.Close()
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

func mapValues(pools map[string]*network.ConnectionPool) []*network.ConnectionPool {
	out := make([]*network.ConnectionPool, 0, len(pools))
	for _, p := range pools {
		out = append(out, p)
	}
	return out
}
