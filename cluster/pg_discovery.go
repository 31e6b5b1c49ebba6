package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network"
)

const (
	isInRecoveryQuery = "SELECT pg_is_in_recovery()"
	syncStandbysQuery = "SELECT application_name FROM pg_stat_replication WHERE sync_state IN ('sync', 'quorum')"

	defaultQueryTimeout = 2 * time.Second
	maxConcurrentQueries = 16
)

// hostReport is what a single host reports about itself
type hostReport struct {
	dsn             string
	applicationName string
	inRecovery      bool
	// syncStandbys are the application names of synchronous standbys, as
	// reported by a primary
	syncStandbys []string
}

type reportFunc func(ctx context.Context, dsn string) (hostReport, error)

// PgDiscovery classifies hosts by asking each of them whether it is in
// recovery. Sync replicas are recognised by matching the application_name of
// their DSN against the synchronous standbys reported by the primary.
type PgDiscovery struct {
	timeout time.Duration
	logger  *slog.Logger
	report  reportFunc
}

// NewPgDiscovery creates a discovery that queries each host with the given timeout
func NewPgDiscovery(timeout time.Duration, log *slog.Logger) *PgDiscovery {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	d := &PgDiscovery{
		timeout: timeout,
		logger:  logger.OrDiscard(log).With(logger.Component("discovery")),
	}
	d.report = d.queryHost
	return d
}

// Discover queries every host concurrently. Unreachable hosts are left out of
// the classification; an error is returned only when no host answered.
func (d *PgDiscovery) Discover(ctx context.Context, dsns []string) (HostsByType, error) {
	if len(dsns) == 0 {
		return nil, ErrNoHostsDiscovered
	}

	reports := make([]*hostReport, len(dsns))
	errs := make([]error, len(dsns))

	var g errgroup.Group
	g.SetLimit(maxConcurrentQueries)
	for i, dsn := range dsns {
		i, dsn := i, dsn
		g.Go(func() error {
			queryCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			report, err := d.report(queryCtx, dsn)
			if err != nil {
				errs[i] = network.NewNetworkError("discover", network.CutPassword(dsn), err)
				d.logger.Warn("host did not answer the role query",
					logger.DSN(network.CutPassword(dsn)),
					logger.ErrorField(err),
				)
				return nil
			}
			reports[i] = &report
			return nil
		})
	}
	_ = g.Wait()

	var answered []hostReport
	for _, p := range reports {
		if p != nil {
			answered = append(answered, *p)
		}
	}
	if len(answered) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoHostsDiscovered, multierr.Combine(errs...))
	}
	return classify(answered), nil
}

// classify turns host reports into roles
func classify(reports []hostReport) HostsByType {
	hosts := HostsByType{}

	var syncNames []string
	for _, p := range reports {
		if !p.inRecovery {
			hosts[Primary] = append(hosts[Primary], p.dsn)
			syncNames = append(syncNames, p.syncStandbys...)
		}
	}

	for _, p := range reports {
		if !p.inRecovery {
			continue
		}
		if p.applicationName != "" && slices.Contains(syncNames, p.applicationName) {
			hosts[SyncReplica] = append(hosts[SyncReplica], p.dsn)
			continue
		}
		hosts[Replica] = append(hosts[Replica], p.dsn)
	}
	return hosts.normalize()
}

func (d *PgDiscovery) queryHost(ctx context.Context, dsn string) (hostReport, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return hostReport{}, err
	}
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return hostReport{}, err
	}
	defer conn.Close(context.Background())

	report := hostReport{
		dsn:             dsn,
		applicationName: config.RuntimeParams["application_name"],
	}
	if err := conn.QueryRow(ctx, isInRecoveryQuery).Scan(&report.inRecovery); err != nil {
		return hostReport{}, err
	}
	if report.inRecovery {
		return report, nil
	}

	rows, err := conn.Query(ctx, syncStandbysQuery)
	if err != nil {
		return hostReport{}, err
	}
	report.syncStandbys, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return hostReport{}, err
	}
	return report, nil
}
