// Package app assembles a pgcluster process with fx: configuration, logging,
// the cluster with its collaborators, and the HTTP stats surface.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/guileen/pgcluster/cluster"
	"github.com/guileen/pgcluster/config"
	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network"
)

// Module returns the whole application, configured from configPath and the
// environment.
func Module(configPath string) fx.Option {
	return fx.Options(
		fx.Provide(func() (*config.Config, error) {
			return config.LoadConfig(configPath)
		}),
		Components,
	)
}

// Components provides everything but the configuration
var Components = fx.Options(
	fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
		return &fxevent.SlogLogger{Logger: log.With(logger.Component("fx"))}
	}),
	fx.Provide(
		NewLogger,
		NewConnector,
		NewDiscovery,
		NewTopologyStore,
		NewCluster,
		NewRegistry,
		NewRouter,
		NewServer,
	),
	fx.Invoke(func(*Server) {}),
)

// NewLogger builds the process logger from the logging section
func NewLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(cfg.LoggerConfig())
}

// NewConnector returns the PostgreSQL connector
func NewConnector() network.Connector {
	return network.NewPgConnectionFactory()
}

// NewDiscovery returns the role discovery probing every host
func NewDiscovery(cfg *config.Config, log *slog.Logger) cluster.Discovery {
	return cluster.NewPgDiscovery(cfg.Cluster.DiscoveryTimeout, log)
}

// NewTopologyStore opens the persisted topology when a path is configured.
// It returns a nil store otherwise.
func NewTopologyStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (cluster.TopologyStore, error) {
	if cfg.Cluster.TopologyStorePath == "" {
		return nil, nil
	}
	store, err := cluster.OpenPebbleTopologyStore(cfg.Cluster.TopologyStorePath)
	if err != nil {
		return nil, err
	}
	log.Info("topology store opened", logger.String("path", cfg.Cluster.TopologyStorePath))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// ClusterParams are the dependencies of the cluster
type ClusterParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *slog.Logger
	Connector network.Connector
	Discovery cluster.Discovery
	Store     cluster.TopologyStore `optional:"true"`
}

// NewCluster creates the cluster and closes it when the application stops
func NewCluster(p ClusterParams) (*cluster.Cluster, error) {
	start := time.Now()
	c, err := cluster.NewCluster(cluster.Config{
		Description:    p.Config.Description(),
		PoolSettings:   p.Config.Pool,
		CommandControl: p.Config.CommandControl,
		Connector:      p.Connector,
		Discovery:      p.Discovery,
		TopologyStore:  p.Store,
		CheckInterval:  p.Config.Cluster.CheckInterval,
		Logger:         p.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.Logger.Info("cluster ready",
		logger.String("cluster_id", c.ID()),
		logger.Duration("init_duration", time.Since(start)),
	)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}
