// Package config loads the configuration of a pgcluster process from a YAML
// file and the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guileen/pgcluster/cluster"
	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network"
)

// Config is the configuration of a pgcluster process
type Config struct {
	Cluster        ClusterConfig          `yaml:"cluster"`
	Pool           network.PoolSettings   `yaml:"pool"`
	CommandControl network.CommandControl `yaml:"command_control"`
	HTTP           HTTPConfig             `yaml:"http"`
	Logging        LoggingConfig          `yaml:"logging"`
}

// ClusterConfig describes the hosts and how their roles are tracked
type ClusterConfig struct {
	DSNs             []string      `yaml:"dsns"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	// TopologyStorePath enables the persisted topology when set
	TopologyStorePath string `yaml:"topology_store_path"`
}

// HTTPConfig represents the stats and metrics endpoint
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			CheckInterval:    cluster.DefaultCheckInterval,
			DiscoveryTimeout: 2 * time.Second,
		},
		Pool:           network.DefaultPoolSettings(),
		CommandControl: network.DefaultCommandControl(),
		HTTP: HTTPConfig{
			Address: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadFromFile(path string, config *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Unlike the file,
// a malformed number is reported instead of ignored.
func applyEnvOverrides(config *Config) error {
	if dsns := os.Getenv("PGCLUSTER_DSNS"); dsns != "" {
		config.Cluster.DSNs = splitList(dsns)
	}
	if path := os.Getenv("PGCLUSTER_TOPOLOGY_STORE_PATH"); path != "" {
		config.Cluster.TopologyStorePath = path
	}
	if addr := os.Getenv("PGCLUSTER_HTTP_ADDR"); addr != "" {
		config.HTTP.Address = addr
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"PGCLUSTER_POOL_MIN_SIZE", &config.Pool.MinSize},
		{"PGCLUSTER_POOL_MAX_SIZE", &config.Pool.MaxSize},
		{"PGCLUSTER_POOL_MAX_QUEUE_SIZE", &config.Pool.MaxQueueSize},
	}
	for _, o := range ints {
		if v := os.Getenv(o.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = n
		}
	}

	millis := []struct {
		env string
		dst *time.Duration
	}{
		{"PGCLUSTER_NETWORK_TIMEOUT_MS", &config.CommandControl.Network},
		{"PGCLUSTER_STATEMENT_TIMEOUT_MS", &config.CommandControl.Statement},
		{"PGCLUSTER_CHECK_INTERVAL_MS", &config.Cluster.CheckInterval},
	}
	for _, o := range millis {
		if v := os.Getenv(o.env); v != "" {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
			*o.dst = time.Duration(ms) * time.Millisecond
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		if b, err := strconv.ParseBool(addSource); err == nil {
			config.Logging.AddSource = b
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if len(c.Cluster.DSNs) == 0 {
		return fmt.Errorf("%w: at least one DSN is required", network.ErrInvalidConfig)
	}
	for i, dsn := range c.Cluster.DSNs {
		if strings.TrimSpace(dsn) == "" {
			return fmt.Errorf("%w: DSN %d is empty", network.ErrInvalidConfig, i)
		}
	}
	if c.Cluster.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", network.ErrInvalidConfig)
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.CommandControl.Validate(); err != nil {
		return err
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("%w: http address is required", network.ErrInvalidConfig)
	}
	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("%w: unknown log level %q", network.ErrInvalidConfig, c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("%w: log format must be json or text, got %q", network.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// LoggerConfig converts the logging section for logger.NewLogger
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	if level, ok := logger.ParseLevel(c.Logging.Level); ok {
		cfg.Level = level
	}
	cfg.Format = c.Logging.Format
	cfg.AddSource = c.Logging.AddSource
	return cfg
}

// Description returns the cluster description
func (c *Config) Description() cluster.ClusterDescription {
	return cluster.ClusterDescription{DSNs: append([]string(nil), c.Cluster.DSNs...)}
}
