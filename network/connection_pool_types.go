package network

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Pool behaviour constants
const (
	// ErrorThreshold is the number of recoverable connect failures within
	// ErrorWindow that stops new connection attempts.
	ErrorThreshold = 2
	ErrorWindow    = 15 * time.Second

	PingInterval    = 30 * time.Second
	MaxIdleDuration = 15 * time.Second

	// CleanupTimeoutFactor multiplies the network timeout to bound the
	// cleanup of a connection released in a dirty state.
	CleanupTimeoutFactor = 10
)

// PoolSettings bounds the number of connections and waiting callers.
type PoolSettings struct {
	MinSize      int `yaml:"min_size" json:"min_size"`
	MaxSize      int `yaml:"max_size" json:"max_size"`
	MaxQueueSize int `yaml:"max_queue_size" json:"max_queue_size"`
}

// DefaultPoolSettings returns the settings used when none are configured
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MinSize:      4,
		MaxSize:      15,
		MaxQueueSize: 200,
	}
}

// Validate checks the settings for consistency
func (s PoolSettings) Validate() error {
	if s.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, s.MaxSize)
	}
	if s.MinSize < 0 {
		return fmt.Errorf("%w: min size must not be negative, got %d", ErrInvalidConfig, s.MinSize)
	}
	if s.MinSize > s.MaxSize {
		return fmt.Errorf("%w: min size %d exceeds max size %d", ErrInvalidConfig, s.MinSize, s.MaxSize)
	}
	if s.MaxQueueSize < 0 {
		return fmt.Errorf("%w: max queue size must not be negative, got %d", ErrInvalidConfig, s.MaxQueueSize)
	}
	return nil
}

// CommandControl holds the timeouts applied to a connection.
// Network bounds every round trip, Statement bounds a single statement
// on the server side.
type CommandControl struct {
	Network   time.Duration `yaml:"network_timeout" json:"network_timeout"`
	Statement time.Duration `yaml:"statement_timeout" json:"statement_timeout"`
}

// DefaultCommandControl returns the command control used when none is configured
func DefaultCommandControl() CommandControl {
	return CommandControl{
		Network:   2 * time.Second,
		Statement: 10 * time.Second,
	}
}

// Validate checks the timeouts
func (c CommandControl) Validate() error {
	if c.Network <= 0 {
		return fmt.Errorf("%w: network timeout must be positive, got %s", ErrInvalidConfig, c.Network)
	}
	if c.Statement < 0 {
		return fmt.Errorf("%w: statement timeout must not be negative, got %s", ErrInvalidConfig, c.Statement)
	}
	return nil
}

// PoolConfig defines configuration for the connection pool
type PoolConfig struct {
	DSN            string
	Settings       PoolSettings
	CommandControl CommandControl
	Logger         *slog.Logger
	Clock          clock.Clock
}

// Validate checks the configuration before any connection is attempted
func (c PoolConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: empty DSN", ErrInvalidConfig)
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	return c.CommandControl.Validate()
}
