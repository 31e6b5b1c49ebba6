package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/guileen/pgcluster/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopologyStore persists the last known classification of a cluster so a
// restarted router can route before its first discovery completes.
type TopologyStore interface {
	// Load returns ErrTopologyNotFound when nothing was saved under key
	Load(ctx context.Context, key string) (HostsByType, error)
	Save(ctx context.Context, key string, hosts HostsByType) error
}

// ClusterKey identifies a cluster by its set of hosts. Passwords do not take
// part in the key.
func ClusterKey(dsns []string) string {
	safe := make([]string, len(dsns))
	for i, dsn := range dsns {
		safe[i] = network.CutPassword(dsn)
	}
	slices.Sort(safe)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(safe, "\n"))).String()
}

// storedTopology is the on-disk form. DSNs are stored without passwords;
// the cluster maps them back to the hosts it was described with.
type storedTopology struct {
	Hosts HostsByType `json:"hosts"`
}

// PebbleTopologyStore keeps topologies in a pebble database
type PebbleTopologyStore struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// PebbleStoreConfig holds the pebble options of a topology store. A store
// holds one small record per cluster, so the defaults are far below a data
// store's.
type PebbleStoreConfig struct {
	Path               string
	CacheSize          int64
	MemTableSize       int
	MaxOpenFiles       int
	CompressionEnabled bool
}

// DefaultPebbleStoreConfig returns the configuration used by OpenPebbleTopologyStore
func DefaultPebbleStoreConfig(path string) PebbleStoreConfig {
	return PebbleStoreConfig{
		Path:               path,
		CacheSize:          8 << 20,
		MemTableSize:       4 << 20,
		MaxOpenFiles:       64,
		CompressionEnabled: false,
	}
}

// OpenPebbleTopologyStore opens (or creates) the store at path
func OpenPebbleTopologyStore(path string) (*PebbleTopologyStore, error) {
	return OpenPebbleTopologyStoreWithConfig(DefaultPebbleStoreConfig(path))
}

// OpenPebbleTopologyStoreWithConfig opens (or creates) the store described by config
func OpenPebbleTopologyStoreWithConfig(config PebbleStoreConfig) (*PebbleTopologyStore, error) {
	cache := pebble.NewCache(config.CacheSize)
	defer cache.Unref()

	compression := pebble.NoCompression
	if config.CompressionEnabled {
		compression = pebble.SnappyCompression
	}
	opts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: config.MaxOpenFiles,
		MemTableSize: uint64(config.MemTableSize),
		Levels: []pebble.LevelOptions{
			{Compression: compression},
		},
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleTopologyStore{db: db}, nil
}

func topologyKey(key string) []byte {
	return []byte("topology/" + key)
}

func (s *PebbleTopologyStore) Load(ctx context.Context, key string) (HostsByType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, pebble.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, closer, err := s.db.Get(topologyKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrTopologyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	defer closer.Close()

	var stored storedTopology
	if err := json.Unmarshal(value, &stored); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return stored.Hosts.normalize(), nil
}

func (s *PebbleTopologyStore) Save(ctx context.Context, key string, hosts HostsByType) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return pebble.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	safe := make(HostsByType, len(hosts))
	for ht, dsns := range hosts {
		for _, dsn := range dsns {
			safe[ht] = append(safe[ht], network.CutPassword(dsn))
		}
	}
	value, err := json.Marshal(storedTopology{Hosts: safe.normalize()})
	if err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	if err := s.db.Set(topologyKey(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("save topology: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *PebbleTopologyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
