package cluster

import (
	"fmt"
	"strings"
)

// HostType is the role a request is routed by
type HostType int

const (
	Primary HostType = iota + 1
	SyncReplica
	Replica
	// ReplicaOrPrimary prefers replicas and falls back to the primary
	ReplicaOrPrimary
)

var hostTypeNames = map[HostType]string{
	Primary:          "primary",
	SyncReplica:      "sync_replica",
	Replica:          "replica",
	ReplicaOrPrimary: "replica_or_primary",
}

func (ht HostType) String() string {
	if name, ok := hostTypeNames[ht]; ok {
		return name
	}
	return fmt.Sprintf("host_type(%d)", int(ht))
}

// ParseHostType converts a role name into a HostType
func ParseHostType(s string) (HostType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for ht, n := range hostTypeNames {
		if n == name {
			return ht, nil
		}
	}
	return 0, fmt.Errorf("unknown host type %q", s)
}

func (ht HostType) MarshalText() ([]byte, error) {
	if _, ok := hostTypeNames[ht]; !ok {
		return nil, fmt.Errorf("unknown host type %d", int(ht))
	}
	return []byte(ht.String()), nil
}

func (ht *HostType) UnmarshalText(text []byte) error {
	parsed, err := ParseHostType(string(text))
	if err != nil {
		return err
	}
	*ht = parsed
	return nil
}
