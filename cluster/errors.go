package cluster

import (
	"errors"
	"fmt"
)

var (
	ErrClusterUnavailable = errors.New("cluster unavailable")
	ErrTopologyNotFound   = errors.New("topology not found")
	ErrNoHostsDiscovered  = errors.New("discovery returned no hosts")
)

// RoleUnavailableError is returned when no host currently has the requested role
type RoleUnavailableError struct {
	HostType HostType
}

func (e *RoleUnavailableError) Error() string {
	return fmt.Sprintf("no host available for role %s", e.HostType)
}

// Is matches ErrClusterUnavailable
func (e *RoleUnavailableError) Is(target error) bool {
	return target == ErrClusterUnavailable
}

// IsRoleUnavailable checks if an error is a RoleUnavailableError
func IsRoleUnavailable(err error) bool {
	var target *RoleUnavailableError
	return errors.As(err, &target)
}
