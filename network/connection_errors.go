package network

import (
	"errors"
	"fmt"
)

// ConnectionPoolError represents errors specific to connection pool operations
type ConnectionPoolError struct {
	Op  string
	DSN string // password stripped
	Err error
}

func (e *ConnectionPoolError) Error() string {
	if e.DSN != "" {
		return fmt.Sprintf("connection pool error during %s on %s: %v", e.Op, e.DSN, e.Err)
	}
	return fmt.Sprintf("connection pool error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionPoolError) Unwrap() error {
	return e.Err
}

// IsConnectionPoolError checks if an error is a connection pool error
func IsConnectionPoolError(err error) bool {
	var target *ConnectionPoolError
	return errors.As(err, &target)
}

var (
	ErrInvalidConfig     = errors.New("invalid pool configuration")
	ErrDeadlineReached   = errors.New("deadline reached before acquiring a connection")
	ErrQueueSizeExceeded = errors.New("wait queue size exceeded")
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrPoolClosed        = errors.New("connection pool is closed")
	ErrConnectionTimeout = errors.New("connection timed out")
	ErrConnectionRefused = errors.New("connection refused")
	ErrTransactionDone   = errors.New("transaction already finished")
)
