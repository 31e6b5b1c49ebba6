package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// NetworkError represents a structured network error
type NetworkError struct {
	Operation string
	Address   string
	Err       error
}

func (ne *NetworkError) Error() string {
	if ne.Address != "" {
		return fmt.Sprintf("network error during %s to %s: %v", ne.Operation, ne.Address, ne.Err)
	}
	return fmt.Sprintf("network error during %s: %v", ne.Operation, ne.Err)
}

func (ne *NetworkError) Unwrap() error {
	return ne.Err
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// NewNetworkError creates a new network error
func NewNetworkError(operation, address string, err error) *NetworkError {
	return &NetworkError{
		Operation: operation,
		Address:   address,
		Err:       err,
	}
}

// IsRecoverableConnectError reports whether a connect failure belongs to the
// timeout or connection-refused class. Those failures feed the circuit
// breaker and are never returned to an acquiring caller.
func IsRecoverableConnectError(err error) bool {
	return errors.Is(err, ErrConnectionTimeout) || errors.Is(err, ErrConnectionRefused)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrDeadlineReached) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), "i/o timeout")
}

// IsConnectionError checks if an error is a connection error
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrConnectionRefused) || errors.Is(err, ErrConnectionTimeout) {
		return true
	}

	// the server hung up during startup
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Check for network errors
	if IsNetworkError(err) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// Check for standard connection errors
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

// WrapError wraps an error with additional context
func WrapError(err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), err)
}
