package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	// Test NetworkError creation
	origErr := errors.New("connection refused")
	netErr := NewNetworkError("connect", "localhost:5432", origErr)

	if netErr == nil {
		t.Fatal("NewNetworkError returned nil")
	}

	if netErr.Operation != "connect" {
		t.Errorf("Expected operation 'connect', got '%s'", netErr.Operation)
	}

	if netErr.Address != "localhost:5432" {
		t.Errorf("Expected address 'localhost:5432', got '%s'", netErr.Address)
	}

	if !errors.Is(netErr, origErr) {
		t.Error("NetworkError should wrap the original error")
	}

	// Test IsNetworkError
	if !IsNetworkError(netErr) {
		t.Error("IsNetworkError should return true for NetworkError")
	}

	if IsNetworkError(origErr) {
		t.Error("IsNetworkError should return false for non-NetworkError")
	}
}

func TestRecoverableConnectError(t *testing.T) {
	timeout := NewNetworkError("connect", "db1:5432", fmt.Errorf("%w: %w", ErrConnectionTimeout, context.DeadlineExceeded))
	if !IsRecoverableConnectError(timeout) {
		t.Error("timeouts should be recoverable")
	}

	refused := NewNetworkError("connect", "db1:5432", fmt.Errorf("%w: dial tcp: no route", ErrConnectionRefused))
	if !IsRecoverableConnectError(refused) {
		t.Error("refused connections should be recoverable")
	}

	fatal := NewNetworkError("connect", "db1:5432", errors.New("password authentication failed"))
	if IsRecoverableConnectError(fatal) {
		t.Error("authentication failures must not be recoverable")
	}
}

func TestErrorTypeChecking(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	if !IsTimeoutError(ctx.Err()) {
		t.Error("IsTimeoutError should return true for an expired context")
	}

	if !IsTimeoutError(&ConnectionPoolError{Op: "acquire", Err: ErrPoolExhausted}) {
		t.Error("IsTimeoutError should return true for pool exhaustion")
	}

	if IsTimeoutError(ErrQueueSizeExceeded) {
		t.Error("queue overflow is not a timeout")
	}

	connRefused := errors.New("connection refused")
	if !IsConnectionError(connRefused) {
		t.Error("IsConnectionError should return true for 'connection refused'")
	}

	brokenPipe := errors.New("broken pipe")
	if !IsConnectionError(brokenPipe) {
		t.Error("IsConnectionError should return true for 'broken pipe'")
	}

	if IsConnectionError(errors.New("syntax error")) {
		t.Error("IsConnectionError should return false for unrelated errors")
	}
}

func TestWrapError(t *testing.T) {
	origErr := errors.New("original error")
	wrapped := WrapError(origErr, "additional context: %s", "test")

	if wrapped == nil {
		t.Fatal("WrapError returned nil")
	}

	if !errors.Is(wrapped, origErr) {
		t.Error("Wrapped error should contain original error")
	}

	expectedMsg := "additional context: test: original error"
	if wrapped.Error() != expectedMsg {
		t.Errorf("Expected message '%s', got '%s'", expectedMsg, wrapped.Error())
	}

	if WrapError(nil, "ignored") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestConnectionPoolError(t *testing.T) {
	err := &ConnectionPoolError{Op: "acquire", DSN: "host=db1 dbname=app", Err: ErrPoolExhausted}

	if !IsConnectionPoolError(fmt.Errorf("begin: %w", err)) {
		t.Error("IsConnectionPoolError should see through wrapping")
	}
	if !errors.Is(err, ErrPoolExhausted) {
		t.Error("ConnectionPoolError should unwrap to its cause")
	}

	expected := "connection pool error during acquire on host=db1 dbname=app: connection pool exhausted"
	if err.Error() != expected {
		t.Errorf("Expected message '%s', got '%s'", expected, err.Error())
	}
}
