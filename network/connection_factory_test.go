package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectToClosedPortIsRecoverable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dsn := fmt.Sprintf("postgres://app@127.0.0.1:%d/app?sslmode=disable", port)
	conn, err := NewPgConnectionFactory().Connect(ctx, dsn, 1, CommandControl{Network: 2 * time.Second})
	require.Error(t, err)
	assert.Nil(t, conn)

	assert.True(t, IsNetworkError(err))
	assert.True(t, IsRecoverableConnectError(err))
	assert.ErrorIs(t, err, ErrConnectionRefused)
	assert.Contains(t, err.Error(), fmt.Sprintf("127.0.0.1:%d", port))
}

func TestConnectWithUnparsableDSNIsFatal(t *testing.T) {
	conn, err := NewPgConnectionFactory().Connect(context.Background(), "postgres://%zz", 1, DefaultCommandControl())
	require.Error(t, err)
	assert.Nil(t, conn)

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.True(t, IsNetworkError(err))
	assert.False(t, IsRecoverableConnectError(err))
}

func TestClassifyConnectError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	authFailed := &pgconn.PgError{Severity: "FATAL", Code: "28P01", Message: "password authentication failed"}
	badCert := errors.New("tls: failed to verify certificate")

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"dial refused", refused, ErrConnectionRefused},
		{"server hung up", io.ErrUnexpectedEOF, ErrConnectionRefused},
		{"deadline", context.DeadlineExceeded, ErrConnectionTimeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), ErrConnectionTimeout},
		{"authentication", authFailed, nil},
		{"tls", badCert, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyConnectError(tc.err)
			assert.ErrorIs(t, got, tc.err)
			if tc.want == nil {
				assert.Same(t, tc.err, got)
				assert.False(t, IsRecoverableConnectError(got))
				return
			}
			assert.ErrorIs(t, got, tc.want)
			assert.True(t, IsRecoverableConnectError(got))
		})
	}
}

func TestTransactionStatusMapping(t *testing.T) {
	cases := []struct {
		name         string
		closed, busy bool
		status       byte
		idle, open   bool
	}{
		{"idle", false, false, 'I', true, false},
		{"in transaction", false, false, 'T', false, true},
		{"failed transaction", false, false, 'E', false, true},
		{"busy", false, true, 'T', false, false},
		{"busy outside transaction", false, true, 'I', false, false},
		{"closed", true, false, 'I', false, false},
		{"closed in transaction", true, false, 'T', false, false},
		{"unknown status", false, false, 0, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.idle, txIdle(tc.closed, tc.busy, tc.status))
			assert.Equal(t, tc.open, txOpen(tc.closed, tc.busy, tc.status))
		})
	}
}
