package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockConnectionFactory implements Connector for testing. Connect attempts
// can be scripted to fail or to block until Unblock is called.
type MockConnectionFactory struct {
	clock clock.Clock

	mu          sync.Mutex
	failures    []error
	gate        chan struct{}
	attempts    int
	live        int
	maxLive     int
	connections []*MockConnection
}

// NewMockConnectionFactory creates a new mock connection factory for testing
func NewMockConnectionFactory(clk clock.Clock) *MockConnectionFactory {
	if clk == nil {
		clk = clock.New()
	}
	return &MockConnectionFactory{clock: clk}
}

// FailNext queues errors returned by the next connect attempts, in order
func (cf *MockConnectionFactory) FailNext(errs ...error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.failures = append(cf.failures, errs...)
}

// Block makes connect attempts wait until Unblock or until their context ends
func (cf *MockConnectionFactory) Block() {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.gate == nil {
		cf.gate = make(chan struct{})
	}
}

// Unblock releases every blocked connect attempt
func (cf *MockConnectionFactory) Unblock() {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.gate != nil {
		close(cf.gate)
		cf.gate = nil
	}
}

// Attempts returns the number of Connect calls so far
func (cf *MockConnectionFactory) Attempts() int {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.attempts
}

// Live returns the number of connections created and not yet closed
func (cf *MockConnectionFactory) Live() int {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.live
}

// MaxLive returns the highest number of simultaneously live connections
func (cf *MockConnectionFactory) MaxLive() int {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.maxLive
}

// Connections returns every connection created so far
func (cf *MockConnectionFactory) Connections() []*MockConnection {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return append([]*MockConnection(nil), cf.connections...)
}

// Connect creates a mock connection for testing
func (cf *MockConnectionFactory) Connect(ctx context.Context, dsn string, id uint32, cmdCtl CommandControl) (Connection, error) {
	cf.mu.Lock()
	cf.attempts++
	gate := cf.gate
	var failure error
	if len(cf.failures) > 0 {
		failure = cf.failures[0]
		cf.failures = cf.failures[1:]
	}
	cf.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, NewNetworkError("mock_connect", dsn, fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err()))
		}
	}
	if failure != nil {
		return nil, NewNetworkError("mock_connect", dsn, failure)
	}

	conn := &MockConnection{
		factory:   cf,
		id:        id,
		dsn:       dsn,
		cmdCtl:    cmdCtl,
		connected: true,
	}
	conn.stats.now = cf.clock.Now

	cf.mu.Lock()
	cf.live++
	if cf.live > cf.maxLive {
		cf.maxLive = cf.live
	}
	cf.connections = append(cf.connections, conn)
	cf.mu.Unlock()

	return conn, nil
}

func (cf *MockConnectionFactory) closed() {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.live--
}

// MockConnection implements Connection for testing
type MockConnection struct {
	factory *MockConnectionFactory
	id      uint32
	dsn     string

	mu         sync.Mutex
	cmdCtl     CommandControl
	trxCmdCtl  *CommandControl
	connected  bool
	inTrx      bool
	dirty      bool
	closed     bool
	cleanupErr error
	cleanups   int
	pings      int
	statements []string
	stats      statsTracker
}

// DSN returns the DSN the connection was opened with
func (mc *MockConnection) DSN() string {
	return mc.dsn
}

func (mc *MockConnection) ID() uint32 {
	return mc.id
}

func (mc *MockConnection) IsConnected() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connected
}

func (mc *MockConnection) IsIdle() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connected && !mc.inTrx && !mc.dirty
}

func (mc *MockConnection) IsInTransaction() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connected && mc.inTrx && !mc.dirty
}

// Drop simulates a broken network connection
func (mc *MockConnection) Drop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.connected = false
}

// MakeDirty leaves the connection with a command in flight
func (mc *MockConnection) MakeDirty() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.dirty = true
}

// FailCleanup makes the next cleanups return err; nil restores success
func (mc *MockConnection) FailCleanup(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cleanupErr = err
}

// Cleanups returns the number of Cleanup calls
func (mc *MockConnection) Cleanups() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cleanups
}

// Pings returns the number of Ping calls
func (mc *MockConnection) Pings() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.pings
}

// Statements returns every statement executed on the connection
func (mc *MockConnection) Statements() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]string(nil), mc.statements...)
}

// CommandControl returns the command control currently in effect
func (mc *MockConnection) CommandControl() CommandControl {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.trxCmdCtl != nil {
		return *mc.trxCmdCtl
	}
	return mc.cmdCtl
}

// Closed reports whether Close was called
func (mc *MockConnection) Closed() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.closed
}

func (mc *MockConnection) Ping(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pings++
	if !mc.connected {
		return errors.New("mock connection is not connected")
	}
	return ctx.Err()
}

func (mc *MockConnection) Cleanup(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cleanups++
	if mc.cleanupErr != nil {
		return mc.cleanupErr
	}
	if mc.inTrx {
		mc.stats.trxFinished(false)
	}
	mc.dirty = false
	mc.inTrx = false
	mc.trxCmdCtl = nil
	return nil
}

func (mc *MockConnection) Begin(ctx context.Context, opts TransactionOptions, cmdCtl CommandControl) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.connected {
		return errors.New("mock connection is not connected")
	}
	mc.statements = append(mc.statements, opts.BeginStatement())
	mc.inTrx = true
	mc.trxCmdCtl = &cmdCtl
	mc.stats.trxStarted()
	return nil
}

func (mc *MockConnection) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.connected {
		return CommandTag{}, errors.New("mock connection is not connected")
	}
	start := mc.stats.executeStarted(mc.inTrx)
	mc.statements = append(mc.statements, query)
	err := ctx.Err()
	mc.stats.executeFinished(start, err, errors.Is(err, context.DeadlineExceeded))
	if err != nil {
		return CommandTag{}, err
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (mc *MockConnection) Commit(ctx context.Context) error {
	return mc.finish("COMMIT", true)
}

func (mc *MockConnection) Rollback(ctx context.Context) error {
	return mc.finish("ROLLBACK", false)
}

func (mc *MockConnection) finish(stmt string, commit bool) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.connected {
		return errors.New("mock connection is not connected")
	}
	mc.statements = append(mc.statements, stmt)
	if mc.inTrx {
		mc.stats.trxFinished(commit)
	}
	mc.inTrx = false
	mc.trxCmdCtl = nil
	return nil
}

func (mc *MockConnection) SetDefaultCommandControl(cmdCtl CommandControl) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cmdCtl = cmdCtl
}

func (mc *MockConnection) GetStatsAndReset() ConnectionStatistics {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.stats.getAndReset()
}

func (mc *MockConnection) Close() error {
	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return nil
	}
	mc.closed = true
	mc.connected = false
	mc.mu.Unlock()

	mc.factory.closed()
	return nil
}
