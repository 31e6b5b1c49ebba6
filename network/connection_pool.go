// Connection pooling for PostgreSQL hosts: bounded size, bounded wait queue,
// asynchronous connection creation behind a circuit breaker, background
// cleanup of dirty connections and periodic keepalive pings.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jbenet/goprocess"
	goprocessctx "github.com/jbenet/goprocess/context"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network/internal/pool"
)

// ConnectionPool manages the connections to a single database host
type ConnectionPool struct {
	id        string
	dsn       string
	safeDSN   string
	settings  PoolSettings
	connector Connector
	logger    *slog.Logger
	clock     clock.Clock

	// idle holds connections ready for reuse, oldest first
	idle chan *connEntry
	// mu guards closed against concurrent pushes; pushes hold it shared
	mu     sync.RWMutex
	closed bool

	size      atomic.Int64
	waiting   atomic.Int64
	nextID    atomic.Uint32
	errWindow *pool.ErrorWindow
	cmdCtl    atomic.Pointer[CommandControl]

	stats *poolStats
	proc  goprocess.Process
}

// connEntry is a live connection together with the capacity it holds.
type connEntry struct {
	conn      Connection
	guard     *pool.SizeGuard
	idleSince time.Time
}

// NewConnectionPool validates the configuration, opens MinSize connections
// and starts the keepalive task.
func NewConnectionPool(config PoolConfig, connector Connector) (*ConnectionPool, error) {
	if err := config.Validate(); err != nil {
		return nil, &ConnectionPoolError{Op: "create", DSN: CutPassword(config.DSN), Err: err}
	}
	if connector == nil {
		return nil, &ConnectionPoolError{Op: "create", DSN: CutPassword(config.DSN), Err: fmt.Errorf("%w: nil connector", ErrInvalidConfig)}
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	id := uuid.NewString()
	safeDSN := CutPassword(config.DSN)

	p := &ConnectionPool{
		id:        id,
		dsn:       config.DSN,
		safeDSN:   safeDSN,
		settings:  config.Settings,
		connector: connector,
		logger: logger.OrDiscard(config.Logger).With(
			logger.Component("pool"),
			logger.DSN(safeDSN),
			logger.String("pool_id", id),
		),
		clock:     config.Clock,
		idle:      make(chan *connEntry, config.Settings.MaxSize),
		errWindow: pool.NewErrorWindow(ErrorWindow),
		stats:     newPoolStats(prometheus.Labels{"dsn": safeDSN}),
	}
	cmdCtl := config.CommandControl
	p.cmdCtl.Store(&cmdCtl)
	p.proc = goprocess.WithTeardown(p.teardown)

	p.init()
	return p, nil
}

func (p *ConnectionPool) init() {
	p.logger.Info("creating connection pool",
		logger.Int("min_size", p.settings.MinSize),
		logger.Int("max_size", p.settings.MaxSize),
		logger.Int("max_queue_size", p.settings.MaxQueueSize),
	)

	results := make([]<-chan error, 0, p.settings.MinSize)
	for i := 0; i < p.settings.MinSize; i++ {
		results = append(results, p.connect(pool.NewSizeGuard(&p.size)))
	}
	for _, result := range results {
		if err := <-result; err != nil {
			p.logger.Error("failed to establish connection", logger.ErrorField(err))
		}
	}

	p.logger.Info("connection pool initialized", logger.Int64("open", p.size.Load()))
	p.spawn(p.pingLoop)
}

// ID returns the unique id of this pool instance
func (p *ConnectionPool) ID() string {
	return p.id
}

// DSN returns the pool DSN with the password removed
func (p *ConnectionPool) DSN() string {
	return p.safeDSN
}

// Acquire returns an idle connection, waiting for one until ctx is done.
// The returned handle must be released exactly once.
func (p *ConnectionPool) Acquire(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, p.error("acquire", ErrPoolClosed)
	}
	if deadlineReached(ctx) {
		return nil, p.error("acquire", ErrDeadlineReached)
	}

	start := p.clock.Now()
	entry, err := p.pop(ctx)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now()
	p.stats.acquire.Observe(millis(now.Sub(start)))
	p.stats.used.Add(1)

	entry.conn.SetDefaultCommandControl(p.DefaultCommandControl())
	return newPooledConnection(p, entry, now.Sub(entry.idleSince)), nil
}

// Begin acquires a connection and starts a transaction on it. A nil cmdCtl
// uses the pool default.
func (p *ConnectionPool) Begin(ctx context.Context, opts TransactionOptions, cmdCtl *CommandControl) (*Transaction, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return newTransaction(ctx, conn, opts, p.resolveCommandControl(cmdCtl))
}

// Start acquires a connection for statements run outside a transaction.
func (p *ConnectionPool) Start(ctx context.Context) (*NonTransaction, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return newNonTransaction(conn), nil
}

// SetDefaultCommandControl replaces the command control applied to every
// acquired connection.
func (p *ConnectionPool) SetDefaultCommandControl(cmdCtl CommandControl) {
	p.cmdCtl.Store(&cmdCtl)
}

// DefaultCommandControl returns the current default command control
func (p *ConnectionPool) DefaultCommandControl() CommandControl {
	return *p.cmdCtl.Load()
}

func (p *ConnectionPool) resolveCommandControl(cmdCtl *CommandControl) CommandControl {
	if cmdCtl != nil {
		return *cmdCtl
	}
	return p.DefaultCommandControl()
}

// Close stops background tasks, waits for them to finish and closes every
// idle connection. Connections still checked out are closed on release.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.proc.Close()
}

func (p *ConnectionPool) teardown() error {
	var errs error
	for {
		select {
		case entry := <-p.idle:
			errs = multierr.Append(errs, p.destroy(entry))
		default:
			p.logger.Info("connection pool closed")
			return errs
		}
	}
}

// spawn runs f as a child of the pool process unless the pool is closed.
// Close flips closed under the write lock before closing the process, so a
// child added under the read lock is always waited for.
func (p *ConnectionPool) spawn(f goprocess.ProcessFunc) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.proc.Go(f)
	return true
}

func (p *ConnectionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *ConnectionPool) pop(ctx context.Context) (*connEntry, error) {
	select {
	case entry := <-p.idle:
		return entry, nil
	default:
	}

	waiting := p.waiting.Add(1)
	defer p.waiting.Add(-1)

	if waiting > int64(p.settings.MaxQueueSize) {
		p.stats.queueSize.Add(1)
		p.logger.Warn("wait queue size exceeded", logger.Int64("waiting", waiting))
		return nil, p.error("acquire", ErrQueueSizeExceeded)
	}

	guard := pool.NewSizeGuard(&p.size)
	if guard.Value() <= int64(p.settings.MaxSize) && p.errWindow.Allow(p.clock.Now(), ErrorThreshold) {
		// result is only interesting to the pre-warm path
		p.connect(guard)
	} else {
		guard.Release()
	}

	select {
	case entry := <-p.idle:
		return entry, nil
	case <-ctx.Done():
		p.stats.poolExhaust.Add(1)
		logger.WithContext(p.logger, ctx).Warn("pool exhausted while waiting for a connection",
			logger.Int64("active", p.size.Load()),
			logger.Int64("waiting", p.waiting.Load()),
		)
		return nil, p.error("acquire", fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err()))
	case <-p.proc.Closing():
		return nil, p.error("acquire", ErrPoolClosed)
	}
}

// connect opens one connection in the background. The guard is owned by the
// attempt: it is released on failure, or handed to the new connection.
// The returned channel receives nil or a fatal error, then is closed.
func (p *ConnectionPool) connect(guard *pool.SizeGuard) <-chan error {
	result := make(chan error, 1)
	spawned := p.spawn(func(proc goprocess.Process) {
		defer close(result)
		result <- p.doConnect(proc, guard)
	})
	if !spawned {
		guard.Release()
		close(result)
	}
	return result
}

func (p *ConnectionPool) doConnect(proc goprocess.Process, guard *pool.SizeGuard) error {
	cmdCtl := p.DefaultCommandControl()
	ctx, cancel := context.WithTimeout(goprocessctx.OnClosingContext(proc), cmdCtl.Network)
	defer cancel()

	id := p.nextID.Add(1)
	logger.Trace(ctx, p.logger, "creating connection", logger.Uint64("conn_id", uint64(id)))

	start := p.clock.Now()
	conn, err := p.connector.Connect(ctx, p.dsn, id, cmdCtl)
	if err != nil {
		guard.Release()
		if p.isClosed() {
			return nil
		}
		p.stats.connError.Add(1)
		if IsRecoverableConnectError(err) {
			p.errWindow.Add(p.clock.Now())
			if errors.Is(err, ErrConnectionTimeout) {
				p.stats.errTimeout.Add(1)
			}
			p.logger.Warn("connection attempt failed",
				logger.Uint64("conn_id", uint64(id)),
				logger.ErrorField(err),
			)
			return nil
		}
		p.logger.Error("connection attempt failed with a fatal error",
			logger.Uint64("conn_id", uint64(id)),
			logger.ErrorField(err),
		)
		return p.error("connect", err)
	}

	p.stats.connect.Observe(millis(p.clock.Since(start)))
	p.stats.open.Add(1)
	conn.GetStatsAndReset()
	p.push(&connEntry{conn: conn, guard: guard})
	return nil
}

// push returns a connection to the idle queue, waking one waiter. When the
// pool is closed or the queue is full the connection is destroyed instead.
func (p *ConnectionPool) push(entry *connEntry) {
	p.mu.RLock()
	if !p.closed {
		entry.idleSince = p.clock.Now()
		select {
		case p.idle <- entry:
			p.mu.RUnlock()
			return
		default:
			p.logger.Error("idle queue is full, dropping connection",
				logger.Uint64("conn_id", uint64(entry.conn.ID())))
		}
	}
	p.mu.RUnlock()

	if err := p.destroy(entry); err != nil {
		p.logger.Debug("error closing connection", logger.ErrorField(err))
	}
}

func (p *ConnectionPool) destroy(entry *connEntry) error {
	err := entry.conn.Close()
	if entry.guard.Release() {
		p.stats.drop.Add(1)
	}
	return err
}

// release is the single exit path of a PooledConnection.
func (p *ConnectionPool) release(entry *connEntry) {
	conn := entry.conn

	if !conn.IsInTransaction() {
		p.stats.account(conn.GetStatsAndReset(), p.clock.Now())
	}

	if conn.IsIdle() {
		p.push(entry)
		p.stats.used.Add(-1)
		return
	}

	if !conn.IsConnected() {
		p.stats.connError.Add(1)
		_ = p.destroy(entry)
		p.stats.used.Add(-1)
		return
	}

	p.logger.Warn("released connection in a busy state, trying to clean up",
		logger.Uint64("conn_id", uint64(conn.ID())))
	spawned := p.spawn(func(proc goprocess.Process) {
		defer p.stats.used.Add(-1)
		p.cleanup(proc, entry)
	})
	if !spawned {
		// closed pools do not clean up, the connection is dropped
		_ = p.destroy(entry)
		p.stats.used.Add(-1)
	}
}

func (p *ConnectionPool) cleanup(proc goprocess.Process, entry *connEntry) {
	timeout := p.DefaultCommandControl().Network * CleanupTimeoutFactor
	ctx, cancel := context.WithTimeout(goprocessctx.OnClosingContext(proc), timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during cleanup: %v", r)
			}
		}()
		return entry.conn.Cleanup(ctx)
	}()

	if err == nil && entry.conn.IsIdle() {
		p.logger.Debug("successfully cleaned up a dirty connection",
			logger.Uint64("conn_id", uint64(entry.conn.ID())))
		p.stats.account(entry.conn.GetStatsAndReset(), p.clock.Now())
		p.push(entry)
		return
	}

	if err == nil {
		err = errors.New("connection is not idle after cleanup")
	}
	p.logger.Warn("failed to clean up a dirty connection",
		logger.Uint64("conn_id", uint64(entry.conn.ID())),
		logger.ErrorField(err),
	)
	p.stats.connError.Add(1)
	_ = p.destroy(entry)
}

func (p *ConnectionPool) pingLoop(proc goprocess.Process) {
	ctx := goprocessctx.OnClosingContext(proc)
	ticker := p.clock.Ticker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Closing():
			return
		case <-ticker.C:
			p.pingConnections(ctx)
		}
	}
}

// pingConnections pings idle connections while the pinged ones turn out to
// be stale. The idle queue is FIFO and a pinged connection re-enters it with
// a fresh idle stamp, so consecutive pings walk the queue instead of
// hitting the same connection; MaxSize+1 pings bound one run.
func (p *ConnectionPool) pingConnections(ctx context.Context) {
	if p.waiting.Load() > 0 {
		return
	}
	for i := 0; i <= p.settings.MaxSize; i++ {
		stale, err := p.pingOne(ctx)
		if err != nil || !stale {
			return
		}
	}
}

func (p *ConnectionPool) pingOne(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.DefaultCommandControl().Network)
	defer cancel()

	conn, err := p.Acquire(ctx)
	if err != nil {
		p.logger.Debug("ping skipped, no connection available", logger.ErrorField(err))
		return false, err
	}
	defer conn.Release()

	stale := conn.IdleDuration() >= MaxIdleDuration
	if err := conn.Connection().Ping(ctx); err != nil {
		p.logger.Error("ping failed",
			logger.Uint64("conn_id", uint64(conn.ID())),
			logger.ErrorField(err),
		)
	}
	return stale, nil
}

// Statistics returns a snapshot of the pool counters
func (p *ConnectionPool) Statistics() InstanceStatistics {
	s := p.stats
	return InstanceStatistics{
		ID:  p.id,
		DSN: p.safeDSN,
		Connection: ConnectionCounters{
			Open:         s.open.Load(),
			Drop:         s.drop.Load(),
			Active:       p.size.Load(),
			Used:         s.used.Load(),
			Maximum:      int64(p.settings.MaxSize),
			Waiting:      p.waiting.Load(),
			Error:        s.connError.Load(),
			ErrorTimeout: s.errTimeout.Load(),
		},
		Transaction: TransactionCounters{
			Total:          s.trxTotal.Load(),
			Commit:         s.commit.Load(),
			Rollback:       s.rollback.Load(),
			OutOfTrx:       s.outOfTrx.Load(),
			Execute:        s.execute.Load(),
			Reply:          s.reply.Load(),
			ErrorExecute:   s.errorExecute.Load(),
			ExecuteTimeout: s.executeTimeout.Load(),
		},
		PoolExhaustErrors: s.poolExhaust.Load(),
		QueueSizeErrors:   s.queueSize.Load(),
		ConnectPercentile: readPercentile(s.connect),
		AcquirePercentile: readPercentile(s.acquire),
		TransactionPercentiles: TransactionPercentiles{
			Total:        readPercentile(s.trxTotalTime),
			Busy:         readPercentile(s.busy),
			WaitStart:    readPercentile(s.waitStart),
			WaitEnd:      readPercentile(s.waitEnd),
			ReturnToPool: readPercentile(s.returnToPool),
		},
	}
}

func (p *ConnectionPool) error(op string, err error) error {
	return &ConnectionPoolError{Op: op, DSN: p.safeDSN, Err: err}
}

// deadlineReached reports a context that is already done or whose deadline
// has passed.
func deadlineReached(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}
