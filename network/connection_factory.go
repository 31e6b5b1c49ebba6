package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const sqlStateQueryCanceled = "57014"

// PgConnectionFactory implements Connector over pgx
type PgConnectionFactory struct {
	// RuntimeParams are sent with every startup message
	RuntimeParams map[string]string
}

// NewPgConnectionFactory creates a new PostgreSQL connection factory
func NewPgConnectionFactory() *PgConnectionFactory {
	return &PgConnectionFactory{}
}

// Connect opens a PostgreSQL connection. Timeouts and dial failures are
// reported as recoverable, server errors such as authentication failures
// are fatal.
func (cf *PgConnectionFactory) Connect(ctx context.Context, dsn string, id uint32, cmdCtl CommandControl) (Connection, error) {
	address := HostPort(dsn)

	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, NewNetworkError("parse_dsn", address, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if cmdCtl.Network > 0 {
		config.ConnectTimeout = cmdCtl.Network
	}
	for k, v := range cf.RuntimeParams {
		config.RuntimeParams[k] = v
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, NewNetworkError("connect", address, classifyConnectError(err))
	}

	pc := &pgConnection{
		id:     id,
		conn:   conn,
		cmdCtl: cmdCtl,
	}
	pc.stats.now = time.Now
	return pc, nil
}

// classifyConnectError sorts a failed connect into the timeout or
// connection-refused class. Server errors and failures outside the transport
// are returned unchanged and are fatal.
func classifyConnectError(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return err
	case pgconn.Timeout(err), IsTimeoutError(err):
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	case IsConnectionError(err):
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	default:
		return err
	}
}

// pgConnection implements Connection over a single pgx.Conn
type pgConnection struct {
	id     uint32
	conn   *pgx.Conn
	cmdCtl CommandControl
	// trxCmdCtl overrides cmdCtl until the current transaction ends
	trxCmdCtl *CommandControl
	// sessionStatementTimeout is the statement_timeout last set on the session
	sessionStatementTimeout time.Duration
	stats                   statsTracker
}

func (c *pgConnection) ID() uint32 {
	return c.id
}

func (c *pgConnection) IsConnected() bool {
	return !c.conn.IsClosed()
}

func (c *pgConnection) IsIdle() bool {
	pg := c.conn.PgConn()
	return txIdle(c.conn.IsClosed(), pg.IsBusy(), pg.TxStatus())
}

func (c *pgConnection) IsInTransaction() bool {
	pg := c.conn.PgConn()
	return txOpen(c.conn.IsClosed(), pg.IsBusy(), pg.TxStatus())
}

// txIdle and txOpen read the ReadyForQuery transaction status: 'I' idle,
// 'T' in a transaction block, 'E' in a failed one. A busy or closed
// connection is neither.
func txIdle(closed, busy bool, status byte) bool {
	return !closed && !busy && status == 'I'
}

func txOpen(closed, busy bool, status byte) bool {
	if closed || busy {
		return false
	}
	return status == 'T' || status == 'E'
}

func (c *pgConnection) currentCommandControl() CommandControl {
	if c.trxCmdCtl != nil {
		return *c.trxCmdCtl
	}
	return c.cmdCtl
}

func (c *pgConnection) roundTrip(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := c.currentCommandControl().Network; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (c *pgConnection) Ping(ctx context.Context) error {
	ctx, cancel := c.roundTrip(ctx)
	defer cancel()
	return c.conn.Ping(ctx)
}

func (c *pgConnection) Cleanup(ctx context.Context) error {
	pg := c.conn.PgConn()
	if pg.IsBusy() {
		if err := pg.CancelRequest(ctx); err != nil {
			return WrapError(err, "cancel running query on connection %d", c.id)
		}
		return fmt.Errorf("connection %d is still busy after cancel request", c.id)
	}
	if pg.TxStatus() != 'I' {
		if _, err := c.conn.Exec(ctx, "ROLLBACK"); err != nil {
			return WrapError(err, "rollback on connection %d", c.id)
		}
		c.trxCmdCtl = nil
		c.stats.trxFinished(false)
	}
	return nil
}

func (c *pgConnection) Begin(ctx context.Context, opts TransactionOptions, cmdCtl CommandControl) error {
	c.trxCmdCtl = &cmdCtl
	ctx, cancel := c.roundTrip(ctx)
	defer cancel()

	if _, err := c.conn.Exec(ctx, opts.BeginStatement()); err != nil {
		c.trxCmdCtl = nil
		return err
	}
	c.stats.trxStarted()

	if cmdCtl.Statement > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", cmdCtl.Statement.Milliseconds())
		if _, err := c.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *pgConnection) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	inTrx := c.IsInTransaction()
	if !inTrx {
		if err := c.applySessionStatementTimeout(ctx); err != nil {
			return CommandTag{}, err
		}
	}

	ctx, cancel := c.roundTrip(ctx)
	defer cancel()

	start := c.stats.executeStarted(inTrx)
	tag, err := c.conn.Exec(ctx, query, args...)
	c.stats.executeFinished(start, err, isQueryTimeout(err))
	return tag, err
}

func (c *pgConnection) applySessionStatementTimeout(ctx context.Context) error {
	timeout := c.cmdCtl.Statement
	if timeout == c.sessionStatementTimeout {
		return nil
	}
	ctx, cancel := c.roundTrip(ctx)
	defer cancel()
	if _, err := c.conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return err
	}
	c.sessionStatementTimeout = timeout
	return nil
}

func (c *pgConnection) Commit(ctx context.Context) error {
	return c.finish(ctx, "COMMIT", true)
}

func (c *pgConnection) Rollback(ctx context.Context) error {
	return c.finish(ctx, "ROLLBACK", false)
}

func (c *pgConnection) finish(ctx context.Context, stmt string, commit bool) error {
	ctx, cancel := c.roundTrip(ctx)
	defer cancel()

	_, err := c.conn.Exec(ctx, stmt)
	c.trxCmdCtl = nil
	if err == nil {
		c.stats.trxFinished(commit)
	}
	return err
}

func (c *pgConnection) SetDefaultCommandControl(cmdCtl CommandControl) {
	c.cmdCtl = cmdCtl
}

func (c *pgConnection) GetStatsAndReset() ConnectionStatistics {
	return c.stats.getAndReset()
}

func (c *pgConnection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cmdCtl.Network)
	defer cancel()
	return c.conn.Close(ctx)
}

func isQueryTimeout(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateQueryCanceled
}
