package network

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TransactionMode is the access mode of a transaction
type TransactionMode int

const (
	ReadWrite TransactionMode = iota
	ReadOnly
	// Deferrable is a read only deferrable transaction
	Deferrable
)

// TransactionOptions describe how a transaction is started
type TransactionOptions struct {
	IsolationLevel pgx.TxIsoLevel // empty uses the server default
	Mode           TransactionMode
}

// BeginStatement renders the BEGIN statement for the options
func (o TransactionOptions) BeginStatement() string {
	var sb strings.Builder
	sb.WriteString("BEGIN")
	if o.IsolationLevel != "" {
		sb.WriteString(" ISOLATION LEVEL ")
		sb.WriteString(strings.ToUpper(string(o.IsolationLevel)))
	}
	switch o.Mode {
	case ReadOnly:
		sb.WriteString(" READ ONLY")
	case Deferrable:
		sb.WriteString(" READ ONLY DEFERRABLE")
	default:
		sb.WriteString(" READ WRITE")
	}
	return sb.String()
}

// Transaction owns a pooled connection for the duration of one transaction.
// Commit and Rollback release the connection.
type Transaction struct {
	conn   *PooledConnection
	cmdCtl CommandControl
	done   bool
}

func newTransaction(ctx context.Context, conn *PooledConnection, opts TransactionOptions, cmdCtl CommandControl) (*Transaction, error) {
	if err := conn.Connection().Begin(ctx, opts, cmdCtl); err != nil {
		conn.Release()
		return nil, err
	}
	return &Transaction{conn: conn, cmdCtl: cmdCtl}, nil
}

// CommandControl returns the command control the transaction runs with
func (t *Transaction) CommandControl() CommandControl {
	return t.cmdCtl
}

// ConnectionID returns the id of the connection the transaction is bound to
func (t *Transaction) ConnectionID() uint32 {
	return t.conn.ID()
}

// Exec runs a statement inside the transaction
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if t.done {
		return CommandTag{}, ErrTransactionDone
	}
	return t.conn.Connection().Exec(ctx, query, args...)
}

// Commit commits the transaction and releases the connection
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTransactionDone
	}
	defer t.finish()
	return t.conn.Connection().Commit(ctx)
}

// Rollback aborts the transaction and releases the connection. Calling it on
// a finished transaction is a no-op, so it can be deferred.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	defer t.finish()
	return t.conn.Connection().Rollback(ctx)
}

func (t *Transaction) finish() {
	t.done = true
	t.conn.Release()
}

// NonTransaction runs single statements in autocommit mode on a pooled
// connection. Close releases the connection.
type NonTransaction struct {
	conn   *PooledConnection
	closed bool
}

func newNonTransaction(conn *PooledConnection) *NonTransaction {
	return &NonTransaction{conn: conn}
}

// Exec runs a single statement
func (n *NonTransaction) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if n.closed {
		return CommandTag{}, ErrTransactionDone
	}
	return n.conn.Connection().Exec(ctx, query, args...)
}

// Close releases the connection
func (n *NonTransaction) Close() {
	if n.closed {
		return
	}
	n.closed = true
	n.conn.Release()
}
