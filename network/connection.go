package network

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// CommandTag is the completion tag returned by the server for a statement.
type CommandTag = pgconn.CommandTag

// Connector opens physical connections for a pool.
//
// Errors wrapping ErrConnectionTimeout or ErrConnectionRefused are treated as
// recoverable and feed the pool's circuit breaker; any other error is fatal to
// the attempt and is reported to whoever initiated it.
type Connector interface {
	Connect(ctx context.Context, dsn string, id uint32, cmdCtl CommandControl) (Connection, error)
}

// Connection is a single physical connection owned by a pool.
type Connection interface {
	ID() uint32

	IsConnected() bool
	// IsIdle reports a connection that is outside any transaction and has no
	// command in flight.
	IsIdle() bool
	IsInTransaction() bool

	Ping(ctx context.Context) error
	// Cleanup brings a connection left in an unknown state back to idle,
	// aborting whatever is running.
	Cleanup(ctx context.Context) error

	Begin(ctx context.Context, opts TransactionOptions, cmdCtl CommandControl) error
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	SetDefaultCommandControl(cmdCtl CommandControl)
	GetStatsAndReset() ConnectionStatistics
	Close() error
}

// ConnectionStatistics are the counters a connection accumulates between two
// GetStatsAndReset calls.
type ConnectionStatistics struct {
	TrxTotal       uint64
	CommitTotal    uint64
	RollbackTotal  uint64
	OutOfTrx       uint64
	ExecuteTotal   uint64
	ReplyTotal     uint64
	ErrorExecute   uint64
	ExecuteTimeout uint64

	TrxStartTime      time.Time
	WorkStartTime     time.Time
	LastExecuteFinish time.Time
	TrxEndTime        time.Time
	SumQueryDuration  time.Duration
}

// statsTracker is embedded by connection implementations to keep
// ConnectionStatistics consistent between them. It is not safe for concurrent
// use; a connection is owned by one caller at a time.
type statsTracker struct {
	now   func() time.Time
	stats ConnectionStatistics
}

func (s *statsTracker) trxStarted() {
	now := s.now()
	s.stats.TrxTotal++
	s.stats.TrxStartTime = now
	s.stats.WorkStartTime = time.Time{}
	s.stats.LastExecuteFinish = time.Time{}
	s.stats.TrxEndTime = time.Time{}
}

func (s *statsTracker) trxFinished(committed bool) {
	if committed {
		s.stats.CommitTotal++
	} else {
		s.stats.RollbackTotal++
	}
	s.stats.TrxEndTime = s.now()
}

// executeStarted returns the start time to hand to executeFinished.
func (s *statsTracker) executeStarted(inTrx bool) time.Time {
	now := s.now()
	s.stats.ExecuteTotal++
	if !inTrx {
		s.stats.OutOfTrx++
	} else if s.stats.WorkStartTime.IsZero() {
		s.stats.WorkStartTime = now
	}
	return now
}

func (s *statsTracker) executeFinished(start time.Time, err error, timedOut bool) {
	now := s.now()
	s.stats.SumQueryDuration += now.Sub(start)
	s.stats.LastExecuteFinish = now
	switch {
	case timedOut:
		s.stats.ExecuteTimeout++
		s.stats.ErrorExecute++
	case err != nil:
		s.stats.ErrorExecute++
	default:
		s.stats.ReplyTotal++
	}
}

func (s *statsTracker) getAndReset() ConnectionStatistics {
	stats := s.stats
	s.stats = ConnectionStatistics{}
	return stats
}
