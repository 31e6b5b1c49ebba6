package network

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const metricsNamespace = "pgcluster"

var summaryObjectives = map[float64]float64{
	0.5:  0.05,
	0.9:  0.01,
	0.95: 0.005,
	0.99: 0.001,
}

// Percentile is a latency distribution in milliseconds over the last minute.
type Percentile struct {
	Count uint64  `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// ConnectionCounters describe the connections of one pool.
type ConnectionCounters struct {
	Open         uint64 `json:"open"`
	Drop         uint64 `json:"drop"`
	Active       int64  `json:"active"`
	Used         int64  `json:"used"`
	Maximum      int64  `json:"maximum"`
	Waiting      int64  `json:"waiting"`
	Error        uint64 `json:"error"`
	ErrorTimeout uint64 `json:"error_timeout"`
}

// TransactionCounters aggregate the statistics of released connections.
type TransactionCounters struct {
	Total          uint64 `json:"total"`
	Commit         uint64 `json:"commit"`
	Rollback       uint64 `json:"rollback"`
	OutOfTrx       uint64 `json:"out_of_trx"`
	Execute        uint64 `json:"execute"`
	Reply          uint64 `json:"reply"`
	ErrorExecute   uint64 `json:"error_execute"`
	ExecuteTimeout uint64 `json:"execute_timeout"`
}

// TransactionPercentiles are the phase latencies of finished transactions.
type TransactionPercentiles struct {
	Total        Percentile `json:"total"`
	Busy         Percentile `json:"busy"`
	WaitStart    Percentile `json:"wait_start"`
	WaitEnd      Percentile `json:"wait_end"`
	ReturnToPool Percentile `json:"return_to_pool"`
}

// InstanceStatistics is a read-only snapshot of one pool.
type InstanceStatistics struct {
	ID                     string                 `json:"id"`
	DSN                    string                 `json:"dsn"`
	Connection             ConnectionCounters     `json:"connection"`
	Transaction            TransactionCounters    `json:"transaction"`
	PoolExhaustErrors      uint64                 `json:"pool_exhaust_errors"`
	QueueSizeErrors        uint64                 `json:"queue_size_errors"`
	ConnectPercentile      Percentile             `json:"connect_percentile"`
	AcquirePercentile      Percentile             `json:"acquire_percentile"`
	TransactionPercentiles TransactionPercentiles `json:"transaction_percentiles"`
}

type poolStats struct {
	open       atomic.Uint64
	drop       atomic.Uint64
	used       atomic.Int64
	connError  atomic.Uint64
	errTimeout atomic.Uint64

	trxTotal       atomic.Uint64
	commit         atomic.Uint64
	rollback       atomic.Uint64
	outOfTrx       atomic.Uint64
	execute        atomic.Uint64
	reply          atomic.Uint64
	errorExecute   atomic.Uint64
	executeTimeout atomic.Uint64

	poolExhaust atomic.Uint64
	queueSize   atomic.Uint64

	connect      prometheus.Summary
	acquire      prometheus.Summary
	trxTotalTime prometheus.Summary
	busy         prometheus.Summary
	waitStart    prometheus.Summary
	waitEnd      prometheus.Summary
	returnToPool prometheus.Summary
}

func newPoolStats(labels prometheus.Labels) *poolStats {
	summary := func(name, help string) prometheus.Summary {
		return prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "pool",
			Name:        name,
			Help:        help,
			Objectives:  summaryObjectives,
			MaxAge:      time.Minute,
			ConstLabels: labels,
		})
	}

	return &poolStats{
		connect:      summary("connect_duration_ms", "Time to establish a physical connection."),
		acquire:      summary("acquire_duration_ms", "Time spent waiting for a connection."),
		trxTotalTime: summary("transaction_duration_ms", "Time from BEGIN to COMMIT or ROLLBACK."),
		busy:         summary("transaction_busy_ms", "Time spent executing statements inside a transaction."),
		waitStart:    summary("transaction_wait_start_ms", "Time from BEGIN to the first statement."),
		waitEnd:      summary("transaction_wait_end_ms", "Time from the last statement to COMMIT or ROLLBACK."),
		returnToPool: summary("transaction_return_ms", "Time from the end of a transaction to connection release."),
	}
}

func (s *poolStats) summaries() []prometheus.Summary {
	return []prometheus.Summary{
		s.connect, s.acquire, s.trxTotalTime, s.busy, s.waitStart, s.waitEnd, s.returnToPool,
	}
}

// account folds the statistics of a released connection into the pool totals.
func (s *poolStats) account(cs ConnectionStatistics, now time.Time) {
	s.trxTotal.Add(cs.TrxTotal)
	s.commit.Add(cs.CommitTotal)
	s.rollback.Add(cs.RollbackTotal)
	s.outOfTrx.Add(cs.OutOfTrx)
	s.execute.Add(cs.ExecuteTotal)
	s.reply.Add(cs.ReplyTotal)
	s.errorExecute.Add(cs.ErrorExecute)
	s.executeTimeout.Add(cs.ExecuteTimeout)

	if cs.TrxStartTime.IsZero() || cs.TrxEndTime.IsZero() {
		return
	}
	s.trxTotalTime.Observe(millis(cs.TrxEndTime.Sub(cs.TrxStartTime)))
	s.busy.Observe(millis(cs.SumQueryDuration))
	if !cs.WorkStartTime.IsZero() {
		s.waitStart.Observe(millis(cs.WorkStartTime.Sub(cs.TrxStartTime)))
	}
	if !cs.LastExecuteFinish.IsZero() {
		s.waitEnd.Observe(millis(cs.TrxEndTime.Sub(cs.LastExecuteFinish)))
	}
	s.returnToPool.Observe(millis(now.Sub(cs.TrxEndTime)))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func readPercentile(s prometheus.Summary) Percentile {
	var m dto.Metric
	if err := s.Write(&m); err != nil || m.Summary == nil {
		return Percentile{}
	}

	p := Percentile{Count: m.Summary.GetSampleCount()}
	for _, q := range m.Summary.GetQuantile() {
		v := q.GetValue()
		if v != v { // NaN when the window is empty
			v = 0
		}
		switch q.GetQuantile() {
		case 0.5:
			p.P50 = v
		case 0.9:
			p.P90 = v
		case 0.95:
			p.P95 = v
		case 0.99:
			p.P99 = v
		}
	}
	return p
}
