package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "pool", "connections"),
		"Connections of the pool by state.",
		[]string{"dsn", "state"}, nil,
	)
	connectionEventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "pool", "connection_events_total"),
		"Connection lifecycle events of the pool.",
		[]string{"dsn", "event"}, nil,
	)
	transactionEventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "pool", "transaction_events_total"),
		"Transaction and statement counters folded from released connections.",
		[]string{"dsn", "event"}, nil,
	)
	acquireErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "pool", "acquire_errors_total"),
		"Acquire calls rejected by the pool.",
		[]string{"dsn", "reason"}, nil,
	)
)

// Describe sends nothing: the pool is an unchecked collector because its
// label values are only known at runtime.
func (p *ConnectionPool) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector
func (p *ConnectionPool) Collect(ch chan<- prometheus.Metric) {
	st := p.Statistics()
	dsn := st.DSN

	gauge := func(state string, v int64) {
		ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(v), dsn, state)
	}
	gauge("active", st.Connection.Active)
	gauge("used", st.Connection.Used)
	gauge("waiting", st.Connection.Waiting)
	gauge("maximum", st.Connection.Maximum)

	counter := func(desc *prometheus.Desc, label string, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), dsn, label)
	}
	counter(connectionEventsDesc, "open", st.Connection.Open)
	counter(connectionEventsDesc, "drop", st.Connection.Drop)
	counter(connectionEventsDesc, "error", st.Connection.Error)
	counter(connectionEventsDesc, "error_timeout", st.Connection.ErrorTimeout)

	counter(transactionEventsDesc, "total", st.Transaction.Total)
	counter(transactionEventsDesc, "commit", st.Transaction.Commit)
	counter(transactionEventsDesc, "rollback", st.Transaction.Rollback)
	counter(transactionEventsDesc, "out_of_trx", st.Transaction.OutOfTrx)
	counter(transactionEventsDesc, "execute", st.Transaction.Execute)
	counter(transactionEventsDesc, "reply", st.Transaction.Reply)
	counter(transactionEventsDesc, "error_execute", st.Transaction.ErrorExecute)
	counter(transactionEventsDesc, "execute_timeout", st.Transaction.ExecuteTimeout)

	counter(acquireErrorsDesc, "pool_exhausted", st.PoolExhaustErrors)
	counter(acquireErrorsDesc, "queue_size_exceeded", st.QueueSizeErrors)

	for _, s := range p.stats.summaries() {
		s.Collect(ch)
	}
}
