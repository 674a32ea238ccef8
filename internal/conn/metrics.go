package conn

import "github.com/prometheus/client_golang/prometheus"

// metrics is one connection's statistics counters, exposed through its
// own registry rather than the global default so multiple connections
// (as in tests) never collide on metric names. Grounded on
// cuemby-warren's pkg/metrics package (GaugeVec/Counter registered at
// init time), generalized to a per-instance registry since this package
// has no process-wide singleton the way warren's cluster daemon does.
type metrics struct {
	registry        *prometheus.Registry
	sessionsOpen    prometheus.Gauge
	handlesOpen     prometheus.Gauge
	txnsCommitted   prometheus.Counter
	txnsAborted     prometheus.Counter
	cursorsOpened   prometheus.Counter
}

func newMetrics() *metrics {
	r := prometheus.NewRegistry()
	m := &metrics{
		registry: r,
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archengine_sessions_open",
			Help: "Number of sessions currently open on this connection.",
		}),
		handlesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archengine_data_handles_open",
			Help: "Number of data handles currently cached on this connection.",
		}),
		txnsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archengine_transactions_committed_total",
			Help: "Total number of transactions committed.",
		}),
		txnsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archengine_transactions_aborted_total",
			Help: "Total number of transactions aborted.",
		}),
		cursorsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archengine_cursors_opened_total",
			Help: "Total number of cursors opened across all sessions.",
		}),
	}
	r.MustRegister(m.sessionsOpen, m.handlesOpen, m.txnsCommitted, m.txnsAborted, m.cursorsOpened)
	return m
}

// Registry exposes the connection's metrics registry so a caller can
// wire it into an HTTP /metrics endpoint via promhttp.
func (c *Connection) Registry() *prometheus.Registry { return c.metrics.registry }
