package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sifan077/shortlinkd/internal/kv"
)

// Metrics records store and short-link counters. It implements kv.Observer.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	creates    *prometheus.CounterVec
	redirects  *prometheus.CounterVec
	swept      prometheus.Counter
}

var _ kv.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlinkd",
			Subsystem: "kv",
			Name:      "operations_total",
			Help:      "Store operations by table, operation and outcome.",
		}, []string{"table", "op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shortlinkd",
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"table", "op"}),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlinkd",
			Name:      "create_attempts_total",
			Help:      "Short-link code allocation attempts by result.",
		}, []string{"result"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlinkd",
			Name:      "redirects_total",
			Help:      "Redirect resolutions by result.",
		}, []string{"result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlinkd",
			Name:      "expired_links_swept_total",
			Help:      "Expired short links removed by the sweeper.",
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.latency, m.creates, m.redirects, m.swept} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveOperation(table, op, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(table, op, outcome).Inc()
	m.latency.WithLabelValues(table, op).Observe(elapsed.Seconds())
}

// CreateAttempt counts one code allocation attempt ("ok", "collision", "error").
func (m *Metrics) CreateAttempt(result string) {
	m.creates.WithLabelValues(result).Inc()
}

// Redirect counts one redirect resolution ("ok", "not_found", "gone").
func (m *Metrics) Redirect(result string) {
	m.redirects.WithLabelValues(result).Inc()
}

// Swept adds n removed links.
func (m *Metrics) Swept(n int64) {
	m.swept.Add(float64(n))
}
