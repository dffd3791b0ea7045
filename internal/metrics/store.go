package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics observes the persistence queue. It implements store.QueueObserver.
type StoreMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge

	collectors []prometheus.Collector
}

// NewStoreMetrics creates the store collectors and registers them.
func NewStoreMetrics(registry *prometheus.Registry) (*StoreMetrics, error) {
	m := &StoreMetrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_store_commands_total",
			Help: "Total number of persistence commands executed",
		}, []string{"kind", "priority", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchpost_store_command_duration_seconds",
			Help:    "Time spent executing persistence commands",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchpost_store_queue_depth",
			Help: "Commands waiting in the persistence queue",
		}),
	}
	m.collectors = []prometheus.Collector{m.commandsTotal, m.commandDuration, m.queueDepth}

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *StoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *StoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// ObserveCommand records one executed command.
func (m *StoreMetrics) ObserveCommand(kind, priority string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.commandsTotal.WithLabelValues(kind, priority, status).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetQueueDepth records the number of waiting commands.
func (m *StoreMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
