package directnet

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// TargetMetrics contains atomic request counters for one target.
type TargetMetrics struct {
	// ReadRequests indicates the number of read submissions.
	ReadRequests atomic.Uint64
	// WriteRequests indicates the number of write submissions.
	WriteRequests atomic.Uint64
	// SuccessCount indicates the number of submissions that completed with Success.
	SuccessCount atomic.Uint64
	// ProtocolErrCount indicates the number of exchanges that failed on the line.
	ProtocolErrCount atomic.Uint64
	// QueueErrCount indicates the number of submissions that never reached the line
	// (queue timeout or client shutdown).
	QueueErrCount atomic.Uint64
	// InflightCount indicates the number of queued or running submissions.
	InflightCount atomic.Int64
}

func (m *TargetMetrics) incRequest(write bool) {
	if write {
		m.WriteRequests.Add(1)
	} else {
		m.ReadRequests.Add(1)
	}
	m.InflightCount.Add(1)
}

func (m *TargetMetrics) recordStatus(status Status) {
	m.InflightCount.Add(-1)

	switch status {
	case Success:
		m.SuccessCount.Add(1)
	case Timeout, Internal:
		m.QueueErrCount.Add(1)
	default:
		m.ProtocolErrCount.Add(1)
	}
}

// Collector exports the TargetMetrics of every registered target as Prometheus
// metrics labelled with the target and port names.
type Collector struct {
	reg *Registry

	requests *prometheus.Desc
	success  *prometheus.Desc
	errors   *prometheus.Desc
	inflight *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for the targets of reg.
func NewCollector(reg *Registry) *Collector {
	labels := []string{"target", "port"}

	return &Collector{
		reg: reg,
		requests: prometheus.NewDesc("directnet_requests_total",
			"Number of submitted requests.", append(labels, "direction"), nil),
		success: prometheus.NewDesc("directnet_success_total",
			"Number of requests completed successfully.", labels, nil),
		errors: prometheus.NewDesc("directnet_errors_total",
			"Number of failed requests.", append(labels, "kind"), nil),
		inflight: prometheus.NewDesc("directnet_inflight_requests",
			"Number of queued or running requests.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.success
	ch <- c.errors
	ch <- c.inflight
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.reg.Targets() {
		m := t.metrics
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
			float64(m.ReadRequests.Load()), t.name, t.port, "read")
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
			float64(m.WriteRequests.Load()), t.name, t.port, "write")
		ch <- prometheus.MustNewConstMetric(c.success, prometheus.CounterValue,
			float64(m.SuccessCount.Load()), t.name, t.port)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue,
			float64(m.ProtocolErrCount.Load()), t.name, t.port, "protocol")
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue,
			float64(m.QueueErrCount.Load()), t.name, t.port, "queue")
		ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue,
			float64(m.InflightCount.Load()), t.name, t.port)
	}
}
