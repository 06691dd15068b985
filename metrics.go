package bulkq

import "github.com/prometheus/client_golang/prometheus"

type queueMetrics struct {
	flushDuration *prometheus.SummaryVec
	flushFailures prometheus.Counter
	enqueued      prometheus.Counter
	flushed       prometheus.Counter
	rejected      prometheus.Counter
	depth         prometheus.Gauge
}

func newQueueMetrics() queueMetrics {
	return queueMetrics{
		flushDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "bulkq_flush_duration",
			Help: "The timings of sink flush calls made by the queue",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.99: 0.001,
			},
		}, []string{"trigger"}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkq_flush_failures_total",
			Help: "Whole-request sink failures",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkq_rows_enqueued_total",
			Help: "Rows accepted into the buffer",
		}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkq_rows_flushed_total",
			Help: "Rows accepted by the remote service",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkq_rows_rejected_total",
			Help: "Rows rejected by the remote service or dropped with a failed batch",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulkq_buffer_depth",
			Help: "Rows buffered and not yet extracted into a batch",
		}),
	}
}

// Describe fetches prometheus metrics to be registered
func (q *Queue) Describe(ch chan<- *prometheus.Desc) {
	q.metrics.flushDuration.Describe(ch)
	q.metrics.flushFailures.Describe(ch)
	q.metrics.enqueued.Describe(ch)
	q.metrics.flushed.Describe(ch)
	q.metrics.rejected.Describe(ch)
	q.metrics.depth.Describe(ch)
}

// Collect fetches metrics from the queue for use by prometheus
func (q *Queue) Collect(ch chan<- prometheus.Metric) {
	q.metrics.flushDuration.Collect(ch)
	q.metrics.flushFailures.Collect(ch)
	q.metrics.enqueued.Collect(ch)
	q.metrics.flushed.Collect(ch)
	q.metrics.rejected.Collect(ch)
	q.metrics.depth.Collect(ch)
}

var _ prometheus.Collector = &Queue{}
