// Package metrics exposes prometheus instrumentation for jobs and the plotter
// link.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobMetrics defines metrics operations needed by the job manager.
type JobMetrics interface {
	IncJobsSubmitted()
	IncJobsFinished(status string)
	ObserveStage(stage string, d time.Duration)
}

// DeviceMetrics defines metrics operations needed by a plotter session.
type DeviceMetrics interface {
	IncLinesSent()
	IncChecksumMismatches()
	IncAckTimeouts()
}

// Metrics implements both JobMetrics and DeviceMetrics.
type Metrics struct {
	JobsSubmitted      prometheus.Counter
	JobsFinished       *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	LinesSent          prometheus.Counter
	ChecksumMismatches prometheus.Counter
	AckTimeouts        prometheus.Counter
}

// Ensure Metrics implements both interfaces.
var _ JobMetrics = (*Metrics)(nil)
var _ DeviceMetrics = (*Metrics)(nil)

func (m *Metrics) IncJobsSubmitted()             { m.JobsSubmitted.Inc() }
func (m *Metrics) IncJobsFinished(status string) { m.JobsFinished.WithLabelValues(status).Inc() }
func (m *Metrics) IncLinesSent()                 { m.LinesSent.Inc() }
func (m *Metrics) IncChecksumMismatches()        { m.ChecksumMismatches.Inc() }
func (m *Metrics) IncAckTimeouts()               { m.AckTimeouts.Inc() }

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of images submitted for processing",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		LinesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plotter_lines_acked_total",
			Help:      "Program lines acknowledged with a matching checksum",
		}),
		ChecksumMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plotter_checksum_mismatches_total",
			Help:      "Program lines acknowledged with a different checksum",
		}),
		AckTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plotter_ack_timeouts_total",
			Help:      "Program lines that were never acknowledged",
		}),
	}
}

// Handler serves the metrics of the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards every observation.
type Nop struct{}

var _ JobMetrics = Nop{}
var _ DeviceMetrics = Nop{}

func (Nop) IncJobsSubmitted()                  {}
func (Nop) IncJobsFinished(string)             {}
func (Nop) ObserveStage(string, time.Duration) {}
func (Nop) IncLinesSent()                      {}
func (Nop) IncChecksumMismatches()             {}
func (Nop) IncAckTimeouts()                    {}
