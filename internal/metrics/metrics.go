package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for postflow.
//
// All methods are nil-safe so services can run without metrics wired.
type Metrics struct {
	PostsScheduledTotal *prometheus.CounterVec
	PostsPublishedTotal *prometheus.CounterVec
	PostsFailedTotal    *prometheus.CounterVec
	ConflictsTotal      *prometheus.CounterVec

	JobRunsTotal    *prometheus.CounterVec
	JobRetriesTotal *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PostsScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_posts_scheduled_total",
				Help: "Total number of posts committed to the schedule",
			},
			[]string{"platform"},
		),
		PostsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_posts_published_total",
				Help: "Total number of posts published successfully",
			},
			[]string{"platform"},
		),
		PostsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_posts_failed_total",
				Help: "Total number of posts that failed to publish",
			},
			[]string{"platform"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_conflicts_total",
				Help: "Total number of scheduling conflicts rejected",
			},
			[]string{"type"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_job_runs_total",
				Help: "Total number of job runs by result",
			},
			[]string{"job", "result"},
		),
		JobRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postflow_job_retries_total",
				Help: "Total number of job retry attempts scheduled",
			},
			[]string{"job"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "postflow_queue_depth",
				Help: "Number of posts currently held in a content queue",
			},
			[]string{"queue"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.PostsScheduledTotal,
		m.PostsPublishedTotal,
		m.PostsFailedTotal,
		m.ConflictsTotal,
		m.JobRunsTotal,
		m.JobRetriesTotal,
		m.QueueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PostScheduled(platform string) {
	if m == nil {
		return
	}
	m.PostsScheduledTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) PostPublished(platform string) {
	if m == nil {
		return
	}
	m.PostsPublishedTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) PostFailed(platform string) {
	if m == nil {
		return
	}
	m.PostsFailedTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobRun(job string, success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
}

func (m *Metrics) JobRetry(job string) {
	if m == nil {
		return
	}
	m.JobRetriesTotal.WithLabelValues(job).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(n))
}
