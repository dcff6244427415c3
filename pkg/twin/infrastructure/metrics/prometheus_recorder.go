package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Section Metrics
	sectionItemsCounter *prometheus.CounterVec
	itemSkipCounter     *prometheus.CounterVec
	checkpointCounter   *prometheus.CounterVec

	// Lock Metrics
	lockEventCounter *prometheus.CounterVec

	// Query Metrics
	queryDurationSeconds *prometheus.HistogramVec
	queryRowsCounter     *prometheus.CounterVec
	queryChargeCounter   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twin_job_duration_seconds",
			Help:    "Duration of bulk job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_job_status_total",
			Help: "Total number of bulk job executions by status.",
		}, []string{"job_type", "status"}),
		sectionItemsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_section_items_total",
			Help: "Total items committed per job type and section.",
		}, []string{"job_type", "section"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_item_skip_total",
			Help: "Total items skipped under the continue-on-failure policy.",
		}, []string{"job_type", "section"}),
		checkpointCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_checkpoint_save_total",
			Help: "Total persisted checkpoints by job type.",
		}, []string{"job_type"}),
		lockEventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_lock_events_total",
			Help: "Total lease life-cycle events.",
		}, []string{"event"}),
		queryDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twin_query_duration_seconds",
			Help:    "Duration of query page executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"routing"}),
		queryRowsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_query_rows_total",
			Help: "Total rows returned by queries.",
		}, []string{"routing"}),
		queryChargeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_query_charge_total",
			Help: "Total accumulated query charge.",
		}, []string{"routing"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.jobStatusCounter)
	registry.MustRegister(r.sectionItemsCounter)
	registry.MustRegister(r.itemSkipCounter)
	registry.MustRegister(r.checkpointCounter)
	registry.MustRegister(r.lockEventCounter)
	registry.MustRegister(r.queryDurationSeconds)
	registry.MustRegister(r.queryRowsCounter)
	registry.MustRegister(r.queryChargeCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordJobStart records the start of a bulk job.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, record *model.JobRecord) {
	r.jobStatusCounter.WithLabelValues(record.JobType.String(), record.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' (%s) started.", record.ID, record.JobType)
}

// RecordJobEnd records the terminal outcome of a bulk job.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, record *model.JobRecord) {
	r.jobStatusCounter.WithLabelValues(record.JobType.String(), record.Status.String()).Inc()
	if record.FinishedAt == nil {
		return
	}
	duration := record.FinishedAt.Sub(record.CreatedAt).Seconds()
	r.jobDurationSeconds.WithLabelValues(record.JobType.String(), record.Status.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' (%s) ended. Duration: %.3fs", record.ID, record.JobType, duration)
}

// RecordSectionItems records items committed within a section.
func (r *PrometheusRecorder) RecordSectionItems(ctx context.Context, jobType model.JobType, section model.Section, count int) {
	r.sectionItemsCounter.WithLabelValues(jobType.String(), section.String()).Add(float64(count))
}

// RecordItemSkip records an item skipped under the continue-on-failure policy.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, jobType model.JobType, section model.Section) {
	r.itemSkipCounter.WithLabelValues(jobType.String(), section.String()).Inc()
}

// RecordCheckpointSave records a persisted checkpoint.
func (r *PrometheusRecorder) RecordCheckpointSave(ctx context.Context, jobType model.JobType) {
	r.checkpointCounter.WithLabelValues(jobType.String()).Inc()
}

// RecordLockEvent records a lease life-cycle event.
func (r *PrometheusRecorder) RecordLockEvent(ctx context.Context, event string) {
	r.lockEventCounter.WithLabelValues(event).Inc()
}

// RecordQuery records one executed query page.
func (r *PrometheusRecorder) RecordQuery(ctx context.Context, routing string, rows int, charge float64, duration time.Duration) {
	r.queryDurationSeconds.WithLabelValues(routing).Observe(duration.Seconds())
	r.queryRowsCounter.WithLabelValues(routing).Add(float64(rows))
	r.queryChargeCounter.WithLabelValues(routing).Add(charge)
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
