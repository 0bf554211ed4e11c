package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and import phases.
type Metrics struct {
	inProgress  *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	phases      *prometheus.HistogramVec
	phaseErrors *prometheus.CounterVec
	records     *prometheus.CounterVec
	docFailures *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing one run of job and counts it as in progress.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil || job == "" {
		return &Tracker{job: job, start: time.Now()}
	}
	m.inProgress.WithLabelValues(job).Inc()
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged, so handlers
// can write `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	t.metrics.inProgress.WithLabelValues(t.job).Dec()
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObservePhase records how long an import phase ran and whether it failed.
func (m *Metrics) ObservePhase(phase string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Observe(elapsed.Seconds())
	if err != nil {
		m.phaseErrors.WithLabelValues(phase).Inc()
	}
}

// AddRecords counts rows written by an import, grouped by record kind.
func (m *Metrics) AddRecords(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.records.WithLabelValues(kind).Add(float64(count))
}

// DocumentFailed counts a document skipped after a render or upload failure.
func (m *Metrics) DocumentFailed(documentType string) {
	if m == nil {
		return
	}
	m.docFailures.WithLabelValues(documentType).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	inProgress := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_jobs_in_progress",
		Help: "Background jobs currently executing.",
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	phases := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_backfill_phase_duration_seconds",
		Help:    "Duration in seconds of historical import phases.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"phase"})
	phaseErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_backfill_phase_failures_total",
		Help: "Import phases that ended with an error.",
	}, []string{"phase"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_backfill_records_total",
		Help: "Rows written by historical imports grouped by record kind.",
	}, []string{"kind"})
	docFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_backfill_document_failures_total",
		Help: "Documents skipped because rendering or upload failed.",
	}, []string{"type"})
	registerer.MustRegister(inProgress, runs, failures, duration, phases, phaseErrors, records, docFailures)
	return &Metrics{
		inProgress:  inProgress,
		runs:        runs,
		failures:    failures,
		duration:    duration,
		phases:      phases,
		phaseErrors: phaseErrors,
		records:     records,
		docFailures: docFailures,
	}
}
