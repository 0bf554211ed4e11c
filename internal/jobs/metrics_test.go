package jobmetrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("backfill:run").End(nil))
	err := errors.New("boom")
	require.ErrorIs(t, m.Track("backfill:run").End(err), err)

	expected := `
# HELP odyssey_jobs_total Total job executions partitioned by job name and status.
# TYPE odyssey_jobs_total counter
odyssey_jobs_total{job="backfill:run",status="failure"} 1
odyssey_jobs_total{job="backfill:run",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_jobs_total"))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("backfill:run")))
}

func TestTrackerCountsInProgress(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	tracker := m.Track("backfill:run")
	require.Equal(t, float64(1), testutil.ToFloat64(m.inProgress.WithLabelValues("backfill:run")))
	_ = tracker.End(nil)
	require.Zero(t, testutil.ToFloat64(m.inProgress.WithLabelValues("backfill:run")))
}

func TestPhaseAndRecordCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObservePhase("Importing sales", 200*time.Millisecond, nil)
	m.ObservePhase("Importing sales", time.Second, errors.New("store down"))
	m.AddRecords("sale", 4)
	m.AddRecords("sale", 0)
	m.DocumentFailed("sale_receipt")

	require.Equal(t, float64(1), testutil.ToFloat64(m.phaseErrors.WithLabelValues("Importing sales")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.records.WithLabelValues("sale")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.docFailures.WithLabelValues("sale_receipt")))
	count, err := testutil.GatherAndCount(reg, "odyssey_backfill_phase_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObservePhase("x", time.Second, nil)
		m.AddRecords("sale", 1)
		m.DocumentFailed("sale_receipt")
		require.NoError(t, m.Track("job").End(nil))
	})
}
