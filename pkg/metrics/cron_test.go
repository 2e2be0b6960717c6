package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRunOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("settlement", 250*time.Millisecond)
	m.IncSuccess("settlement")
	m.IncSuccess("settlement")
	m.IncFailure("outbox-retention")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.success.WithLabelValues("settlement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failure.WithLabelValues("outbox-retention")))
	assert.Zero(t, testutil.ToFloat64(m.failure.WithLabelValues("settlement")))

	h := histogram(t, reg, "buttonbid_job_duration_seconds", map[string]string{"job": "settlement"})
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 0.25, h.GetSampleSum(), 1e-9)
}

func TestCronJobMetricsStampsLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	before := float64(time.Now().Unix())
	m.IncSuccess("settlement")
	m.IncFailure("notification-cleanup")

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("settlement")), before)
	// failures never create a last-success series
	assert.Equal(t, 1, testutil.CollectAndCount(m.lastSuccess))
}

func TestCronJobMetricsCountsSkippedCycles(t *testing.T) {
	m := NewCronJobMetrics(prometheus.NewRegistry())
	m.IncSkipped()
	m.IncSkipped()

	require.NotNil(t, m.skipped)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skipped))
}

func TestCronJobMetricsLabelsUnnamedJobs(t *testing.T) {
	m := NewCronJobMetrics(prometheus.NewRegistry())
	m.IncFailure("")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failure.WithLabelValues("unknown")))
}

func TestCronJobMetricsWithoutRegistererIsNoop(t *testing.T) {
	var nilMetrics *CronJobMetrics
	assert.NotPanics(t, func() {
		nilMetrics.IncSkipped()
		nilMetrics.IncSuccess("settlement")
		NewCronJobMetrics(nil).ObserveDuration("settlement", time.Second)
	})
}
