package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var jobLabel = []string{"job"}

// CronJobMetrics covers the cron worker: settlement sweeps plus housekeeping.
// The zero value and a nil pointer both record nothing.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	success     *prometheus.CounterVec
	failure     *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		success: jobCounter("buttonbid_job_success_total", "Cron job runs that returned nil."),
		failure: jobCounter("buttonbid_job_failure_total", "Cron job runs that returned an error."),
	}
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buttonbid_job_duration_seconds",
		Help:    "Wall time of one cron job run.",
		Buckets: prometheus.DefBuckets,
	}, jobLabel)
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buttonbid_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job. Alert when settlement falls behind.",
	}, jobLabel)
	m.skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buttonbid_job_cycles_skipped_total",
		Help: "Cron cycles skipped because another worker held the lock.",
	})
	reg.MustRegister(m.duration, m.success, m.failure, m.lastSuccess, m.skipped)
	return m
}

func jobCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, jobLabel)
}

func (c *CronJobMetrics) live() bool {
	return c != nil && c.skipped != nil
}

func (c *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if c.live() {
		c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
	}
}

// IncSuccess counts a successful run and stamps its completion time.
func (c *CronJobMetrics) IncSuccess(job string) {
	if !c.live() {
		return
	}
	label := normalizeLabel(job)
	c.success.WithLabelValues(label).Inc()
	c.lastSuccess.WithLabelValues(label).SetToCurrentTime()
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c.live() {
		c.failure.WithLabelValues(normalizeLabel(job)).Inc()
	}
}

// IncSkipped counts a cycle lost to lock contention.
func (c *CronJobMetrics) IncSkipped() {
	if c.live() {
		c.skipped.Inc()
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
