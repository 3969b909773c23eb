package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"portal/internal/attendance"
)

// Commits records attendance save outcomes.
type Commits struct {
	total    *prometheus.CounterVec
	toggles  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	pending  prometheus.Histogram
	skipped  prometheus.Counter
	openView prometheus.Gauge
}

// NewCommits creates the collectors and registers them with reg.
func NewCommits(reg prometheus.Registerer) *Commits {
	m := &Commits{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "commits_total",
			Help:      "Attendance saves by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "toggle_calls_total",
			Help:      "Single-record toggle calls by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "commit_duration_seconds",
			Help:      "Time spent talking to the portal API during a save.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		pending: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "pending_edits_at_save",
			Help:      "Number of buffered edits when a save starts.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "skipped_edits_total",
			Help:      "Pending edits dropped as no-ops or stale references.",
		}),
		openView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "attendance",
			Name:      "open_views",
			Help:      "Attendance views currently held in memory.",
		}),
	}
	reg.MustRegister(m.total, m.toggles, m.latency, m.pending, m.skipped, m.openView)
	return m
}

// CommitFinished implements attendance.Observer.
func (m *Commits) CommitFinished(_ context.Context, res attendance.Result, pending int, err error) {
	strategy := string(res.Strategy)
	if strategy == "" {
		strategy = "none"
	}
	m.total.WithLabelValues(strategy, outcome(res, err)).Inc()
	m.latency.WithLabelValues(strategy).Observe(res.Elapsed.Seconds())
	m.pending.Observe(float64(pending))
	m.skipped.Add(float64(res.Skipped))
	if res.Strategy == attendance.DiffToggle {
		m.toggles.WithLabelValues("success").Add(float64(res.Succeeded))
		m.toggles.WithLabelValues("failure").Add(float64(res.Failed))
	}
}

// SetOpenViews reports the size of the view registry.
func (m *Commits) SetOpenViews(n int) {
	m.openView.Set(float64(n))
}

func outcome(res attendance.Result, err error) string {
	switch {
	case err == nil && res.NoChanges:
		return "noop"
	case err == nil:
		return "success"
	case res.Failed > 0 && res.Succeeded > 0:
		return "partial"
	default:
		return "failure"
	}
}
