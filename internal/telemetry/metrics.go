// Package telemetry records engine runs as Prometheus metrics. A CLI
// invocation is short-lived, so metrics are written to a node_exporter
// textfile instead of being scraped.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/executor"
)

const (
	// MetricsNamespace is the namespace for all insight metrics.
	MetricsNamespace = "insight"

	subsystemEngine   = "engine"
	subsystemBriefing = "briefing"
)

// Metrics holds all Prometheus metrics for one process.
type Metrics struct {
	registry *prometheus.Registry

	// Source fetch metrics
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	PostsFetchedTotal *prometheus.CounterVec
	PostsDroppedTotal *prometheus.CounterVec

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	LastRunTimestamp prometheus.Gauge

	// Briefing metrics
	CollaboratorCalls  *prometheus.CounterVec
	CollaboratorTokens *prometheus.CounterVec
	Topics             prometheus.Gauge
	UnreferencedPosts prometheus.Gauge
}

// New creates metrics on a fresh registry.
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.initFetchMetrics(factory)
	m.initRunMetrics(factory)
	m.initBriefingMetrics(factory)

	return m
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "source_fetches_total",
			Help:      "Executor-wrapped fetches by terminal status and failure kind",
		},
		[]string{"platform", "status", "kind"},
	)

	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of executor-wrapped fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"platform"},
	)

	m.PostsFetchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "posts_fetched_total",
			Help:      "Posts returned by successful fetches before normalization",
		},
		[]string{"platform"},
	)

	m.PostsDroppedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "posts_dropped_total",
			Help:      "Posts removed during normalization or dedup",
		},
		[]string{"platform", "reason"},
	)
}

func (m *Metrics) initRunMetrics(factory promauto.Factory) {
	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "runs_total",
			Help:      "Aggregation runs by mode and result status",
		},
		[]string{"mode", "status"},
	)

	m.RunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of aggregation runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"mode"},
	)

	m.LastRunTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemEngine,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last aggregation run finished",
		},
	)
}

func (m *Metrics) initBriefingMetrics(factory promauto.Factory) {
	m.CollaboratorCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemBriefing,
			Name:      "collaborator_calls_total",
			Help:      "Topic collaborator calls by result (ok or fallback)",
		},
		[]string{"result"},
	)

	m.CollaboratorTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemBriefing,
			Name:      "collaborator_tokens_total",
			Help:      "Model tokens spent by the topic collaborator (prompt, response, other)",
		},
		[]string{"kind"},
	)

	m.Topics = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemBriefing,
			Name:      "topics",
			Help:      "Topics in the last composed briefing",
		},
	)

	m.UnreferencedPosts = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemBriefing,
			Name:      "unreferenced_posts",
			Help:      "Posts no topic referenced in the last composed briefing",
		},
	)
}

// ObserveOutcome implements executor.Observer.
func (m *Metrics) ObserveOutcome(o executor.Outcome) {
	kind := string(o.ErrorKind())
	if kind == "" {
		kind = "none"
	}
	m.FetchesTotal.WithLabelValues(o.Platform, string(o.Status), kind).Inc()
	m.FetchDuration.WithLabelValues(o.Platform).Observe(o.Duration.Seconds())
	if n := len(o.Posts); n > 0 {
		m.PostsFetchedTotal.WithLabelValues(o.Platform).Add(float64(n))
	}
}

// ObserveDropped counts n posts removed from platform's output.
func (m *Metrics) ObserveDropped(platform, reason string, n int) {
	if n <= 0 {
		return
	}
	m.PostsDroppedTotal.WithLabelValues(platform, reason).Add(float64(n))
}

// ObserveRun records a finished aggregation run.
func (m *Metrics) ObserveRun(mode, status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// ObserveBriefing records a composed briefing.
func (m *Metrics) ObserveBriefing(topics, unreferenced int, fallback bool) {
	result := "ok"
	if fallback {
		result = "fallback"
	}
	m.CollaboratorCalls.WithLabelValues(result).Inc()
	m.Topics.Set(float64(topics))
	m.UnreferencedPosts.Set(float64(unreferenced))
}

// ObserveUsage implements briefing.UsageObserver. Tokens in the total that
// are neither prompt nor response, such as thinking tokens, count as other.
func (m *Metrics) ObserveUsage(u briefing.Usage) {
	m.CollaboratorTokens.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	m.CollaboratorTokens.WithLabelValues("response").Add(float64(u.ResponseTokens))
	if other := u.TotalTokens - u.PromptTokens - u.ResponseTokens; other > 0 {
		m.CollaboratorTokens.WithLabelValues("other").Add(float64(other))
	}
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format, creating
// the parent directory if needed. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
