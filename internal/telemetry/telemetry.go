// Package telemetry exports Prometheus metrics for the tracker service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all tracker Prometheus metrics
type Metrics struct {
	// Tracking pass metrics
	PassesRun      prometheus.Counter
	LinksProcessed prometheus.Counter
	LinksDeferred  prometheus.Counter
	LinkErrors     prometheus.Counter
	PriceChanges   prometheus.Counter
	PassDuration   prometheus.Histogram

	// Provider metrics
	ScrapeDuration    prometheus.Histogram
	ScrapesTotal      *prometheus.CounterVec
	BudgetExhaustions prometheus.Counter

	// Matching metrics
	MatchingRuns   *prometheus.CounterVec
	MatchesCreated prometheus.Counter

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	JobsProcessed *prometheus.CounterVec
}

// Provider wraps the metrics surface handed to components.
type Provider struct {
	Metrics *Metrics
}

// NewProvider initializes telemetry with Prometheus metrics
func NewProvider() *Provider {
	return &Provider{Metrics: initMetrics()}
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

func initMetrics() *Metrics {
	m := &Metrics{}
	initTrackingMetrics(m)
	initProviderMetrics(m)
	initMatchingMetrics(m)
	initQueueMetrics(m)
	return m
}

func initTrackingMetrics(m *Metrics) {
	m.PassesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_passes_run_total",
		Help: "Total tracking passes executed",
	})

	m.LinksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_links_processed_total",
		Help: "Total links checked across all passes",
	})

	m.LinksDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_links_deferred_total",
		Help: "Total links deferred by budget exhaustion",
	})

	m.LinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_link_errors_total",
		Help: "Total failed link checks (fetch or extraction)",
	})

	m.PriceChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_price_changes_total",
		Help: "Total detected price changes",
	})

	m.PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_pass_duration_seconds",
		Help:    "Wall time of one tracking pass",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
}

func initProviderMetrics(m *Metrics) {
	m.ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_scrape_duration_seconds",
		Help:    "Time for one provider fetch",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	m.ScrapesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_scrapes_total",
		Help: "Total provider fetches by outcome",
	}, []string{"outcome"})

	m.BudgetExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_budget_exhaustions_total",
		Help: "Times a pass hit the spend ceiling",
	})
}

func initMatchingMetrics(m *Metrics) {
	m.MatchingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_matching_runs_total",
		Help: "Matching runs by kind (quick_start, batch)",
	}, []string{"kind"})

	m.MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_matches_created_total",
		Help: "Total competitor links created by matchers",
	})
}

func initQueueMetrics(m *Metrics) {
	m.QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_queue_depth",
		Help: "Scrape jobs by status",
	}, []string{"status"})

	m.JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_jobs_processed_total",
		Help: "Worker job completions by type and outcome",
	}, []string{"job_type", "outcome"})
}

// RecordPass records the aggregate outcome of one tracking pass.
func (p *Provider) RecordPass(processed, deferred, changes, errors int, duration time.Duration) {
	p.Metrics.PassesRun.Inc()
	p.Metrics.LinksProcessed.Add(float64(processed))
	p.Metrics.LinksDeferred.Add(float64(deferred))
	p.Metrics.PriceChanges.Add(float64(changes))
	p.Metrics.LinkErrors.Add(float64(errors))
	p.Metrics.PassDuration.Observe(duration.Seconds())
	if deferred > 0 {
		p.Metrics.BudgetExhaustions.Inc()
	}
}

// RecordScrape records a single provider fetch.
func (p *Provider) RecordScrape(outcome string, duration time.Duration) {
	p.Metrics.ScrapesTotal.WithLabelValues(outcome).Inc()
	p.Metrics.ScrapeDuration.Observe(duration.Seconds())
}

// RecordMatchingRun records one matcher invocation and its yield.
func (p *Provider) RecordMatchingRun(kind string, matches int) {
	p.Metrics.MatchingRuns.WithLabelValues(kind).Inc()
	p.Metrics.MatchesCreated.Add(float64(matches))
}

// RecordJob records a worker job completion.
func (p *Provider) RecordJob(jobType, outcome string) {
	p.Metrics.JobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

// SetQueueDepth sets the gauge for one job status.
func (p *Provider) SetQueueDepth(status string, depth int64) {
	p.Metrics.QueueDepth.WithLabelValues(status).Set(float64(depth))
}
