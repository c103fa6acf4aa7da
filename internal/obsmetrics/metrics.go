// Package obsmetrics wires the service's Prometheus metrics.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bin2nlp_queue_depth",
			Help: "Pending jobs per priority lane",
		},
		[]string{"lane"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_jobs_total",
			Help: "Total jobs by terminal status",
		},
		[]string{"status"},
	)

	DeadLetterTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_dead_letter_total",
			Help: "Total jobs moved to the dead-letter log",
		},
	)

	DequeueLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_dequeue_latency_seconds",
			Help:    "Time for an atomic lease-next call to return",
			Buckets: prometheus.DefBuckets,
		},
	)

	LeaseReapTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_lease_reap_total",
			Help: "Total stale leases reclaimed by the recovery supervisor",
		},
	)

	// Rate limiter metrics
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_rate_limit_decisions_total",
			Help: "Rate limiter admit/reject decisions by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	RateLimitFailOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_rate_limit_fail_open_total",
			Help: "Total requests admitted because the rate-limit store was unavailable",
		},
	)

	// Result cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_cache_hits_total",
			Help: "Total result-cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_cache_misses_total",
			Help: "Total result-cache misses",
		},
	)

	CacheSetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_cache_sets_total",
			Help: "Total result-cache writes",
		},
	)

	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_cache_invalidations_total",
			Help: "Total cache invalidations by scope",
		},
		[]string{"scope"},
	)

	// Pipeline executor metrics
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_pipeline_stage_duration_seconds",
			Help:    "Duration of a pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600, 1200},
		},
		[]string{"stage"},
	)

	ArtifactTranslationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_artifact_translations_total",
			Help: "Total per-artifact translation attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SalvagedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_salvaged_jobs_total",
			Help: "Total jobs completed via partial-result salvage",
		},
	)

	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_llm_call_duration_seconds",
			Help:    "Outbound LLM call duration by provider kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Recovery supervisor metrics
	FailureClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_failure_classifications_total",
			Help: "Total classified failures by class and severity",
		},
		[]string{"class", "severity"},
	)

	SupervisorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_supervisor_cycle_duration_seconds",
			Help:    "Time taken for a lease-reaping cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP ingress metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Blob store metrics
	BlobStoreBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bin2nlp_blobstore_bytes_total",
			Help: "Approximate bytes currently stored in the blob store",
		},
	)

	BlobSweepReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_blob_sweep_reclaimed_total",
			Help: "Total expired blob pairs reclaimed by the sweep task",
		},
	)

	// Session & admin surface metrics
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_sessions_total",
			Help: "Total session lifecycle events by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(DeadLetterTotal)
	prometheus.MustRegister(DequeueLatency)
	prometheus.MustRegister(LeaseReapTotal)

	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(RateLimitFailOpenTotal)

	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheSetsTotal)
	prometheus.MustRegister(CacheInvalidationsTotal)

	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(ArtifactTranslationsTotal)
	prometheus.MustRegister(SalvagedJobsTotal)
	prometheus.MustRegister(LLMCallDuration)

	prometheus.MustRegister(FailureClassifications)
	prometheus.MustRegister(SupervisorCycleDuration)

	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)

	prometheus.MustRegister(BlobStoreBytesTotal)
	prometheus.MustRegister(BlobSweepReclaimedTotal)

	prometheus.MustRegister(SessionsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
