package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics bundles the process-wide Prometheus collectors, labelled
// by component/endpoint/outcome so a single registry backs C10 for the whole
// process (HTTP, scheduler, ingestion, retrieval, actions).
type Metrics struct {
	Registry *prometheus.Registry

	HTTPDuration *prometheus.HistogramVec

	JobsRunning  *prometheus.GaugeVec
	JobRetries   *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobDLQSize   *prometheus.GaugeVec

	IngestUploaded *prometheus.CounterVec
	IngestProcessed *prometheus.CounterVec
	IngestFailed    *prometheus.CounterVec
	OCRAttempts     prometheus.Counter
	OCRSuccess      prometheus.Counter
	OCRFail         prometheus.Counter

	RetrievalRequests *prometheus.CounterVec
	RetrievalErrors   *prometheus.CounterVec
	RetrievalLatency  *prometheus.HistogramVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec

	ActionRequests *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	DBPoolInUse *prometheus.GaugeVec
	DBPoolTotal *prometheus.GaugeVec
}

// New registers every collector against a fresh registry. A fresh registry
// (rather than the global default) keeps repeated construction in tests safe.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loomwire", Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		JobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomwire", Subsystem: "scheduler", Name: "jobs_running",
			Help: "In-flight jobs by type.",
		}, []string{"job_type"}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "scheduler", Name: "job_retries_total",
			Help: "Job retry count by type and outcome.",
		}, []string{"job_type", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loomwire", Subsystem: "scheduler", Name: "job_duration_seconds",
			Help: "Job execution duration by type and outcome.",
		}, []string{"job_type", "outcome"}),
		JobDLQSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomwire", Subsystem: "scheduler", Name: "dlq_size",
			Help: "Current dead-letter queue size by job type.",
		}, []string{"job_type"}),
		IngestUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "uploaded_total",
			Help: "Files uploaded by workspace hash.",
		}, []string{"workspace"}),
		IngestProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "processed_total",
			Help: "Files fully processed by workspace hash.",
		}, []string{"workspace"}),
		IngestFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "failed_total",
			Help: "Files that exhausted retries by workspace hash.",
		}, []string{"workspace"}),
		OCRAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "ocr_attempts_total",
		}),
		OCRSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "ocr_success_total",
		}),
		OCRFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "ingestion", Name: "ocr_fail_total",
		}),
		RetrievalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "retrieval", Name: "requests_total",
			Help: "Retrieval requests by endpoint and workspace hash.",
		}, []string{"endpoint", "workspace"}),
		RetrievalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "retrieval", Name: "errors_total",
			Help: "Retrieval errors by endpoint and workspace hash.",
		}, []string{"endpoint", "workspace"}),
		RetrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loomwire", Subsystem: "retrieval", Name: "latency_seconds",
			Help: "Retrieval latency by endpoint and workspace hash.",
		}, []string{"endpoint", "workspace"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "retrieval", Name: "cache_hits_total",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "retrieval", Name: "cache_misses_total",
		}, []string{"cache"}),
		ActionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomwire", Subsystem: "actions", Name: "requests_total",
			Help: "Action executions by action name and outcome.",
		}, []string{"action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loomwire", Subsystem: "actions", Name: "duration_seconds",
			Help: "Action execution duration by action name.",
		}, []string{"action"}),
		DBPoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomwire", Subsystem: "db", Name: "pool_in_use",
		}, []string{"pool"}),
		DBPoolTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomwire", Subsystem: "db", Name: "pool_total",
		}, []string{"pool"}),
	}

	reg.MustRegister(
		m.HTTPDuration, m.JobsRunning, m.JobRetries, m.JobDuration, m.JobDLQSize,
		m.IngestUploaded, m.IngestProcessed, m.IngestFailed, m.OCRAttempts, m.OCRSuccess, m.OCRFail,
		m.RetrievalRequests, m.RetrievalErrors, m.RetrievalLatency, m.CacheHits, m.CacheMisses,
		m.ActionRequests, m.ActionDuration, m.DBPoolInUse, m.DBPoolTotal,
	)
	return m
}

// Hit and Miss satisfy the retrieval engine's cache-counter seam.
func (m *Metrics) Hit(cache string)  { m.CacheHits.WithLabelValues(cache).Inc() }
func (m *Metrics) Miss(cache string) { m.CacheMisses.WithLabelValues(cache).Inc() }

// Handler exposes the Prometheus exposition format for GET /metrics,
// optionally token-gated by METRICS_KEY.
func (m *Metrics) Handler(metricsKey string) fiber.Handler {
	h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return func(c *fiber.Ctx) error {
		if metricsKey != "" && c.Get("X-Metrics-Key") != metricsKey {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid metrics key")
		}
		h(c.Context())
		return nil
	}
}
