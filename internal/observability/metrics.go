package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts requests by route, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes request latency by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// EventsIngestedTotal counts persisted order events by tenant and source.
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total number of order events persisted",
		},
		[]string{"tenant", "source"},
	)
	// EventsDuplicateTotal counts duplicate-suppressed events.
	EventsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_duplicate_total",
			Help: "Total number of duplicate events suppressed",
		},
		[]string{"tenant", "source"},
	)
	// ExceptionsCreatedTotal counts exceptions opened by tenant and reason.
	ExceptionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exceptions_created_total",
			Help: "Total number of exceptions opened",
		},
		[]string{"tenant", "reason_code"},
	)

	// AIRequestsTotal counts AI requests by operation and outcome.
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	// AIRequestDuration observes AI call latency by operation.
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
	// AITokensUsedTotal tracks the daily token budget consumption.
	AITokensUsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_tokens_used_total",
			Help: "Total estimated tokens submitted to the AI provider",
		},
	)

	// CircuitBreakerState exposes breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// DLQDepth tracks pending dead-letter items.
	DLQDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlq_pending_items",
			Help: "Number of PENDING items in the dead-letter queue",
		},
	)
	// DLQEnqueuedTotal counts dead-lettered work items by source operation.
	DLQEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_enqueued_total",
			Help: "Total number of items written to the DLQ",
		},
		[]string{"source_operation"},
	)
	// FollowUpDroppedTotal counts follow-up work dropped on a full queue.
	FollowUpDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_dropped_total",
			Help: "Total follow-up tasks dropped because the queue was full",
		},
	)
	// FollowUpQueueDepth tracks buffered follow-up tasks.
	FollowUpQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "followup_queue_depth",
			Help: "Number of buffered follow-up tasks",
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		EventsDuplicateTotal,
		ExceptionsCreatedTotal,
		AIRequestsTotal,
		AIRequestDuration,
		AITokensUsedTotal,
		CircuitBreakerState,
		DLQDepth,
		DLQEnqueuedTotal,
		FollowUpDroppedTotal,
		FollowUpQueueDepth,
	)
}

// HTTPMetricsMiddleware records request count and duration per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
