package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Upstream (Helius, Jupiter, Dexscreener, Gemini, Resend) metrics
	upstreamCallsTotal   *prometheus.CounterVec
	upstreamCallDuration *prometheus.HistogramVec

	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Cache Metrics
	cacheLookupsTotal *prometheus.CounterVec

	// Presale Metrics
	presalePagesFetched        *prometheus.HistogramVec
	presaleContributionsTotal  *prometheus.CounterVec
	presaleFeedPublishedTotal  *prometheus.CounterVec
	presaleFeedWorkflowRuntime *prometheus.HistogramVec

	// Chat / email metrics
	chatStreamEventsTotal *prometheus.CounterVec
	emailsSentTotal       *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	rateLimitedTotal     *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		upstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_calls_total",
				Help: "Total number of third-party API calls by service, operation and status",
			},
			[]string{"service", "operation", "status"},
		),
		upstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_call_duration_seconds",
				Help:    "Duration of third-party API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"service", "operation"},
		),

		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Total number of cache lookups by cache name and result (hit, miss, error)",
			},
			[]string{"cache", "result"},
		),

		presalePagesFetched: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_pages_fetched",
				Help:    "Number of history pages fetched per presale scan",
				Buckets: []float64{1, 2, 3, 5, 10, 20},
			},
			[]string{"source", "stop_reason"},
		),
		presaleContributionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_contributions_counted_total",
				Help: "Total number of transactions kept or dropped by the presale filter",
			},
			[]string{"result"},
		),
		presaleFeedPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_feed_contributions_total",
				Help: "Contributions handled by the presale feed workflow",
			},
			[]string{"stage"},
		),
		presaleFeedWorkflowRuntime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_feed_activity_duration_seconds",
				Help:    "Duration of presale feed activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		chatStreamEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stream_events_total",
				Help: "Total number of ndjson events written to chat streams by type",
			},
			[]string{"type"},
		),
		emailsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emails_sent_total",
				Help: "Total number of transcript emails submitted by status",
			},
			[]string{"status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 30},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		rateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of requests rejected by the per-client rate limiter",
			},
			[]string{"handler"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active presale feed SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Upstream metric helpers

// RecordUpstreamCall records a call to a third-party API with duration.
func (m *Metrics) RecordUpstreamCall(service, operation string, err error, duration float64) {
	m.upstreamCallsTotal.WithLabelValues(service, operation, errStatus(err)).Inc()
	m.upstreamCallDuration.WithLabelValues(service, operation).Observe(duration)
}

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method string, err error, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, errStatus(err)).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordCacheLookup records a cache lookup. result is "hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(cache, result string) {
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// Presale metric helpers

// RecordPresaleScan records how many pages a presale scan fetched and why it stopped.
func (m *Metrics) RecordPresaleScan(source, stopReason string, pages int) {
	m.presalePagesFetched.WithLabelValues(source, stopReason).Observe(float64(pages))
}

// RecordPresaleFilter records how many transactions the presale filter kept and dropped.
func (m *Metrics) RecordPresaleFilter(kept, dropped int) {
	m.presaleContributionsTotal.WithLabelValues("kept").Add(float64(kept))
	m.presaleContributionsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordFeedContributions records contributions moving through a feed stage
// ("fetched", "recorded", "published").
func (m *Metrics) RecordFeedContributions(stage string, count int) {
	m.presaleFeedPublishedTotal.WithLabelValues(stage).Add(float64(count))
}

// RecordActivityDuration records presale feed activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.presaleFeedWorkflowRuntime.WithLabelValues(activity).Observe(duration)
}

// Chat and email metric helpers

// RecordChatEvent records an ndjson event written to a chat stream.
func (m *Metrics) RecordChatEvent(eventType string) {
	m.chatStreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordEmailSent records a transcript email submission.
func (m *Metrics) RecordEmailSent(err error) {
	m.emailsSentTotal.WithLabelValues(errStatus(err)).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(handler string) {
	m.rateLimitedTotal.WithLabelValues(handler).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
