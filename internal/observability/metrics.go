package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bibliography workflow service.
// Metrics are organized by subsystem: workflow runs, direction pipelines, searches,
// paper sources, LLM operations, billing, and the outbox. All counters and histograms
// are registered via promauto for automatic registration with the default registry.
type Metrics struct {
	// RunsStarted counts the total number of workflow runs initiated.
	RunsStarted prometheus.Counter

	// RunsSucceeded counts the total number of runs that finished successfully.
	RunsSucceeded prometheus.Counter

	// RunsFailed counts the total number of runs that ended in failure.
	RunsFailed prometheus.Counter

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// DirectionsPerRun observes the distribution of extracted directions per run.
	DirectionsPerRun prometheus.Histogram

	// DirectionOutcomes counts finished direction pipelines, labeled by outcome
	// (success, empty, error).
	DirectionOutcomes *prometheus.CounterVec

	// QueryRewrites counts query rewrite attempts across all pipelines.
	QueryRewrites prometheus.Counter

	// PermitWaitDuration observes how long pipelines waited for a search permit.
	PermitWaitDuration prometheus.Histogram

	// SearchesStarted counts searches initiated, labeled by paper source.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful searches, labeled by paper source.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed searches, labeled by paper source.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes search duration in seconds, labeled by paper source.
	SearchDuration *prometheus.HistogramVec

	// ArticlesPerSearch observes the distribution of articles returned per search.
	ArticlesPerSearch *prometheus.HistogramVec

	// SourceRequestsTotal counts HTTP requests to paper source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to paper source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from paper source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// SourceRetries counts retry attempts against paper source APIs, labeled by source.
	SourceRetries *prometheus.CounterVec

	// LLMRequestsTotal counts AI provider requests, labeled by operation and provider.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed AI provider requests, labeled by operation, provider, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes AI provider request duration in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// DebitsTotal counts successful workflow debits.
	DebitsTotal prometheus.Counter

	// DebitsDuplicate counts debit calls absorbed by an existing idempotency key.
	DebitsDuplicate prometheus.Counter

	// DebitsInsufficient counts debit calls rejected for insufficient balance.
	DebitsInsufficient prometheus.Counter

	// CreditsGranted counts credit units granted through the billing topic.
	CreditsGranted prometheus.Counter

	// OutboxPublished counts outbox events published to Kafka, labeled by event type.
	OutboxPublished *prometheus.CounterVec

	// OutboxPublishFailed counts outbox publish failures.
	OutboxPublishFailed prometheus.Counter

	// EventsConsumed counts messages consumed from Kafka, labeled by topic.
	EventsConsumed *prometheus.CounterVec

	// EventsConsumeFailed counts messages that failed processing, labeled by topic.
	EventsConsumeFailed *prometheus.CounterVec

	// HTTPRequestsTotal counts API requests, labeled by method, route pattern,
	// and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes API request duration in seconds, labeled by
	// method and route pattern.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of workflow runs started",
		}),
		RunsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_succeeded_total",
			Help:      "Total number of workflow runs completed successfully",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of workflow runs that failed",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		DirectionsPerRun: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directions_per_run",
			Help:      "Number of research directions extracted per run",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}),

		// Direction pipelines
		DirectionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direction_outcomes_total",
			Help:      "Total number of finished direction pipelines by outcome",
		}, []string{"outcome"}),
		QueryRewrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_rewrites_total",
			Help:      "Total number of query rewrite attempts",
		}),
		PermitWaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "permit_wait_duration_seconds",
			Help:      "Time spent waiting for a search permit in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),

		// Searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of article searches started by source",
		}, []string{"source"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of article searches completed by source",
		}, []string{"source"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of article searches that failed by source",
		}, []string{"source"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of article searches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		ArticlesPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "articles_per_search",
			Help:      "Number of articles returned per search by source",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
		}, []string{"source"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to paper sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to paper sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from paper sources",
		}, []string{"source"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of retried requests to paper sources",
		}, []string{"source"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of AI provider requests by operation",
		}, []string{"operation", "provider"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed AI provider requests by operation",
		}, []string{"operation", "provider", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of AI provider requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "provider"}),

		// Billing
		DebitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_total",
			Help:      "Total number of successful workflow debits",
		}),
		DebitsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_duplicate_total",
			Help:      "Total number of debit calls absorbed by an existing idempotency key",
		}),
		DebitsInsufficient: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_insufficient_total",
			Help:      "Total number of debit calls rejected for insufficient balance",
		}),
		CreditsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Total credit units granted through the billing topic",
		}),

		// Outbox
		OutboxPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total number of outbox events published to Kafka",
		}, []string{"event_type"}),
		OutboxPublishFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failed_total",
			Help:      "Total number of outbox publish failures",
		}),
		EventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		}, []string{"topic"}),
		EventsConsumeFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consume_failed_total",
			Help:      "Total number of consumed messages that failed processing",
		}, []string{"topic"}),

		// HTTP
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		}, []string{"method", "path"}),
	}
}

// RecordHTTPRequest records one finished API request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordRunStarted records that a workflow run has started.
func (m *Metrics) RecordRunStarted(directionCount int) {
	m.RunsStarted.Inc()
	m.DirectionsPerRun.Observe(float64(directionCount))
}

// RecordRunSucceeded records that a run has completed.
func (m *Metrics) RecordRunSucceeded(durationSeconds float64) {
	m.RunsSucceeded.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordRunFailed records that a run has failed.
func (m *Metrics) RecordRunFailed(durationSeconds float64) {
	m.RunsFailed.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordDirectionOutcome records the terminal outcome of one direction pipeline.
func (m *Metrics) RecordDirectionOutcome(outcome string) {
	m.DirectionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordQueryRewrite records one query rewrite attempt.
func (m *Metrics) RecordQueryRewrite() {
	m.QueryRewrites.Inc()
}

// RecordPermitWait records how long a pipeline waited for a search permit.
func (m *Metrics) RecordPermitWait(durationSeconds float64) {
	m.PermitWaitDuration.Observe(durationSeconds)
}

// RecordSearchStarted records that a search has started.
func (m *Metrics) RecordSearchStarted(source string) {
	m.SearchesStarted.WithLabelValues(source).Inc()
}

// RecordSearchCompleted records that a search has completed.
func (m *Metrics) RecordSearchCompleted(source string, articleCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.ArticlesPerSearch.WithLabelValues(source).Observe(float64(articleCount))
}

// RecordSearchFailed records that a search has failed.
func (m *Metrics) RecordSearchFailed(source string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a paper source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordSourceRetry records a retried request to a source.
func (m *Metrics) RecordSourceRetry(source string) {
	m.SourceRetries.WithLabelValues(source).Inc()
}

// RecordLLMRequest records an AI provider request.
func (m *Metrics) RecordLLMRequest(operation, provider string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(operation, provider).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, provider).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed AI provider request.
func (m *Metrics) RecordLLMRequestFailed(operation, provider, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, provider, errorType).Inc()
}

// RecordDebit records a successful workflow debit.
func (m *Metrics) RecordDebit() {
	m.DebitsTotal.Inc()
}

// RecordDebitDuplicate records a debit absorbed by an existing idempotency key.
func (m *Metrics) RecordDebitDuplicate() {
	m.DebitsDuplicate.Inc()
}

// RecordDebitInsufficient records a debit rejected for insufficient balance.
func (m *Metrics) RecordDebitInsufficient() {
	m.DebitsInsufficient.Inc()
}

// RecordCreditsGranted records credit units granted through the billing topic.
func (m *Metrics) RecordCreditsGranted(units int) {
	m.CreditsGranted.Add(float64(units))
}

// RecordOutboxPublished records an outbox event published to Kafka.
func (m *Metrics) RecordOutboxPublished(eventType string) {
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

// RecordOutboxPublishFailed records an outbox publish failure.
func (m *Metrics) RecordOutboxPublishFailed() {
	m.OutboxPublishFailed.Inc()
}

// RecordEventConsumed records a message consumed from Kafka.
func (m *Metrics) RecordEventConsumed(topic string) {
	m.EventsConsumed.WithLabelValues(topic).Inc()
}

// RecordEventConsumeFailed records a consumed message that failed processing.
func (m *Metrics) RecordEventConsumeFailed(topic string) {
	m.EventsConsumeFailed.WithLabelValues(topic).Inc()
}
