package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_bibliography_new")

	assert.NotNil(t, m.RunsStarted)
	assert.NotNil(t, m.RunsSucceeded)
	assert.NotNil(t, m.RunsFailed)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.DirectionsPerRun)
	assert.NotNil(t, m.DirectionOutcomes)
	assert.NotNil(t, m.QueryRewrites)
	assert.NotNil(t, m.PermitWaitDuration)
	assert.NotNil(t, m.SearchesStarted)
	assert.NotNil(t, m.SearchesCompleted)
	assert.NotNil(t, m.SearchesFailed)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.SourceRateLimited)
	assert.NotNil(t, m.SourceRetries)
	assert.NotNil(t, m.LLMRequestsTotal)
	assert.NotNil(t, m.DebitsTotal)
	assert.NotNil(t, m.OutboxPublished)
	assert.NotNil(t, m.EventsConsumed)
}

func TestRecordRunStarted(t *testing.T) {
	m := NewMetrics("test_run_started")

	initial := testutil.ToFloat64(m.RunsStarted)
	m.RecordRunStarted(4)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RunsStarted))

	histCount, err := getHistogramSampleCount(m.DirectionsPerRun)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordRunSucceeded(t *testing.T) {
	m := NewMetrics("test_run_succeeded")

	initial := testutil.ToFloat64(m.RunsSucceeded)
	m.RecordRunSucceeded(5.5)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RunsSucceeded))

	histCount, err := getHistogramSampleCount(m.RunDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordRunFailed(t *testing.T) {
	m := NewMetrics("test_run_failed")

	initial := testutil.ToFloat64(m.RunsFailed)
	m.RecordRunFailed(3.0)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RunsFailed))
}

func TestRecordDirectionOutcome(t *testing.T) {
	m := NewMetrics("test_direction_outcome")

	m.RecordDirectionOutcome("success")
	m.RecordDirectionOutcome("error")
	m.RecordDirectionOutcome("success")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DirectionOutcomes.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DirectionOutcomes.WithLabelValues("error")))
}

func TestRecordQueryRewrite(t *testing.T) {
	m := NewMetrics("test_query_rewrite")

	initial := testutil.ToFloat64(m.QueryRewrites)
	m.RecordQueryRewrite()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.QueryRewrites))
}

func TestRecordPermitWait(t *testing.T) {
	m := NewMetrics("test_permit_wait")

	m.RecordPermitWait(0.25)
	histCount, err := getHistogramSampleCount(m.PermitWaitDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordSearchStarted(t *testing.T) {
	m := NewMetrics("test_search_started")

	m.RecordSearchStarted("pubmed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesStarted.WithLabelValues("pubmed")))
}

func TestRecordSearchCompleted(t *testing.T) {
	m := NewMetrics("test_search_completed")

	m.RecordSearchCompleted("embase", 42, 2.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesCompleted.WithLabelValues("embase")))
}

func TestRecordSearchFailed(t *testing.T) {
	m := NewMetrics("test_search_failed")

	m.RecordSearchFailed("pubmed", 1.0)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesFailed.WithLabelValues("pubmed")))
}

func TestRecordSourceRequest(t *testing.T) {
	m := NewMetrics("test_source_request")

	m.RecordSourceRequest("pubmed", "esearch", 0.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("pubmed", "esearch")))
}

func TestRecordSourceRequestFailed(t *testing.T) {
	m := NewMetrics("test_source_request_failed")

	m.RecordSourceRequestFailed("embase", "search", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("embase", "search", "timeout")))
}

func TestRecordSourceRateLimited(t *testing.T) {
	m := NewMetrics("test_source_rate_limited")

	m.RecordSourceRateLimited("pubmed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("pubmed")))
}

func TestRecordSourceRetry(t *testing.T) {
	m := NewMetrics("test_source_retry")

	m.RecordSourceRetry("pubmed")
	m.RecordSourceRetry("pubmed")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SourceRetries.WithLabelValues("pubmed")))
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics("test_llm_request")

	m.RecordLLMRequest("extract_directions", "openai", 2.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("extract_directions", "openai")))
}

func TestRecordLLMRequestFailed(t *testing.T) {
	m := NewMetrics("test_llm_request_failed")

	m.RecordLLMRequestFailed("generate_query", "gemini", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsFailed.WithLabelValues("generate_query", "gemini", "timeout")))
}

func TestRecordDebitMetrics(t *testing.T) {
	m := NewMetrics("test_debits")

	m.RecordDebit()
	m.RecordDebitDuplicate()
	m.RecordDebitInsufficient()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebitsDuplicate))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebitsInsufficient))
}

func TestRecordCreditsGranted(t *testing.T) {
	m := NewMetrics("test_credits_granted")

	initial := testutil.ToFloat64(m.CreditsGranted)
	m.RecordCreditsGranted(10)
	assert.Equal(t, initial+10, testutil.ToFloat64(m.CreditsGranted))
}

func TestRecordOutboxPublished(t *testing.T) {
	m := NewMetrics("test_outbox_published")

	m.RecordOutboxPublished("run.succeeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxPublished.WithLabelValues("run.succeeded")))

	initial := testutil.ToFloat64(m.OutboxPublishFailed)
	m.RecordOutboxPublishFailed()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.OutboxPublishFailed))
}

func TestRecordEventConsumed(t *testing.T) {
	m := NewMetrics("test_events_consumed")

	m.RecordEventConsumed("billing.credits")
	m.RecordEventConsumeFailed("billing.credits")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsConsumed.WithLabelValues("billing.credits")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsConsumeFailed.WithLabelValues("billing.credits")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
