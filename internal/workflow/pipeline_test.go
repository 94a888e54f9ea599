package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/search"
)

// stubQuerygen scripts Generate and Rewrite replies.
type stubQuerygen struct {
	query        string
	generateErr  error
	rewrites     []string
	rewriteErr   error
	rewriteCalls int
}

func (s *stubQuerygen) Generate(ctx context.Context, intent, source string) (string, string, error) {
	if s.generateErr != nil {
		return "", "", s.generateErr
	}
	return s.query, "AI generated " + source + " query", nil
}

func (s *stubQuerygen) Rewrite(ctx context.Context, direction, failedQuery, source string) (string, error) {
	s.rewriteCalls++
	if s.rewriteErr != nil {
		return "", s.rewriteErr
	}
	if len(s.rewrites) == 0 {
		return "", nil
	}
	next := s.rewrites[0]
	s.rewrites = s.rewrites[1:]
	return next, nil
}

// stubSearcher returns one scripted outcome per attempt, keyed by order.
type stubSearcher struct {
	outcomes []search.Outcome
	requests []search.Request
	panics   bool
}

func (s *stubSearcher) Run(ctx context.Context, req search.Request, emit func(domain.StatusEntry)) search.Outcome {
	if s.panics {
		panic("searcher exploded")
	}
	s.requests = append(s.requests, req)
	emit(domain.Status("searching", domain.StatusRunning, "querying "+req.Source))
	if len(s.outcomes) == 0 {
		return search.Outcome{Message: "no matching records found"}
	}
	next := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return next
}

func pipelineReq() PipelineRequest {
	return PipelineRequest{
		Direction:  "sglt2 inhibitors in ckd",
		Index:      0,
		Source:     "pubmed",
		MaxResults: 10,
	}
}

func TestPipeline_SuccessFirstAttempt(t *testing.T) {
	qg := &stubQuerygen{query: "(sglt2[Title/Abstract]) AND (ckd[Title/Abstract])"}
	searcher := &stubSearcher{outcomes: []search.Outcome{{
		BibTeX:   "@article{a}",
		Count:    2,
		Articles: []domain.Article{{Title: "one"}, {Title: "two"}},
		Message:  "found 2 articles",
	}}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	var emitted []domain.StatusEntry
	detail := p.Run(context.Background(), pipelineReq(), func(e domain.StatusEntry) {
		emitted = append(emitted, e)
	})

	assert.Equal(t, "sglt2 inhibitors in ckd", detail.Direction)
	assert.Equal(t, qg.query, detail.Query)
	assert.Empty(t, detail.Error)
	assert.Equal(t, 0, detail.RetryCount)
	assert.Equal(t, 2, detail.Count)
	assert.Equal(t, "found 2 articles", detail.Message)
	assert.Equal(t, "@article{a}", detail.BibTeX)
	assert.Equal(t, 0, qg.rewriteCalls)

	// Articles are tagged with the owning direction.
	require.Len(t, detail.Articles, 2)
	for _, a := range detail.Articles {
		assert.Equal(t, "sglt2 inhibitors in ckd", a.Direction)
	}

	// The detail log stays unprefixed while emitted entries carry the label.
	require.NotEmpty(t, detail.StatusLog)
	assert.Equal(t, "search direction", detail.StatusLog[0].Step)
	require.NotEmpty(t, emitted)
	assert.Equal(t, "[sglt2 inhibitors in ckd] search direction", emitted[0].Step)
	assert.Len(t, emitted, len(detail.StatusLog))
}

func TestPipeline_ZeroHitsIsTerminalSuccess(t *testing.T) {
	qg := &stubQuerygen{query: "q", rewrites: []string{"should not be used"}}
	searcher := &stubSearcher{outcomes: []search.Outcome{{
		Count:   0,
		Message: "no matching records found",
	}}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Empty(t, detail.Error)
	assert.Equal(t, 0, detail.Count)
	assert.Equal(t, 0, detail.RetryCount)
	assert.Equal(t, "no matching records found", detail.Message)
	assert.Equal(t, 0, qg.rewriteCalls, "legitimate zero hits must not trigger a rewrite")
	assert.Len(t, searcher.requests, 1)
}

func TestPipeline_RewriteAfterFailureThenSuccess(t *testing.T) {
	qg := &stubQuerygen{query: "first", rewrites: []string{"second"}}
	searcher := &stubSearcher{outcomes: []search.Outcome{
		{Err: errors.New("pubmed: unexpected status 500")},
		{Count: 1, Articles: []domain.Article{{Title: "hit"}}, BibTeX: "@article{hit}", Message: "found 1 articles"},
	}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Empty(t, detail.Error, "a successful rewrite clears the earlier failure")
	assert.Equal(t, 1, detail.RetryCount)
	assert.Equal(t, "second", detail.Query)
	assert.Equal(t, 1, detail.Count)
	require.Len(t, searcher.requests, 2)
	assert.Equal(t, "first", searcher.requests[0].Query)
	assert.Equal(t, "second", searcher.requests[1].Query)
}

func TestPipeline_ExhaustsRewrites(t *testing.T) {
	qg := &stubQuerygen{query: "q0", rewrites: []string{"q1", "q2", "q3"}}
	searcher := &stubSearcher{outcomes: []search.Outcome{
		{Err: errors.New("fail 1")},
		{Err: errors.New("fail 2")},
		{Err: errors.New("fail 3")},
		{Err: errors.New("fail 4")},
	}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Equal(t, "fail 4", detail.Error)
	assert.Equal(t, 3, detail.RetryCount)
	assert.Equal(t, "q3", detail.Query)
	assert.Len(t, searcher.requests, 4)

	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Equal(t, "search retry", last.Step)
	assert.Equal(t, domain.StatusError, last.Status)
	assert.Contains(t, last.Detail, "giving up after 4 attempts")
}

func TestPipeline_EmptyRewriteEndsInError(t *testing.T) {
	qg := &stubQuerygen{query: "q0", rewrites: []string{"   "}}
	searcher := &stubSearcher{outcomes: []search.Outcome{
		{Err: errors.New("boom")},
	}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Equal(t, "boom", detail.Error)
	assert.Equal(t, 0, detail.RetryCount)
	assert.Len(t, searcher.requests, 1)

	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Contains(t, last.Detail, "query rewrite returned nothing")
}

func TestPipeline_RewriteErrorEndsInError(t *testing.T) {
	qg := &stubQuerygen{query: "q0", rewriteErr: errors.New("provider down")}
	searcher := &stubSearcher{outcomes: []search.Outcome{
		{Err: errors.New("boom")},
	}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Equal(t, "boom", detail.Error)
	assert.Len(t, searcher.requests, 1)

	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Contains(t, last.Detail, "query rewrite failed")
}

func TestPipeline_PartialStateResetsAfterRewrite(t *testing.T) {
	qg := &stubQuerygen{query: "q0", rewrites: []string{"q1", "q2", "q3"}}
	searcher := &stubSearcher{outcomes: []search.Outcome{
		{Err: errors.New("fail 1")},
		{Err: errors.New("fail 2")},
		{Err: errors.New("fail 3")},
		{Err: errors.New("fail 4")},
	}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	// Nothing from failed attempts may leak into the terminal detail.
	assert.Equal(t, 0, detail.Count)
	assert.Nil(t, detail.Articles)
	assert.Empty(t, detail.BibTeX)
	assert.Empty(t, detail.Message)
}

func TestPipeline_GenerationFailureEndsBeforeSearch(t *testing.T) {
	qg := &stubQuerygen{generateErr: errors.New("generate query: openai: status 500")}
	searcher := &stubSearcher{outcomes: []search.Outcome{{Count: 1, Message: "should not run"}}}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Equal(t, "generate query: openai: status 500", detail.Error)
	assert.Empty(t, detail.Query)
	assert.Empty(t, searcher.requests, "a direction without a generated query must not search")
	assert.Equal(t, 0, qg.rewriteCalls)

	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Equal(t, "generate query", last.Step)
	assert.Equal(t, domain.StatusError, last.Status)
}

func TestPipeline_BlankGeneratedQueryEndsBeforeSearch(t *testing.T) {
	qg := &stubQuerygen{query: "   "}
	searcher := &stubSearcher{}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	detail := p.Run(context.Background(), pipelineReq(), nil)

	assert.Contains(t, detail.Error, "empty query")
	assert.Empty(t, searcher.requests)

	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Equal(t, "generate query", last.Step)
	assert.Equal(t, domain.StatusError, last.Status)
}

func TestPipeline_RecoversFromPanic(t *testing.T) {
	qg := &stubQuerygen{query: "q"}
	searcher := &stubSearcher{panics: true}
	p := NewPipeline(qg, searcher, 3, nil, zerolog.Nop())

	var emitted []domain.StatusEntry
	detail := p.Run(context.Background(), pipelineReq(), func(e domain.StatusEntry) {
		emitted = append(emitted, e)
	})

	assert.Equal(t, "sglt2 inhibitors in ckd", detail.Direction)
	assert.Contains(t, detail.Error, "internal error")
	assert.Contains(t, detail.Error, "searcher exploded")
	require.NotEmpty(t, detail.StatusLog)
	last := detail.StatusLog[len(detail.StatusLog)-1]
	assert.Equal(t, "search aborted", last.Step)
	assert.Equal(t, domain.StatusError, last.Status)
}

func TestPipeline_DefaultsMaxRewrites(t *testing.T) {
	p := NewPipeline(&stubQuerygen{}, &stubSearcher{}, 0, nil, zerolog.Nop())
	assert.Equal(t, MaxQueryRewrites, p.maxRewrites)
}
