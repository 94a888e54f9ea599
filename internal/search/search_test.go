package search

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/llm"
	"github.com/litforge/bibliography-service/internal/papersources"
)

// passGate runs the call directly without permits or retries.
type passGate struct{}

func (passGate) Do(ctx context.Context, call func(context.Context) error) error {
	return call(ctx)
}

type fakeSource struct {
	name     string
	articles []domain.Article
	err      error
	gotQuery string
}

func (f *fakeSource) Name() string        { return f.name }
func (f *fakeSource) DisplayName() string { return "Fake " + f.name }
func (f *fakeSource) Search(ctx context.Context, params papersources.SearchParams) ([]domain.Article, error) {
	f.gotQuery = params.Query
	return f.articles, f.err
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return f.reply, f.err
}
func (f *fakeLLM) Provider() string { return "fake" }
func (f *fakeLLM) Model() string    { return "fake-model" }

func newRegistry(sources ...papersources.PaperSource) *papersources.Registry {
	registry := papersources.NewRegistry()
	for _, s := range sources {
		registry.Register(s)
	}
	return registry
}

func collectEntries() (func(domain.StatusEntry), *[]domain.StatusEntry) {
	var entries []domain.StatusEntry
	return func(e domain.StatusEntry) { entries = append(entries, e) }, &entries
}

func stepStatuses(entries []domain.StatusEntry, step string) []domain.StepStatus {
	var out []domain.StepStatus
	for _, e := range entries {
		if e.Step == step {
			out = append(out, e.Status)
		}
	}
	return out
}

func TestRunUnknownSource(t *testing.T) {
	svc := New(newRegistry(), passGate{}, nil, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "scopus", Query: "q"}, emit)
	require.Error(t, outcome.Err)
	require.Len(t, *entries, 1)
	assert.Equal(t, "prepare search", (*entries)[0].Step)
	assert.Equal(t, domain.StatusError, (*entries)[0].Status)
}

func TestRunSuccess(t *testing.T) {
	source := &fakeSource{name: "pubmed", articles: []domain.Article{
		{Title: "One", Authors: "A, B", Year: "2024", PMID: "1"},
		{Title: "Two", Authors: "C, D", Year: "2023", PMID: "2"},
	}}
	svc := New(newRegistry(source), passGate{}, nil, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "pubmed", Query: "heart failure", MaxResults: 10}, emit)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Count)
	assert.Equal(t, "found 2 articles", outcome.Message)
	assert.Len(t, outcome.Articles, 2)
	assert.Equal(t, "A_2024_1", outcome.Articles[0].CiteKey)
	assert.Contains(t, outcome.BibTeX, "@article{A_2024_1,")
	assert.Contains(t, outcome.BibTeX, "@article{C_2023_2,")
	assert.Equal(t, "heart failure", source.gotQuery)

	steps := make([]string, 0, len(*entries))
	for _, e := range *entries {
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []string{
		"prepare search", "searching", "search complete",
		"generate bibliography", "generate bibliography",
	}, steps)
}

func TestRunZeroResultsIsSuccess(t *testing.T) {
	source := &fakeSource{name: "pubmed"}
	svc := New(newRegistry(source), passGate{}, nil, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "pubmed", Query: "nothing"}, emit)
	require.NoError(t, outcome.Err)
	assert.Zero(t, outcome.Count)
	assert.Empty(t, outcome.BibTeX)
	assert.Equal(t, "no matching records found", outcome.Message)

	final := (*entries)[len(*entries)-1]
	assert.Equal(t, "search complete", final.Step)
	assert.Equal(t, domain.StatusSuccess, final.Status)
	assert.Equal(t, "no matching records found", final.Detail)
}

func TestRunSearchFailure(t *testing.T) {
	source := &fakeSource{name: "pubmed", err: &papersources.SourceError{
		Source: "pubmed", StatusCode: 500, Transient: true,
	}}
	svc := New(newRegistry(source), passGate{}, nil, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "pubmed", Query: "q"}, emit)
	require.Error(t, outcome.Err)
	assert.Zero(t, outcome.Count)
	assert.Equal(t, []domain.StepStatus{domain.StatusRunning, domain.StatusError},
		stepStatuses(*entries, "searching"))
}

func TestRunAnnotatesArticles(t *testing.T) {
	source := &fakeSource{name: "pubmed", articles: []domain.Article{
		{Title: "One", Abstract: "An abstract.", PMID: "1"},
	}}
	summarizer := llm.NewSummarizer(&fakeLLM{reply: `{"summary":"S","usage":"U"}`})
	svc := New(newRegistry(source), passGate{}, summarizer, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "pubmed", Query: "q"}, emit)
	require.NoError(t, outcome.Err)
	assert.Equal(t, "S", outcome.Articles[0].Summary)
	assert.Contains(t, outcome.BibTeX, `annote = {{"summary":"S","usage":"U"}}`)
	assert.Equal(t, []domain.StepStatus{domain.StatusRunning, domain.StatusSuccess},
		stepStatuses(*entries, "AI summary"))
}

func TestRunAnnotationFailureIsBestEffort(t *testing.T) {
	source := &fakeSource{name: "pubmed", articles: []domain.Article{
		{Title: "One", Abstract: "An abstract.", PMID: "1"},
	}}
	summarizer := llm.NewSummarizer(&fakeLLM{err: errors.New("provider down")})
	svc := New(newRegistry(source), passGate{}, summarizer, nil, zerolog.Nop())
	emit, entries := collectEntries()

	outcome := svc.Run(context.Background(), Request{Source: "pubmed", Query: "q"}, emit)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Count)
	assert.Empty(t, outcome.Articles[0].Annotation)
	assert.Equal(t, []domain.StepStatus{domain.StatusRunning, domain.StatusError},
		stepStatuses(*entries, "AI summary"))
}
