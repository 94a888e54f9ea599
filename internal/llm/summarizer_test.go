package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
)

func TestNormalizeAnnotation(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSummary string
		wantUsage   string
	}{
		{
			name:        "plain json",
			raw:         `{"summary": "Found X.", "usage": "Supports Y."}`,
			wantSummary: "Found X.",
			wantUsage:   "Supports Y.",
		},
		{
			name:        "fenced json",
			raw:         "```json\n{\"summary\": \"Found X.\", \"usage\": \"Supports Y.\"}\n```",
			wantSummary: "Found X.",
			wantUsage:   "Supports Y.",
		},
		{
			name:        "json buried in prose",
			raw:         "Here is the annotation you asked for: {\"summary\": \"Found X.\", \"usage\": \"Supports Y.\"} Hope it helps!",
			wantSummary: "Found X.",
			wantUsage:   "Supports Y.",
		},
		{
			name:        "extra keys dropped",
			raw:         `{"summary": "S", "usage": "U", "confidence": 0.9}`,
			wantSummary: "S",
			wantUsage:   "U",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotation, summary, usage := NormalizeAnnotation(tt.raw)
			assert.Equal(t, tt.wantSummary, summary)
			assert.Equal(t, tt.wantUsage, usage)
			assert.JSONEq(t,
				`{"summary": "`+tt.wantSummary+`", "usage": "`+tt.wantUsage+`"}`,
				annotation)
		})
	}
}

func TestNormalizeAnnotationFallback(t *testing.T) {
	annotation, summary, usage := NormalizeAnnotation("```\nnot json at all\n```")
	assert.Equal(t, "not json at all", annotation)
	assert.Empty(t, summary)
	assert.Empty(t, usage)

	annotation, _, _ = NormalizeAnnotation("  free text reply  ")
	assert.Equal(t, "free text reply", annotation)
}

func TestAnnotateSkipsWithoutAbstract(t *testing.T) {
	stub := &stubClient{replies: []string{`{"summary":"S","usage":"U"}`}}
	summarizer := NewSummarizer(stub)

	article := &domain.Article{Title: "No abstract"}
	require.NoError(t, summarizer.Annotate(context.Background(), article))
	assert.Empty(t, article.Annotation)
	assert.Empty(t, stub.calls)
}

func TestAnnotateFillsArticle(t *testing.T) {
	stub := &stubClient{replies: []string{`{"summary":"Lowered HbA1c.","usage":"Evidence for arm A."}`}}
	summarizer := NewSummarizer(stub)

	article := &domain.Article{
		Title:     "Metformin outcomes",
		Journal:   "Diabetes Care",
		Year:      "2023",
		Abstract:  "We studied metformin.",
		Direction: "metformin efficacy",
	}
	require.NoError(t, summarizer.Annotate(context.Background(), article))
	assert.Equal(t, "Lowered HbA1c.", article.Summary)
	assert.Equal(t, "Evidence for arm A.", article.Usage)
	assert.JSONEq(t, `{"summary":"Lowered HbA1c.","usage":"Evidence for arm A."}`, article.Annotation)

	prompt := stub.calls[0].prompt
	assert.Contains(t, prompt, "Metformin outcomes")
	assert.Contains(t, prompt, "Diabetes Care")
	assert.Contains(t, prompt, "metformin efficacy")
}

func TestAnnotateProviderError(t *testing.T) {
	summarizer := NewSummarizer(&stubClient{err: errors.New("boom")})
	article := &domain.Article{Title: "T", Abstract: "A"}
	err := summarizer.Annotate(context.Background(), article)
	require.Error(t, err)
	assert.Empty(t, article.Annotation)
}
