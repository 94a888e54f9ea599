// Package search implements one search attempt: a gated paper-source call,
// best-effort AI annotation, and BibTeX rendering, with progress reported
// through status entries.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/bibtex"
	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/llm"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/papersources"
)

// Request describes one search attempt against one source.
type Request struct {
	// Source is the registry name of the paper source.
	Source string

	// Query is the source-specific query string.
	Query string

	// Years restricts results to the last N publication years (0 = no
	// restriction).
	Years int

	// MaxResults caps the number of records fetched.
	MaxResults int

	// Email and APIKey are passed through to the source.
	Email  string
	APIKey string
}

// Outcome is the result of one search attempt. Err is set only for search
// failures worth retrying with a rewritten query; a search that legitimately
// matched nothing has Err nil and Count 0.
type Outcome struct {
	BibTeX   string
	Count    int
	Articles []domain.Article
	Message  string
	Err      error
}

// Gate serializes and retries upstream calls. Satisfied by
// *workflow.CallGate.
type Gate interface {
	Do(ctx context.Context, call func(context.Context) error) error
}

// Service runs search attempts. The summarizer is optional; without one the
// AI annotation step is skipped.
type Service struct {
	registry   *papersources.Registry
	gate       Gate
	summarizer *llm.Summarizer
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates a search service. summarizer and metrics may be nil.
func New(registry *papersources.Registry, gate Gate, summarizer *llm.Summarizer, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		registry:   registry,
		gate:       gate,
		summarizer: summarizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run executes one search attempt, reporting progress via emit. It never
// panics and never fails for annotation problems; only the source call
// itself can set Outcome.Err.
func (s *Service) Run(ctx context.Context, req Request, emit func(domain.StatusEntry)) Outcome {
	source, err := s.registry.Get(req.Source)
	if err != nil {
		emit(domain.Status("prepare search", domain.StatusError, err.Error()))
		return Outcome{Err: err}
	}

	logger := observability.WithSourceContext(s.logger, source.Name(), req.Query)
	emit(domain.Status("prepare search", domain.StatusRunning,
		fmt.Sprintf("searching %s for: %s", source.DisplayName(), req.Query)))
	emit(domain.Status("searching", domain.StatusRunning,
		fmt.Sprintf("querying %s", source.DisplayName())))

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordSearchStarted(source.Name())
	}

	var articles []domain.Article
	searchErr := s.gate.Do(ctx, func(ctx context.Context) error {
		var callErr error
		articles, callErr = source.Search(ctx, papersources.SearchParams{
			Query:      req.Query,
			Years:      req.Years,
			MaxResults: req.MaxResults,
			Email:      req.Email,
			APIKey:     req.APIKey,
		})
		return callErr
	})
	if searchErr != nil {
		if s.metrics != nil {
			s.metrics.RecordSearchFailed(source.Name(), time.Since(start).Seconds())
		}
		logger.Warn().Err(searchErr).Msg("search attempt failed")
		emit(domain.Status("searching", domain.StatusError, searchErr.Error()))
		return Outcome{Err: searchErr}
	}

	if s.metrics != nil {
		s.metrics.RecordSearchCompleted(source.Name(), len(articles), time.Since(start).Seconds())
	}

	if len(articles) == 0 {
		emit(domain.Status("search complete", domain.StatusSuccess, "no matching records found"))
		return Outcome{Message: "no matching records found"}
	}
	emit(domain.Status("search complete", domain.StatusSuccess,
		fmt.Sprintf("fetched %d candidate articles", len(articles))))

	s.annotate(ctx, articles, emit)

	emit(domain.Status("generate bibliography", domain.StatusRunning,
		fmt.Sprintf("rendering %d articles", len(articles))))
	text, count := bibtex.Build(articles)
	emit(domain.Status("generate bibliography", domain.StatusSuccess,
		fmt.Sprintf("generated %d entries", count)))

	return Outcome{
		BibTeX:   text,
		Count:    count,
		Articles: articles,
		Message:  fmt.Sprintf("found %d articles", count),
	}
}

// annotate adds AI annotations to the articles, best-effort: failures are
// reported as an error status entry but never fail the attempt.
func (s *Service) annotate(ctx context.Context, articles []domain.Article, emit func(domain.StatusEntry)) {
	if s.summarizer == nil {
		return
	}

	emit(domain.Status("AI summary", domain.StatusRunning,
		fmt.Sprintf("annotating %d articles", len(articles))))

	annotated, failed := 0, 0
	for i := range articles {
		if err := s.summarizer.Annotate(ctx, &articles[i]); err != nil {
			failed++
			s.logger.Warn().Err(err).Str("title", articles[i].Title).Msg("article annotation failed")
			continue
		}
		// Articles without abstracts are skipped silently.
		if articles[i].Annotation != "" {
			annotated++
		}
	}

	if failed == 0 {
		emit(domain.Status("AI summary", domain.StatusSuccess,
			fmt.Sprintf("annotated %d articles", annotated)))
		return
	}
	emit(domain.Status("AI summary", domain.StatusError,
		fmt.Sprintf("annotated %d of %d articles", annotated, len(articles))))
}
