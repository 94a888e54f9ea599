package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/search"
)

// MaxQueryRewrites bounds how often a direction may rewrite its query after
// failed searches, so each direction performs at most MaxQueryRewrites+1
// search attempts.
const MaxQueryRewrites = 3

// QueryGenerator produces and rewrites source-specific queries.
// Satisfied by *llm.QueryGenerator.
type QueryGenerator interface {
	Generate(ctx context.Context, intent, source string) (query, message string, err error)
	Rewrite(ctx context.Context, direction, failedQuery, source string) (string, error)
}

// unavailableQueries stands in for a query provider that could not be
// constructed: every direction fails before searching.
type unavailableQueries struct {
	err error
}

func (u *unavailableQueries) Generate(ctx context.Context, intent, source string) (string, string, error) {
	return "", "", u.err
}

func (u *unavailableQueries) Rewrite(ctx context.Context, direction, failedQuery, source string) (string, error) {
	return "", u.err
}

// Searcher executes one search attempt. Satisfied by *search.Service.
type Searcher interface {
	Run(ctx context.Context, req search.Request, emit func(domain.StatusEntry)) search.Outcome
}

// PipelineRequest is the work order for one direction.
type PipelineRequest struct {
	Direction  string
	Index      int
	Source     string
	Years      int
	MaxResults int
	Email      string
	APIKey     string
}

// Pipeline runs one direction end to end: query generation, the search
// attempt, and the bounded rewrite loop. An attempt is terminal when it
// produced no error or found at least one article; only real failures
// trigger a rewrite.
type Pipeline struct {
	querygen    QueryGenerator
	searcher    Searcher
	maxRewrites int
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewPipeline creates a pipeline. maxRewrites <= 0 selects
// MaxQueryRewrites; metrics may be nil.
func NewPipeline(querygen QueryGenerator, searcher Searcher, maxRewrites int, metrics *observability.Metrics, logger zerolog.Logger) *Pipeline {
	if maxRewrites <= 0 {
		maxRewrites = MaxQueryRewrites
	}
	return &Pipeline{
		querygen:    querygen,
		searcher:    searcher,
		maxRewrites: maxRewrites,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run executes the direction and returns its terminal detail. Progress
// entries are appended to the detail's status log and also forwarded to emit
// prefixed with the direction label. Panics are recovered into an error
// detail so sibling directions keep running.
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest, emit func(domain.StatusEntry)) (detail domain.DirectionDetail) {
	logger := observability.WithDirectionContext(p.logger, req.Direction, req.Index)

	var log []domain.StatusEntry
	record := func(entry domain.StatusEntry) {
		log = append(log, entry)
		if emit != nil {
			emit(entry.Prefixed(req.Direction))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("direction pipeline panicked")
			msg := fmt.Sprintf("internal error: %v", r)
			record(domain.Status("search aborted", domain.StatusError, msg))
			detail = domain.DirectionDetail{
				Direction: req.Direction,
				Error:     msg,
				StatusLog: log,
			}
			p.recordOutcome(detail)
		}
	}()

	record(domain.Status("search direction", domain.StatusRunning, req.Direction))

	// A failed or empty generation ends the direction here; searching with a
	// query the provider never produced is not an option.
	query, message, err := p.querygen.Generate(ctx, req.Direction, req.Source)
	if err == nil && strings.TrimSpace(query) == "" {
		err = fmt.Errorf("generate query: empty query for direction %q", req.Direction)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("query generation failed")
		record(domain.Status("generate query", domain.StatusError, err.Error()))
		detail = domain.DirectionDetail{
			Direction: req.Direction,
			Error:     err.Error(),
			StatusLog: log,
		}
		p.recordOutcome(detail)
		return detail
	}
	record(domain.Status("generate query", domain.StatusSuccess, message))

	detail = domain.DirectionDetail{Direction: req.Direction, Query: query}

	for attempt := 0; ; attempt++ {
		outcome := p.searcher.Run(ctx, search.Request{
			Source:     req.Source,
			Query:      query,
			Years:      req.Years,
			MaxResults: req.MaxResults,
			Email:      req.Email,
			APIKey:     req.APIKey,
		}, record)

		if outcome.Err == nil {
			detail.Error = ""
			detail.Count = outcome.Count
			detail.Articles = outcome.Articles
			detail.BibTeX = outcome.BibTeX
			detail.Message = outcome.Message
			break
		}
		detail.Error = outcome.Err.Error()

		if attempt >= p.maxRewrites {
			record(domain.Status("search retry", domain.StatusError,
				fmt.Sprintf("giving up after %d attempts", attempt+1)))
			break
		}

		record(domain.Status("search retry", domain.StatusRunning,
			fmt.Sprintf("rewriting query (rewrite %d of %d)", attempt+1, p.maxRewrites)))
		rewritten, err := p.querygen.Rewrite(ctx, req.Direction, query, req.Source)
		if err != nil {
			record(domain.Status("search retry", domain.StatusError,
				"query rewrite failed: "+err.Error()))
			break
		}
		if strings.TrimSpace(rewritten) == "" {
			record(domain.Status("search retry", domain.StatusError,
				"query rewrite returned nothing"))
			break
		}

		if p.metrics != nil {
			p.metrics.RecordQueryRewrite()
		}
		detail.RetryCount++
		query = rewritten
		detail.Query = query
		// Reset partial attempt state before re-searching.
		detail.Count = 0
		detail.Articles = nil
		detail.BibTeX = ""
		detail.Message = ""
		record(domain.Status("generate query", domain.StatusSuccess, "rewrote query: "+query))
	}

	for i := range detail.Articles {
		detail.Articles[i].Direction = req.Direction
	}
	detail.StatusLog = log
	p.recordOutcome(detail)
	return detail
}

func (p *Pipeline) recordOutcome(detail domain.DirectionDetail) {
	if p.metrics == nil {
		return
	}
	switch {
	case detail.Error != "":
		p.metrics.RecordDirectionOutcome("error")
	case detail.Count == 0:
		p.metrics.RecordDirectionOutcome("empty")
	default:
		p.metrics.RecordDirectionOutcome("success")
	}
}
