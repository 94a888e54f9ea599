package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/llm"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/papersources"
	"github.com/litforge/bibliography-service/internal/repository"
	"github.com/litforge/bibliography-service/internal/search"
)

// ClientFactory builds an LLM client for one provider role.
// Satisfied by llm.NewClient.
type ClientFactory func(cfg llm.FactoryConfig) (llm.Client, error)

// RunEvents records run lifecycle events for asynchronous publication.
// Satisfied by *outbox.Emitter; nil disables eventing.
type RunEvents interface {
	RunStarted(ctx context.Context, run *domain.Run) error
	RunFinished(ctx context.Context, run *domain.Run, status domain.RunStatus, totalCount int, errorMessage string, duration time.Duration) error
}

// ExtractionError marks a failure that happened before any run was created
// or billed: invalid input, an unknown source, or direction extraction
// producing nothing.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return e.Err.Error() }

func (e *ExtractionError) Unwrap() error { return e.Err }

// Config carries the orchestration limits and retry policy. Zero values
// select the package defaults.
type Config struct {
	// DefaultSource is used when a request names no paper source.
	DefaultSource string
	// SearchConcurrency is the size of the shared search permit pool.
	SearchConcurrency int
	// MaxQueryRewrites bounds rewrite attempts per direction.
	MaxQueryRewrites int
	// MaxDirections caps the requested direction count.
	MaxDirections int
	// DefaultMaxResults is the per-direction article cap when the request
	// does not specify one.
	DefaultMaxResults int
	// Retry is the policy applied by the shared call gate.
	Retry RetryPolicy
	// LLMTimeout bounds individual LLM API calls.
	LLMTimeout time.Duration
	// LLMMaxRetries is the retry count for transient LLM failures.
	LLMMaxRetries int
}

func (c Config) withDefaults() Config {
	if c.DefaultSource == "" {
		c.DefaultSource = "pubmed"
	}
	if c.SearchConcurrency < 1 {
		c.SearchConcurrency = DefaultConcurrency
	}
	if c.MaxQueryRewrites <= 0 {
		c.MaxQueryRewrites = MaxQueryRewrites
	}
	if c.MaxDirections <= 0 {
		c.MaxDirections = llm.MaxDirections
	}
	if c.DefaultMaxResults < 1 {
		c.DefaultMaxResults = 10
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Request is one workflow invocation.
type Request struct {
	UserID         uuid.UUID
	Intent         string
	Source         string
	Years          int
	DirectionCount int
	MaxResults     int
	Concurrency    int

	// Per-role AI provider settings.
	DirectionAI domain.ProviderConfig
	QueryAI     domain.ProviderConfig
	SummaryAI   domain.ProviderConfig

	// Email and SourceAPIKey identify the caller to the paper source.
	Email        string
	SourceAPIKey string
}

// Result is the aggregate outcome of a finished workflow.
type Result struct {
	RunID      uuid.UUID
	Directions []string
	Details    []domain.DirectionDetail
	BibTeX     string
	Count      int
	Articles   []domain.Article
	StatusLog  []domain.StatusEntry
	Message    string
}

// Orchestrator drives a workflow run: direction extraction, the run record,
// the single up-front credit debit, one pipeline goroutine per direction
// feeding a single event channel, and index-ordered aggregation of the
// terminal details.
type Orchestrator struct {
	runs      repository.RunRepository
	ledger    repository.LedgerRepository
	events    RunEvents
	registry  *papersources.Registry
	newClient ClientFactory
	cfg       Config
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewOrchestrator creates an orchestrator. events and metrics may be nil.
func NewOrchestrator(
	runs repository.RunRepository,
	ledger repository.LedgerRepository,
	events RunEvents,
	registry *papersources.Registry,
	newClient ClientFactory,
	cfg Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	if newClient == nil {
		newClient = llm.NewClient
	}
	return &Orchestrator{
		runs:      runs,
		ledger:    ledger,
		events:    events,
		registry:  registry,
		newClient: newClient,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger,
	}
}

// pipelineMsg carries either one forwarded status entry or the terminal
// detail of a direction over the fan-in channel.
type pipelineMsg struct {
	index  int
	status *domain.StatusEntry
	detail *domain.DirectionDetail
}

// Execute runs the workflow to completion. Progress is forwarded to emitter
// as it happens (nil for fire-and-forget callers); the returned Result
// carries the same information re-sorted into direction-index order.
//
// Failures before a run exists are returned as *ExtractionError. A debit
// rejection returns domain.ErrInsufficientBalance with the run already
// marked failed. The partial Result is valid on every error path.
func (o *Orchestrator) Execute(ctx context.Context, req Request, emitter Emitter) (*Result, error) {
	result := &Result{}

	var runLog []domain.StatusEntry
	emitStatus := func(entry domain.StatusEntry) {
		runLog = append(runLog, entry)
		result.StatusLog = runLog
		if emitter != nil {
			emitter.Emit(Event{Type: EventStatus, Payload: entry})
		}
	}
	emitEvent := func(event Event) {
		if emitter != nil {
			emitter.Emit(event)
		}
	}

	intent := strings.TrimSpace(req.Intent)
	if intent == "" {
		err := &ExtractionError{Err: domain.ErrEmptyQuery}
		emitStatus(domain.Status("workflow", domain.StatusError, "research intent is empty"))
		emitEvent(Event{Type: EventError, Payload: ErrorPayload{Message: err.Error()}})
		return result, err
	}

	source := strings.TrimSpace(strings.ToLower(req.Source))
	if source == "" {
		source = o.cfg.DefaultSource
	}
	if _, err := o.registry.Get(source); err != nil {
		wrapped := &ExtractionError{Err: fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)}
		emitStatus(domain.Status("workflow", domain.StatusError, wrapped.Error()))
		emitEvent(Event{Type: EventError, Payload: ErrorPayload{Message: wrapped.Error()}})
		return result, wrapped
	}

	maxResults := req.MaxResults
	if maxResults < 1 {
		maxResults = o.cfg.DefaultMaxResults
	}
	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = o.cfg.SearchConcurrency
	}
	desired := req.DirectionCount
	if desired > o.cfg.MaxDirections {
		desired = o.cfg.MaxDirections
	}

	emitStatus(domain.Status("workflow", domain.StatusRunning, "workflow started"))

	// Extraction happens before any run exists: its failures never bill.
	directionClient, err := o.newClient(o.clientConfig(req.DirectionAI))
	if err != nil {
		err = &ExtractionError{Err: fmt.Errorf("direction provider: %w", err)}
		emitStatus(domain.Status("extract directions", domain.StatusError, err.Error()))
		emitEvent(Event{Type: EventError, Payload: ErrorPayload{Message: err.Error()}})
		return result, err
	}
	emitStatus(domain.Status("extract directions", domain.StatusRunning, "analyzing the research intent"))
	extraction, err := llm.NewDirectionExtractor(directionClient).Extract(ctx, intent, desired)
	if err != nil {
		err = &ExtractionError{Err: err}
		emitStatus(domain.Status("extract directions", domain.StatusError, err.Error()))
		emitEvent(Event{Type: EventError, Payload: ErrorPayload{Message: err.Error()}})
		return result, err
	}
	directions := extraction.Directions
	emitStatus(domain.Status("extract directions", domain.StatusSuccess, extraction.Message))
	result.Directions = directions

	run := &domain.Run{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Status:    domain.RunStatusRunning,
		InputHash: hashIntent(intent),
		Config: domain.RunConfig{
			Source:                 source,
			Years:                  req.Years,
			DirectionProvider:      req.DirectionAI.Provider,
			QueryProvider:          req.QueryAI.Provider,
			SummaryProvider:        req.SummaryAI.Provider,
			DirectionCount:         req.DirectionCount,
			MaxResultsPerDirection: maxResults,
			SearchConcurrency:      concurrency,
			Directions:             directions,
		},
	}
	if err := o.runs.Create(ctx, run); err != nil {
		emitStatus(domain.Status("workflow aborted", domain.StatusError, "could not record the run"))
		emitEvent(Event{Type: EventError, Payload: ErrorPayload{Message: "could not record the run"}})
		return result, fmt.Errorf("create run: %w", err)
	}
	result.RunID = run.ID
	if o.metrics != nil {
		o.metrics.RecordRunStarted(len(directions))
	}
	logger := observability.WithRunContext(o.logger, run.ID.String(), req.UserID.String())
	start := time.Now()

	// One debit per run, idempotent on the run-derived key.
	if err := o.ledger.DebitOnce(ctx, req.UserID, run.ID, domain.WorkflowIdempotencyKey(run.ID)); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			if o.metrics != nil {
				o.metrics.RecordDebitInsufficient()
			}
			o.failRun(ctx, run, start, "insufficient credits", emitStatus, emitEvent, logger)
			return result, err
		}
		o.failRun(ctx, run, start, "billing failed", emitStatus, emitEvent, logger)
		return result, fmt.Errorf("debit credits: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordDebit()
	}

	logger.Info().
		Str("source", source).
		Int("directions", len(directions)).
		Int("concurrency", concurrency).
		Msg("workflow run started")
	if o.events != nil {
		if err := o.events.RunStarted(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("failed to record run.started event")
		}
	}

	emitStatus(domain.Status("concurrent search", domain.StatusRunning,
		fmt.Sprintf("searching %d directions with concurrency %d", len(directions), concurrency)))
	emitEvent(Event{Type: EventWorkflowInit, Payload: InitPayload{
		RunID:      run.ID.String(),
		Directions: directions,
		Message:    extraction.Message,
	}})

	pipeline := o.buildPipeline(req, concurrency, logger)

	ch := make(chan pipelineMsg, len(directions)*8)
	var wg sync.WaitGroup
	for i, direction := range directions {
		wg.Add(1)
		go func(index int, direction string) {
			defer wg.Done()
			detail := pipeline.Run(ctx, PipelineRequest{
				Direction:  direction,
				Index:      index,
				Source:     source,
				Years:      req.Years,
				MaxResults: maxResults,
				Email:      req.Email,
				APIKey:     req.SourceAPIKey,
			}, func(entry domain.StatusEntry) {
				ch <- pipelineMsg{index: index, status: &entry}
			})
			ch <- pipelineMsg{index: index, detail: &detail}
		}(i, direction)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	// Fan-in: stream events in completion order, keep details by index.
	details := make([]domain.DirectionDetail, len(directions))
	for msg := range ch {
		if msg.status != nil {
			emitEvent(Event{Type: EventStatus, Payload: *msg.status})
			continue
		}
		details[msg.index] = *msg.detail
		streamed := *msg.detail
		streamed.StatusLog = nil
		emitEvent(Event{Type: EventDirectionResult, Payload: streamed})
	}

	var parts []string
	var articles []domain.Article
	total := 0
	for _, detail := range details {
		total += detail.Count
		articles = append(articles, detail.Articles...)
		if text := strings.TrimSpace(detail.BibTeX); text != "" {
			parts = append(parts, text)
		}
		runLog = append(runLog, domain.PrefixStatus(detail.Direction, detail.StatusLog)...)
	}
	message := fmt.Sprintf("workflow finished: %d directions, %d articles", len(directions), total)
	emitStatus(domain.Status("workflow", domain.StatusSuccess, message))

	if err := o.runs.Finish(ctx, run.ID, domain.RunStatusSucceeded, ""); err != nil {
		logger.Error().Err(err).Msg("failed to finish run")
		return result, fmt.Errorf("finish run: %w", err)
	}
	duration := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordRunSucceeded(duration.Seconds())
	}
	logger.Info().
		Int("total_count", total).
		Dur("duration", duration).
		Msg("workflow run succeeded")
	if o.events != nil {
		if err := o.events.RunFinished(ctx, run, domain.RunStatusSucceeded, total, "", duration); err != nil {
			logger.Warn().Err(err).Msg("failed to record run.succeeded event")
		}
	}

	result.Details = details
	result.BibTeX = strings.Join(parts, "\n\n")
	result.Count = total
	result.Articles = articles
	result.StatusLog = runLog
	result.Message = message

	emitEvent(Event{Type: EventWorkflowDone, Payload: DonePayload{
		RunID:      run.ID.String(),
		Directions: details,
		BibTeX:     result.BibTeX,
		Count:      total,
		Articles:   articles,
		Message:    message,
	}})
	return result, nil
}

// buildPipeline assembles the per-run machinery: the permit pool shared by
// every direction, the retrying call gate on top of it, the search service,
// and the query generator / summarizer for the configured providers. A query
// provider that cannot be constructed fails each direction before any search;
// only the summarizer degrades, because annotations are an enhancement.
func (o *Orchestrator) buildPipeline(req Request, concurrency int, logger zerolog.Logger) *Pipeline {
	// Rule-based queries are only for runs that configured no query
	// provider; a provider that fails to construct fails its directions.
	var querygen QueryGenerator
	if req.QueryAI.Provider == "" {
		querygen = llm.NewQueryGenerator(nil)
	} else if client, err := o.newClient(o.clientConfig(req.QueryAI)); err == nil {
		querygen = llm.NewQueryGenerator(client)
	} else {
		logger.Warn().Err(err).Msg("query provider unavailable")
		querygen = &unavailableQueries{err: fmt.Errorf("query provider unavailable: %w", err)}
	}

	var summarizer *llm.Summarizer
	if req.SummaryAI.Provider != "" {
		if client, err := o.newClient(o.clientConfig(req.SummaryAI)); err == nil {
			summarizer = llm.NewSummarizer(client)
		} else {
			logger.Warn().Err(err).Msg("summary provider unavailable, skipping annotations")
		}
	}

	pool := NewPermitPool(concurrency, o.metrics)
	gate := NewCallGate(pool, o.cfg.Retry, logger)
	svc := search.New(o.registry, gate, summarizer, o.metrics, logger)
	return NewPipeline(querygen, svc, o.cfg.MaxQueryRewrites, o.metrics, logger)
}

func (o *Orchestrator) clientConfig(pc domain.ProviderConfig) llm.FactoryConfig {
	return llm.FactoryConfig{
		Provider:    pc.Provider,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		BaseURL:     pc.BaseURL,
		Temperature: pc.Temperature,
		Timeout:     o.cfg.LLMTimeout,
		MaxRetries:  o.cfg.LLMMaxRetries,
	}
}

func (o *Orchestrator) failRun(
	ctx context.Context,
	run *domain.Run,
	start time.Time,
	message string,
	emitStatus func(domain.StatusEntry),
	emitEvent func(Event),
	logger zerolog.Logger,
) {
	emitStatus(domain.Status("workflow aborted", domain.StatusError, message))
	if err := o.runs.Finish(ctx, run.ID, domain.RunStatusFailed, message); err != nil {
		logger.Error().Err(err).Msg("failed to mark run failed")
	}
	duration := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordRunFailed(duration.Seconds())
	}
	logger.Warn().Str("reason", message).Msg("workflow run failed")
	if o.events != nil {
		if err := o.events.RunFinished(ctx, run, domain.RunStatusFailed, 0, message, duration); err != nil {
			logger.Warn().Err(err).Msg("failed to record run.failed event")
		}
	}
	emitEvent(Event{Type: EventError, Payload: ErrorPayload{
		Message: message,
		RunID:   run.ID.String(),
	}})
}

func hashIntent(intent string) string {
	sum := sha256.Sum256([]byte(intent))
	return hex.EncodeToString(sum[:])
}
