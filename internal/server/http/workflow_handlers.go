package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/workflow"
)

// streamEmitterBuffer sizes the event channel behind a streaming run. The
// writer drains continuously, so the buffer only absorbs short bursts.
const streamEmitterBuffer = 64

type workflowRequest struct {
	Query             string `json:"query" validate:"required"`
	Source            string `json:"source"`
	Years             int    `json:"years" validate:"min=0"`
	DirectionCount    int    `json:"direction_count" validate:"min=0"`
	MaxResults        int    `json:"max_results" validate:"min=0"`
	Concurrency       int    `json:"search_concurrency" validate:"min=0"`
	DirectionProvider string `json:"direction_ai_provider"`
	QueryProvider     string `json:"query_ai_provider"`
	SummaryProvider   string `json:"summary_ai_provider"`
	Email             string `json:"email" validate:"omitempty,email"`
	SourceAPIKey      string `json:"source_api_key"`
}

func (s *Server) workflowRequestToDomain(req workflowRequest, user domain.User) workflow.Request {
	return workflow.Request{
		UserID:         user.ID,
		Intent:         req.Query,
		Source:         req.Source,
		Years:          req.Years,
		DirectionCount: req.DirectionCount,
		MaxResults:     req.MaxResults,
		Concurrency:    req.Concurrency,
		DirectionAI:    s.providers.Direction(req.DirectionProvider),
		QueryAI:        s.providers.Query(req.QueryProvider),
		SummaryAI:      s.providers.Summary(req.SummaryProvider),
		Email:          req.Email,
		SourceAPIKey:   req.SourceAPIKey,
	}
}

// runWorkflowHandler handles POST /api/workflows. It runs the workflow to
// completion and returns the aggregate result with the full status log.
func (s *Server) runWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req workflowRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	emitter := workflow.NewBufferedEmitter()
	result, err := s.workflows.Execute(r.Context(), s.workflowRequestToDomain(req, *user), emitter)
	if err != nil {
		s.writeWorkflowError(w, result, err)
		return
	}

	writeJSON(w, http.StatusOK, workflowResponse{
		RunID:      result.RunID.String(),
		Directions: result.Details,
		StatusLog:  result.StatusLog,
		BibTeX:     result.BibTeX,
		Count:      result.Count,
		Articles:   result.Articles,
		Message:    result.Message,
	})
}

// writeWorkflowError maps a failed run to the status-coded error body. The
// status log is always included so callers can show how far the run got.
func (s *Server) writeWorkflowError(w http.ResponseWriter, result *workflow.Result, err error) {
	resp := workflowErrorResponse{Error: err.Error()}
	if result != nil {
		resp.StatusLog = result.StatusLog
		if result.RunID != uuid.Nil {
			resp.RunID = result.RunID.String()
		}
	}

	var exErr *workflow.ExtractionError
	switch {
	case errors.As(err, &exErr):
		// Nothing was billed and no run exists.
		resp.RunID = ""
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// streamWorkflowHandler handles POST /api/workflows/stream. Events are
// relayed to the client as they happen; the stream ends with either a
// workflow_done or an error event.
func (s *Server) streamWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req workflowRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	emitter := workflow.NewStreamEmitter(streamEmitterBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer emitter.Close()
		if _, err := s.workflows.Execute(r.Context(), s.workflowRequestToDomain(req, *user), emitter); err != nil {
			s.logger.Warn().Err(err).Msg("streamed workflow failed")
		}
	}()

	for event := range emitter.Events() {
		sendSSEEvent(w, flusher, string(event.Type), event.Payload)
	}
	<-done
}

// getWorkflowHandler handles GET /api/workflows/{runID}. Runs are visible to
// their owner and to admins.
func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if run.UserID != user.ID && !user.IsAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}
