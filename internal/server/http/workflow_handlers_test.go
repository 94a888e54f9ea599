package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/workflow"
)

func successResult(runID uuid.UUID) *workflow.Result {
	return &workflow.Result{
		RunID: runID,
		Details: []domain.DirectionDetail{
			{Direction: "direction a", Query: "query a", Count: 2},
			{Direction: "direction b", Query: "query b", Count: 1},
		},
		BibTeX: "@article{a_2024_1,\n}",
		Count:  3,
		StatusLog: []domain.StatusEntry{
			domain.Status("workflow", domain.StatusRunning, "workflow started"),
			domain.Status("workflow", domain.StatusSuccess, "workflow finished: 2 directions, 3 articles"),
		},
		Message: "workflow finished: 2 directions, 3 articles",
	}
}

func TestRunWorkflow(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	runID := uuid.New()
	e.runner.result = successResult(runID)

	rec := e.doJSON(t, http.MethodPost, "/api/workflows", token, map[string]interface{}{
		"query":               "sglt2 inhibitors in chronic kidney disease",
		"direction_count":     2,
		"summary_ai_provider": "none",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp workflowResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, runID.String(), resp.RunID)
	require.Len(t, resp.Directions, 2)
	assert.Equal(t, "direction a", resp.Directions[0].Direction)
	assert.Equal(t, 3, resp.Count)
	assert.NotEmpty(t, resp.BibTeX)
	assert.Len(t, resp.StatusLog, 2)

	// The request user travels into the workflow, not a body field.
	got := e.runner.request()
	assert.Equal(t, "sglt2 inhibitors in chronic kidney disease", got.Intent)
	assert.Equal(t, 2, got.DirectionCount)
	assert.Empty(t, got.SummaryAI.Provider)
	assert.NotEqual(t, uuid.Nil, got.UserID)
}

func TestRunWorkflowExtractionFailure(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	e.runner.result = &workflow.Result{
		StatusLog: []domain.StatusEntry{
			domain.Status("extract directions", domain.StatusError, "no directions"),
		},
	}
	e.runner.err = &workflow.ExtractionError{Err: domain.ErrNoDirections}

	rec := e.doJSON(t, http.MethodPost, "/api/workflows", token, map[string]string{
		"query": "unintelligible",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp workflowErrorResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.Error)
	assert.Len(t, resp.StatusLog, 1)
	assert.Empty(t, resp.RunID)
}

func TestRunWorkflowInsufficientCredits(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	runID := uuid.New()
	e.runner.result = &workflow.Result{
		RunID: runID,
		StatusLog: []domain.StatusEntry{
			domain.Status("workflow aborted", domain.StatusError, "insufficient credits"),
		},
	}
	e.runner.err = fmt.Errorf("debit credits: %w", domain.ErrInsufficientBalance)

	rec := e.doJSON(t, http.MethodPost, "/api/workflows", token, map[string]string{
		"query": "sglt2 inhibitors",
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp workflowErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, runID.String(), resp.RunID)
	assert.NotEmpty(t, resp.StatusLog)
}

func TestRunWorkflowInternalFailure(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	runID := uuid.New()
	e.runner.result = &workflow.Result{RunID: runID}
	e.runner.err = errors.New("finish run: connection reset")

	rec := e.doJSON(t, http.MethodPost, "/api/workflows", token, map[string]string{
		"query": "sglt2 inhibitors",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp workflowErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, runID.String(), resp.RunID)
}

func TestRunWorkflowRequiresQuery(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	rec := e.doJSON(t, http.MethodPost, "/api/workflows", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamWorkflow(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	runID := uuid.New()
	e.runner.result = successResult(runID)
	e.runner.events = []workflow.Event{
		{Type: workflow.EventWorkflowInit, Payload: workflow.InitPayload{
			RunID:      runID.String(),
			Directions: []string{"direction a", "direction b"},
		}},
		{Type: workflow.EventStatus, Payload: domain.Status("searching", domain.StatusRunning, "direction a")},
		{Type: workflow.EventWorkflowDone, Payload: workflow.DonePayload{
			RunID: runID.String(),
			Count: 3,
		}},
	}

	rec := e.doJSON(t, http.MethodPost, "/api/workflows/stream", token, map[string]string{
		"query": "sglt2 inhibitors",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: workflow_init\n")
	assert.Contains(t, body, "event: status\n")
	assert.Contains(t, body, "event: workflow_done\n")
	assert.Contains(t, body, runID.String())

	// Events arrive in emission order.
	init := strings.Index(body, "event: workflow_init")
	done := strings.Index(body, "event: workflow_done")
	assert.Less(t, init, done)
}

func TestStreamWorkflowEmitsErrorEvent(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.registerUser(t, "reader@example.org")

	e.runner.result = &workflow.Result{}
	e.runner.err = &workflow.ExtractionError{Err: domain.ErrEmptyQuery}
	e.runner.events = []workflow.Event{
		{Type: workflow.EventError, Payload: workflow.ErrorPayload{Message: domain.ErrEmptyQuery.Error()}},
	}

	rec := e.doJSON(t, http.MethodPost, "/api/workflows/stream", token, map[string]string{
		"query": "anything",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error\n")
}

func TestGetWorkflow(t *testing.T) {
	e := newTestEnv(t)
	owner, ownerToken := e.registerUser(t, "owner@example.org")
	_, otherToken := e.registerUser(t, "other@example.org")
	_, adminToken := e.registerAdmin(t, "admin@example.org")

	run := &domain.Run{
		ID:     uuid.New(),
		UserID: owner.ID,
		Status: domain.RunStatusSucceeded,
		Config: domain.RunConfig{Source: "pubmed"},
	}
	require.NoError(t, e.runs.Create(context.Background(), run))

	t.Run("owner can read", func(t *testing.T) {
		rec := e.doJSON(t, http.MethodGet, "/api/workflows/"+run.ID.String(), ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp runResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, run.ID.String(), resp.RunID)
		assert.Equal(t, "succeeded", resp.Status)
		assert.Equal(t, "pubmed", resp.Config.Source)
	})

	t.Run("other user forbidden", func(t *testing.T) {
		rec := e.doJSON(t, http.MethodGet, "/api/workflows/"+run.ID.String(), otherToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin can read", func(t *testing.T) {
		rec := e.doJSON(t, http.MethodGet, "/api/workflows/"+run.ID.String(), adminToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := e.doJSON(t, http.MethodGet, "/api/workflows/not-a-uuid", ownerToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := e.doJSON(t, http.MethodGet, "/api/workflows/"+uuid.NewString(), ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
