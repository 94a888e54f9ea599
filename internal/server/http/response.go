package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/litforge/bibliography-service/internal/domain"
)

// validate checks the validate struct tags on decoded request bodies.
var validate = validator.New()

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type ledgerEntryResponse struct {
	ID        string    `json:"id"`
	EntryType string    `json:"entry_type"`
	Units     int       `json:"units"`
	Reason    string    `json:"reason"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type accountResponse struct {
	UserID           string                `json:"user_id"`
	CreditsBalance   int                   `json:"credits_balance"`
	CreditsUnlimited bool                  `json:"credits_unlimited"`
	Ledger           []ledgerEntryResponse `json:"ledger"`
}

type sourceResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type queryResponse struct {
	Query   string `json:"query"`
	Message string `json:"message"`
}

type workflowResponse struct {
	RunID      string                   `json:"run_id"`
	Directions []domain.DirectionDetail `json:"directions"`
	StatusLog  []domain.StatusEntry     `json:"status_log"`
	BibTeX     string                   `json:"bibtex_text"`
	Count      int                      `json:"count"`
	Articles   []domain.Article         `json:"articles,omitempty"`
	Message    string                   `json:"message"`
}

type workflowErrorResponse struct {
	Error     string               `json:"error"`
	StatusLog []domain.StatusEntry `json:"status_log"`
	RunID     string               `json:"run_id,omitempty"`
}

type runResponse struct {
	RunID        string           `json:"run_id"`
	UserID       string           `json:"user_id"`
	Status       string           `json:"status"`
	Config       domain.RunConfig `json:"configuration"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Duration     string           `json:"duration,omitempty"`
}

type adminUserResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	IsAdmin          bool      `json:"is_admin"`
	CreditsBalance   int       `json:"credits_balance"`
	CreditsUnlimited bool      `json:"credits_unlimited"`
	CreatedAt        time.Time `json:"created_at"`
}

type balanceResponse struct {
	UserID         string `json:"user_id"`
	CreditsBalance int    `json:"credits_balance"`
}

func domainUserToResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

func domainEntryToResponse(e *domain.LedgerEntry) ledgerEntryResponse {
	resp := ledgerEntryResponse{
		ID:        e.ID.String(),
		EntryType: string(e.EntryType),
		Units:     e.Units,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
	if e.RunID != nil {
		resp.RunID = e.RunID.String()
	}
	return resp
}

func domainRunToResponse(run *domain.Run) runResponse {
	resp := runResponse{
		RunID:        run.ID.String(),
		UserID:       run.UserID.String(),
		Status:       string(run.Status),
		Config:       run.Config,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if d := run.Duration(); d > 0 {
		resp.Duration = d.Round(time.Millisecond).String()
	}
	return resp
}

// decodeAndValidate decodes a JSON request body into v and checks its
// validate tags. On failure it writes a 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid field %q: failed %q validation", field.Field(), field.Tag()))
		} else {
			writeError(w, http.StatusBadRequest, "invalid request")
		}
		return false
	}

	return true
}

// writeDomainError maps domain errors to HTTP status codes. Error messages
// are generic so internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID path or body parameter, writing a 400 response on
// failure. The input is not echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
