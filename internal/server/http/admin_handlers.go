package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/repository"
)

type createUserRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=6"`
	IsAdmin        bool   `json:"is_admin"`
	InitialCredits int    `json:"initial_credits" validate:"min=0"`
	Unlimited      bool   `json:"unlimited"`
}

type adjustCreditsRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason"`
}

type setAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// listUsersHandler handles GET /api/admin/users.
func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListWithAccounts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, adminUserResponse{
			ID:               u.ID.String(),
			Email:            u.Email,
			IsAdmin:          u.IsAdmin,
			CreditsBalance:   u.CreditsBalance,
			CreditsUnlimited: u.CreditsUnlimited,
			CreatedAt:        u.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": resp})
}

// createUserHandler handles POST /api/admin/users. Unlike self-registration
// it works regardless of the registration flag and can grant admin rights.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.auth.CreateUser(r.Context(), req.Email, req.Password, req.IsAdmin, req.InitialCredits)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Unlimited {
		if err := s.ledger.SetUnlimited(r.Context(), user.ID, true); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, domainUserToResponse(user))
}

// adjustCreditsHandler handles POST /api/admin/credits. The adjustment is
// recorded in the ledger with the acting admin's ID.
func (s *Server) adjustCreditsHandler(w http.ResponseWriter, r *http.Request) {
	admin := userFromContext(r.Context())

	var req adjustCreditsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	userID, ok := parseUUID(w, req.UserID, "user_id")
	if !ok {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = domain.ReasonAdminAdjustment
	}

	actorID := admin.ID
	balance, err := s.ledger.AdjustCredits(r.Context(), repository.AdjustParams{
		UserID:  userID,
		Delta:   req.Delta,
		Reason:  reason,
		ActorID: &actorID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		UserID:         userID.String(),
		CreditsBalance: balance,
	})
}

// setAdminHandler handles PUT /api/admin/users/{userID}/admin. An admin
// cannot demote themselves, which keeps at least one admin reachable.
func (s *Server) setAdminHandler(w http.ResponseWriter, r *http.Request) {
	admin := userFromContext(r.Context())

	userID, ok := parseUUID(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	var req setAdminRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if userID == admin.ID && !req.IsAdmin {
		writeError(w, http.StatusBadRequest, "cannot remove your own admin access")
		return
	}

	if err := s.users.SetAdmin(r.Context(), userID, req.IsAdmin); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID.String(),
		"is_admin": req.IsAdmin,
	})
}
