package httpserver

import (
	"errors"
	"net/http"

	"github.com/litforge/bibliography-service/internal/domain"
)

const accountLedgerLimit = 20

// accountHandler handles GET /api/account. It returns the caller's balance
// and recent ledger entries.
func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	resp := accountResponse{
		UserID: user.ID.String(),
		Ledger: []ledgerEntryResponse{},
	}

	account, err := s.ledger.GetAccount(r.Context(), user.ID)
	switch {
	case err == nil:
		resp.CreditsBalance = account.CreditsBalance
		resp.CreditsUnlimited = account.CreditsUnlimited
	case errors.Is(err, domain.ErrNotFound):
		// A user without an account row simply has a zero balance.
	default:
		writeDomainError(w, err)
		return
	}

	entries, err := s.ledger.ListEntries(r.Context(), user.ID, accountLedgerLimit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, entry := range entries {
		resp.Ledger = append(resp.Ledger, domainEntryToResponse(entry))
	}

	writeJSON(w, http.StatusOK, resp)
}
