package httpserver

import (
	"net/http"
	"strings"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/search"
)

type queryRequest struct {
	Intent string `json:"query" validate:"required"`
	Source string `json:"source"`
}

type searchRequest struct {
	Query      string `json:"query" validate:"required"`
	Source     string `json:"source"`
	Years      int    `json:"years" validate:"min=0"`
	MaxResults int    `json:"max_results" validate:"min=0"`
	Email      string `json:"email" validate:"omitempty,email"`
	APIKey     string `json:"source_api_key"`
}

type searchResultPayload struct {
	BibTeX   string           `json:"bibtex_text"`
	Count    int              `json:"count"`
	Articles []domain.Article `json:"articles,omitempty"`
	Message  string           `json:"message"`
}

// listSourcesHandler handles GET /api/sources.
func (s *Server) listSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources := []sourceResponse{}
	for _, name := range s.registry.Names() {
		src, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		sources = append(sources, sourceResponse{
			Name:        src.Name(),
			DisplayName: src.DisplayName(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

// generateQueryHandler handles POST /api/query. It produces a source query
// from a research intent without running a search.
func (s *Server) generateQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	source, ok := s.resolveSource(w, req.Source)
	if !ok {
		return
	}

	query, message, err := s.queries.Generate(r.Context(), req.Intent, source)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", source).Msg("query generation failed")
		writeError(w, http.StatusBadGateway, "query generation failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Query:   query,
		Message: message,
	})
}

// streamSearchHandler handles POST /api/search/stream. It runs one search
// attempt and streams its progress as SSE status events, followed by a
// single result or error event.
func (s *Server) streamSearchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	source, ok := s.resolveSource(w, req.Source)
	if !ok {
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	outcome := s.search.Run(r.Context(), search.Request{
		Source:     source,
		Query:      req.Query,
		Years:      req.Years,
		MaxResults: req.MaxResults,
		Email:      req.Email,
		APIKey:     req.APIKey,
	}, func(entry domain.StatusEntry) {
		sendSSEEvent(w, flusher, "status", entry)
	})

	if outcome.Err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": outcome.Err.Error()})
		return
	}

	sendSSEEvent(w, flusher, "result", searchResultPayload{
		BibTeX:   outcome.BibTeX,
		Count:    outcome.Count,
		Articles: outcome.Articles,
		Message:  outcome.Message,
	})
}

// resolveSource normalizes a requested source name, applying the registry
// default when empty. Unknown sources produce a 400 response.
func (s *Server) resolveSource(w http.ResponseWriter, requested string) (string, bool) {
	source := strings.TrimSpace(strings.ToLower(requested))
	if source == "" {
		source = s.defaultSource
	}
	if _, err := s.registry.Get(source); err != nil {
		writeError(w, http.StatusBadRequest, "unknown paper source")
		return "", false
	}
	return source, true
}
