// Package httpserver provides the HTTP REST API for the bibliography service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/database"
	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/papersources"
	"github.com/litforge/bibliography-service/internal/repository"
	"github.com/litforge/bibliography-service/internal/search"
	"github.com/litforge/bibliography-service/internal/workflow"
)

// AuthService is the slice of the auth service the HTTP layer uses.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	CreateUser(ctx context.Context, email, password string, isAdmin bool, initialCredits int) (*domain.User, error)
}

// WorkflowRunner executes a full bibliography workflow. Satisfied by
// *workflow.Orchestrator.
type WorkflowRunner interface {
	Execute(ctx context.Context, req workflow.Request, emitter workflow.Emitter) (*workflow.Result, error)
}

// Searcher runs one search attempt. Satisfied by *search.Service.
type Searcher interface {
	Run(ctx context.Context, req search.Request, emit func(domain.StatusEntry)) search.Outcome
}

// QueryGenerator produces a source query from a research intent. Satisfied by
// *llm.QueryGenerator.
type QueryGenerator interface {
	Generate(ctx context.Context, intent, source string) (query, message string, err error)
}

// HealthChecker reports database health. Satisfied by *database.DB.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Deps bundles the server's collaborators. Metrics and DB may be nil.
type Deps struct {
	Auth      AuthService
	Workflows WorkflowRunner
	Search    Searcher
	Queries   QueryGenerator
	Runs      repository.RunRepository
	Ledger    repository.LedgerRepository
	Users     repository.UserRepository
	Registry  *papersources.Registry
	Providers ProviderCatalog
	// DefaultSource is the paper source used when a request names none.
	DefaultSource string
	DB            HealthChecker
	Metrics       *observability.Metrics
}

// Server is the HTTP REST API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	auth          AuthService
	workflows     WorkflowRunner
	search        Searcher
	queries       QueryGenerator
	runs          repository.RunRepository
	ledger        repository.LedgerRepository
	users         repository.UserRepository
	registry      *papersources.Registry
	providers     ProviderCatalog
	defaultSource string
	db            HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewServer creates the HTTP server with all routes wired.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		auth:          deps.Auth,
		workflows:     deps.Workflows,
		search:        deps.Search,
		queries:       deps.Queries,
		runs:          deps.Runs,
		ledger:        deps.Ledger,
		users:         deps.Users,
		registry:      deps.Registry,
		providers:     deps.Providers,
		defaultSource: deps.DefaultSource,
		db:            deps.DB,
		metrics:       deps.Metrics,
		logger:        logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestMetricsMiddleware)

	// Health endpoints (no auth)
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Post("/auth/register", s.registerHandler)
		r.Post("/auth/login", s.loginHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/account", s.accountHandler)
			r.Get("/sources", s.listSourcesHandler)
			r.Post("/query", s.generateQueryHandler)
			r.Post("/search/stream", s.streamSearchHandler)
			r.Post("/workflows", s.runWorkflowHandler)
			r.Post("/workflows/stream", s.streamWorkflowHandler)
			r.Get("/workflows/{runID}", s.getWorkflowHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/users", s.listUsersHandler)
				r.Post("/users", s.createUserHandler)
				r.Post("/credits", s.adjustCreditsHandler)
				r.Put("/users/{userID}/admin", s.setAdminHandler)
			})
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness status including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  "database not configured",
		})
		return
	}

	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
