// Package observability provides logging, metrics, and context propagation
// for the bibliography workflow service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for runs, searches, sources, AI providers, and billing
//   - Context helpers for propagating request identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("workflow started")
//
// Add run context to a logger:
//
//	logger = observability.WithRunContext(logger, runID, userID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("bibliography")
//
// Record metrics:
//
//	metrics.RecordRunStarted(4)
//	metrics.RecordSearchCompleted("pubmed", 12, 1.8)
//	metrics.RecordDebit()
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithUserID(ctx, userID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	userID := observability.UserIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - user_id: Authenticated user identifier
//   - run_id: Workflow run identifier
//   - direction: Research direction being searched
//   - source: Paper source (pubmed, embase)
//   - provider: AI provider (openai, gemini)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
