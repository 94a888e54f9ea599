// Package papersources provides clients for searching bibliographic databases.
//
// Each database (PubMed, Embase) implements the PaperSource interface. A
// source performs exactly one logical search per call; retrying on transient
// failures is left to the caller, which is why errors carry enough detail
// (status code, Retry-After) to drive a retry decision.
package papersources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/litforge/bibliography-service/internal/domain"
)

// SearchParams defines the parameters for one search request.
type SearchParams struct {
	// Query is the source-specific query string, e.g. a PubMed term
	// expression (required).
	Query string

	// Years restricts results to publications from the last N years.
	// A value of 0 applies no date restriction.
	Years int

	// MaxResults caps the number of records returned. A value of 0 uses
	// the source's default.
	MaxResults int

	// Email identifies the caller to sources that request one (PubMed).
	Email string

	// APIKey is the per-request credential for sources that require one.
	APIKey string
}

// PaperSource defines the interface that all source clients implement.
//
// A search that succeeds but matches nothing returns an empty slice and a nil
// error; the two outcomes are deliberately distinct so callers can tell "zero
// hits" from "the source failed".
type PaperSource interface {
	// Name returns the stable identifier used in configuration and API
	// requests (e.g. "pubmed").
	Name() string

	// DisplayName returns the human-readable source name used in status
	// messages.
	DisplayName() string

	// Search executes one search and maps the response to articles.
	// Failures are reported as *SourceError where possible.
	Search(ctx context.Context, params SearchParams) ([]domain.Article, error)
}

// SourceError describes a failed request to a paper source with enough detail
// for the caller to decide whether the request is worth retrying.
type SourceError struct {
	// Source is the Name of the source that produced the error.
	Source string

	// StatusCode is the HTTP status, or 0 for transport-level failures.
	StatusCode int

	// Snippet holds the leading bytes of the error response body.
	Snippet string

	// RetryAfter is the server-requested wait parsed from a Retry-After
	// header, or zero when absent.
	RetryAfter time.Duration

	// Transient reports whether retrying the same request may succeed.
	Transient bool

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		if e.Snippet != "" {
			return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.StatusCode, e.Snippet)
		}
		return fmt.Sprintf("%s: unexpected status %d", e.Source, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: request failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: request failed", e.Source)
}

// Unwrap returns the underlying transport error for errors.Is/As chains.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a *SourceError marked transient.
func IsTransient(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// transientStatus reports whether an HTTP status indicates a failure that may
// clear on retry.
func transientStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// transientNetErr reports whether a transport error looks retryable.
func transientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
