// Package llm provides chat-completion clients for the AI providers used by
// the workflow (direction extraction, query generation, article summaries).
package llm

import "context"

// Client is a chat-completion client for one LLM provider. Implementations
// retry transient failures (429, 5xx, network) internally; callers see only
// the final outcome.
type Client interface {
	// Complete sends one system+user prompt pair and returns the raw text
	// of the model's reply.
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)

	// Provider returns the provider name for logging and error attribution.
	Provider() string

	// Model returns the model identifier in use.
	Model() string
}
