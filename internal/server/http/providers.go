package httpserver

import (
	"strings"

	"github.com/litforge/bibliography-service/internal/domain"
)

// ProviderCreds holds the credentials and defaults for one AI provider.
type ProviderCreds struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderCatalog maps provider names requested over the API to configured
// credentials. Requests choose a provider per role; the catalog supplies the
// API key, model, and endpoint so credentials never travel over the wire.
type ProviderCatalog struct {
	// DirectionProvider, QueryProvider, and SummaryProvider are the
	// per-role defaults applied when a request names none. An empty
	// SummaryProvider disables summarization by default.
	DirectionProvider string
	QueryProvider     string
	SummaryProvider   string

	// Temperature is the sampling temperature for all roles.
	Temperature float64

	OpenAI ProviderCreds
	Gemini ProviderCreds
	Ollama ProviderCreds
}

// Direction resolves the provider for direction extraction.
func (c ProviderCatalog) Direction(requested string) domain.ProviderConfig {
	return c.resolve(requested, c.DirectionProvider)
}

// Query resolves the provider for query generation.
func (c ProviderCatalog) Query(requested string) domain.ProviderConfig {
	return c.resolve(requested, c.QueryProvider)
}

// Summary resolves the provider for article summaries. "none" disables the
// step even when a default is configured.
func (c ProviderCatalog) Summary(requested string) domain.ProviderConfig {
	if strings.EqualFold(strings.TrimSpace(requested), "none") {
		return domain.ProviderConfig{}
	}
	return c.resolve(requested, c.SummaryProvider)
}

func (c ProviderCatalog) resolve(requested, fallback string) domain.ProviderConfig {
	name := strings.ToLower(strings.TrimSpace(requested))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(fallback))
	}
	if name == "" {
		return domain.ProviderConfig{}
	}

	cfg := domain.ProviderConfig{
		Provider:    name,
		Temperature: c.Temperature,
	}
	switch name {
	case "openai":
		cfg.APIKey = c.OpenAI.APIKey
		cfg.Model = c.OpenAI.Model
		cfg.BaseURL = c.OpenAI.BaseURL
	case "gemini":
		cfg.APIKey = c.Gemini.APIKey
		cfg.Model = c.Gemini.Model
		cfg.BaseURL = c.Gemini.BaseURL
	case "ollama":
		cfg.APIKey = c.Ollama.APIKey
		cfg.Model = c.Ollama.Model
		cfg.BaseURL = c.Ollama.BaseURL
	}
	return cfg
}
