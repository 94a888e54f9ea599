package llm

import (
	"fmt"
	"strings"
	"time"
)

// defaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama
// deployment.
const defaultOllamaBaseURL = "http://localhost:11434/v1"

// FactoryConfig holds the parameters needed to create a Client for one AI
// role. This is defined in the llm package to avoid importing the config
// package, keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai", "gemini", or "ollama").
	Provider string
	// APIKey is the provider credential.
	APIKey string
	// Model is the model identifier (empty means the provider default).
	Model string
	// BaseURL overrides the provider endpoint (OpenAI-compatible servers,
	// proxies, test servers).
	BaseURL string
	// Temperature is the sampling temperature.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int
}

// NewClient creates a Client based on the configuration. Supports "openai",
// "ollama" (any OpenAI-compatible endpoint), and "gemini". Returns an error
// for unsupported or empty provider values.
func NewClient(cfg FactoryConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  baseURL,
			Provider: "ollama",
		}, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
