// Package llm provides a provider-agnostic adapter for generative text
// backends. The synthesis stage talks to exactly one Provider chosen at
// startup; implementations are interchangeable.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Provider is the interface for text generation.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "groq/llama-3.3-70b-versatile").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string        // "groq", "openrouter", "ollama"
	Model    string        // e.g., "llama-3.3-70b-versatile"
	APIKey   string        // API key (empty = read from env)
	BaseURL  string        // Optional URL override
	Timeout  time.Duration // per-request timeout (0 = provider default)
}

// NewProvider creates a generative backend from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "groq":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GROQ_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("groq provider requires GROQ_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "llama-3.3-70b-versatile"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		return &chatProvider{
			name:    "groq",
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
			client:  http.Client{Timeout: timeoutOr(cfg.Timeout, 60*time.Second)},
		}, nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return &chatProvider{
			name:    "openrouter",
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
			client:  http.Client{Timeout: timeoutOr(cfg.Timeout, 60*time.Second)},
		}, nil

	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "llama3.1:8b"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		// Local generation is slower than hosted inference.
		return &ollamaProvider{
			model:   model,
			baseURL: baseURL,
			client:  http.Client{Timeout: timeoutOr(cfg.Timeout, 120*time.Second)},
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: groq, openrouter, ollama)", cfg.Provider)
	}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "groq/llama-3.3-70b-versatile",
// "openrouter/openai/gpt-4o-mini", "ollama/llama3.1:8b".
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "groq", Model: "llama-3.3-70b-versatile"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., groq/llama-3.3-70b-versatile)", flag)
	}

	provider := strings.ToLower(parts[0])
	model := parts[1]

	switch provider {
	case "groq", "openrouter", "ollama":
		return Config{Provider: provider, Model: model}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: groq, openrouter, ollama)", provider)
	}
}

func timeoutOr(t, fallback time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return fallback
}
