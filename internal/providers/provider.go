// Package providers is the closed set of language model backends and the
// registry that selects, configures and meters them.
//
// Every backend is a langchaingo model. One runs locally on Ollama; the
// others are remote, metered APIs sharing a rate limiter, a retry policy
// and a cached health check.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// ID identifies a provider.
type ID string

// Provider identifiers.
const (
	Local     ID = config.ProviderLocal
	OpenAI    ID = config.ProviderOpenAI
	Anthropic ID = config.ProviderAnthropic
	Google    ID = config.ProviderGoogle
)

// IDs lists every provider in display order.
var IDs = []ID{Local, OpenAI, Anthropic, Google}

// ParseID validates a provider name.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range IDs {
		if id == known {
			return id, nil
		}
	}
	return "", &library.ConfigError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", s)}
}

// Metered reports whether calls to the provider leave this machine and are
// counted against the daily cap.
func (id ID) Metered() bool { return id != Local }

// Prompt is a system instruction plus the user turn.
type Prompt struct {
	System string
	User   string
}

// Params are the sampling parameters of one call.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Completion is the output of one call.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Tokens returns the total token count of the call.
func (c Completion) Tokens() int { return c.PromptTokens + c.CompletionTokens }

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health is the result of a lightweight liveness check.
type Health struct {
	Status        string `json:"status"`
	Model         string `json:"model"`
	ContextLength int    `json:"context_length"`
	Detail        string `json:"error,omitempty"`
}

// OK reports whether the provider is healthy.
func (h Health) OK() bool { return h.Status == StatusHealthy }

// Provider is one language model backend.
type Provider interface {
	ID() ID
	Model() string
	Generate(ctx context.Context, prompt Prompt, params Params) (Completion, error)
	HealthCheck(ctx context.Context) Health
}

// EstimateTokens approximates the token count of text when a backend does
// not report usage.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// New builds the provider id from its configuration.
func New(id ID, cfg config.ProviderConfig, opts ClientOptions) (Provider, error) {
	switch id {
	case Local:
		return NewOllama(cfg, opts)
	case OpenAI:
		return NewOpenAI(cfg, opts)
	case Anthropic:
		return NewAnthropic(cfg, opts)
	case Google:
		return NewGoogle(cfg, opts)
	default:
		return nil, &library.ConfigError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", id)}
	}
}

func unhealthy(model string, contextLength int, format string, args ...any) Health {
	return Health{
		Status:        StatusUnhealthy,
		Model:         model,
		ContextLength: contextLength,
		Detail:        fmt.Sprintf(format, args...),
	}
}
