package providers

import (
	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

// Anthropic serves the OpenAI chat completions protocol under its v1 root
// with bearer authentication.
const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// NewAnthropic returns the Anthropic provider. The credential is required.
func NewAnthropic(cfg config.ProviderConfig, opts ClientOptions) (Provider, error) {
	r, err := newOpenAICompatible(Anthropic, cfg, defaultAnthropicBaseURL, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}
