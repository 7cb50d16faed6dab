package providers

import (
	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// NewOpenAI returns the OpenAI chat completions provider. The credential is
// required.
func NewOpenAI(cfg config.ProviderConfig, opts ClientOptions) (Provider, error) {
	r, err := newOpenAICompatible(OpenAI, cfg, defaultOpenAIBaseURL, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}
