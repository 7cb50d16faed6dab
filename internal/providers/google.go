package providers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

// NewGoogle returns the Gemini provider. The credential is required.
func NewGoogle(cfg config.ProviderConfig, opts ClientOptions) (Provider, error) {
	if err := checkRemote(Google, cfg); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	llm, err := googleai.New(context.Background(),
		googleai.WithAPIKey(cfg.APIKey.Value()),
		googleai.WithDefaultModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating google client: %w", err)
	}
	return newRemote(Google, cfg, llm, geminiMessages, opts), nil
}

// geminiMessages folds the system instruction into the single user turn;
// the client rejects a system role.
func geminiMessages(p Prompt) []llms.MessageContent {
	text := p.User
	if p.System != "" {
		text = p.System + "\n\n" + p.User
	}
	return []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, text)}
}
