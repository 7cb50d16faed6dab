package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaProvider runs a model on the local Ollama server.
type ollamaProvider struct {
	llm           *ollama.LLM
	model         string
	baseURL       string
	contextLength int
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewOllama returns the local provider. No credential is involved and
// nothing leaves the machine.
func NewOllama(cfg config.ProviderConfig, opts ClientOptions) (Provider, error) {
	if cfg.Model == "" {
		return nil, &library.ConfigError{Field: "providers.local.model", Reason: "must not be empty"}
	}
	opts = opts.withDefaults()
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	llmOpts := []ollama.Option{
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(baseURL),
		ollama.WithHTTPClient(opts.HTTPClient),
	}
	if cfg.ContextWindow > 0 {
		llmOpts = append(llmOpts, ollama.WithRunnerNumCtx(cfg.ContextWindow))
	}
	llm, err := ollama.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &ollamaProvider{
		llm:           llm,
		model:         cfg.Model,
		baseURL:       baseURL,
		contextLength: cfg.ContextWindow,
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger.With(zap.String("provider", string(Local))),
	}, nil
}

func (p *ollamaProvider) ID() ID        { return Local }
func (p *ollamaProvider) Model() string { return p.model }

func (p *ollamaProvider) Generate(ctx context.Context, prompt Prompt, params Params) (Completion, error) {

	callOpts := []llms.CallOption{llms.WithTemperature(params.Temperature)}
	if params.TopP > 0 {
		callOpts = append(callOpts, llms.WithTopP(params.TopP))
	}
	if params.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(params.MaxTokens))
	}

	resp, err := p.llm.GenerateContent(ctx, chatMessages(prompt), callOpts...)
	if err != nil {
		kind := library.ProviderUnavailable
		if ctx.Err() != nil || isTimeout(err) {
			kind = library.ProviderTimeout
		}
		return Completion{}, &library.ProviderError{Provider: string(Local), Kind: kind, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return Completion{}, &library.ProviderError{Provider: string(Local), Kind: library.ProviderMalformed, Err: errors.New("empty response from model")}
	}

	choice := resp.Choices[0]
	c := Completion{
		Text:             choice.Content,
		Model:            p.model,
		PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}
	if c.Tokens() == 0 {
		c.PromptTokens = EstimateTokens(prompt.System) + EstimateTokens(prompt.User)
		c.CompletionTokens = EstimateTokens(c.Text)
	}
	return c, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// HealthCheck lists the models of the server and checks that the
// configured one is pulled.
func (p *ollamaProvider) HealthCheck(ctx context.Context) Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return unhealthy(p.model, p.contextLength, "connection failed: %v", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return unhealthy(p.model, p.contextLength, "connection failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unhealthy(p.model, p.contextLength, "connection failed: status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return unhealthy(p.model, p.contextLength, "listing models: %v", err)
	}
	available := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if sameModel(m.Name, p.model) {
			return Health{Status: StatusHealthy, Model: p.model, ContextLength: p.contextLength}
		}
		available = append(available, m.Name)
	}
	return unhealthy(p.model, p.contextLength, "model %s not available (have: %s)", p.model, strings.Join(available, ", "))
}

// sameModel treats "name" and "name:latest" as the same model.
func sameModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}
