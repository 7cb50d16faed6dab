package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Client defaults for remote providers.
const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultHealthTTL   = 60 * time.Second
)

// Rate limiter defaults: 50 requests per minute per provider.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// ClientOptions tunes the HTTP behavior of provider adapters.
type ClientOptions struct {
	HTTPClient *http.Client
	// MaxRetries counts retries after the first attempt. Zero selects the
	// default; a negative value disables retries.
	MaxRetries  int
	BaseBackoff time.Duration
	RateLimit   rate.Limit
	Burst       int
	// HealthTTL is how long a remote health result is reused. A negative
	// value checks on every call.
	HealthTTL time.Duration
	Logger    *zap.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.RateLimit <= 0 {
		o.RateLimit = rate.Limit(defaultRateLimit)
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if o.HealthTTL < 0 {
		o.HealthTTL = 0
	} else if o.HealthTTL == 0 {
		o.HealthTTL = defaultHealthTTL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// remote wraps a langchaingo model with the rate limit, retry policy and
// error taxonomy shared by metered providers.
type remote struct {
	id            ID
	model         string
	contextLength int
	llm           llms.Model
	render        func(Prompt) []llms.MessageContent
	limiter       *rate.Limiter
	maxRetries    int
	baseBackoff   time.Duration
	logger        *zap.Logger

	healthMu  sync.Mutex
	health    Health
	checkedAt time.Time
	healthTTL time.Duration
	now       func() time.Time
}

// checkRemote validates the fields every metered provider needs.
func checkRemote(id ID, cfg config.ProviderConfig) error {
	if !cfg.APIKey.IsSet() {
		return &library.ConfigError{Field: "providers." + string(id) + ".api_key", Reason: "credential required"}
	}
	if cfg.Model == "" {
		return &library.ConfigError{Field: "providers." + string(id) + ".model", Reason: "must not be empty"}
	}
	return nil
}

func newRemote(id ID, cfg config.ProviderConfig, llm llms.Model, render func(Prompt) []llms.MessageContent, opts ClientOptions) *remote {
	return &remote{
		id:            id,
		model:         cfg.Model,
		contextLength: cfg.ContextWindow,
		llm:           llm,
		render:        render,
		limiter:       rate.NewLimiter(opts.RateLimit, opts.Burst),
		maxRetries:    opts.MaxRetries,
		baseBackoff:   opts.BaseBackoff,
		logger:        opts.Logger.With(zap.String("provider", string(id))),
		healthTTL:     opts.HealthTTL,
		now:           time.Now,
	}
}

// newOpenAICompatible builds a remote on the OpenAI chat completions
// protocol, which both OpenAI and Anthropic serve.
func newOpenAICompatible(id ID, cfg config.ProviderConfig, defaultBaseURL string, opts ClientOptions) (*remote, error) {
	if err := checkRemote(id, cfg); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
		openai.WithBaseURL(apiBase(cfg.BaseURL, defaultBaseURL)),
		openai.WithHTTPClient(opts.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", id, err)
	}
	return newRemote(id, cfg, llm, chatMessages, opts), nil
}

// apiBase returns the versioned API root. A configured URL without a path
// gets /v1 appended.
func apiBase(configured, fallback string) string {
	base := strings.TrimRight(configured, "/")
	if base == "" {
		return fallback
	}
	if i := strings.Index(base, "://"); i >= 0 && !strings.Contains(base[i+3:], "/") {
		base += "/v1"
	}
	return base
}

// chatMessages renders a prompt as a system and a human message.
func chatMessages(p Prompt) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 2)
	if p.System != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, p.System))
	}
	return append(messages, llms.TextParts(schema.ChatMessageTypeHuman, p.User))
}

func (r *remote) ID() ID        { return r.id }
func (r *remote) Model() string { return r.model }

func (r *remote) fail(kind library.ProviderErrorKind, err error) *library.ProviderError {
	return &library.ProviderError{Provider: string(r.id), Kind: kind, Err: err}
}

// Generate sends one prompt, retrying transient failures.
func (r *remote) Generate(ctx context.Context, prompt Prompt, params Params) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, r.fail(library.ProviderTimeout, fmt.Errorf("rate limiter: %w", err))
	}
	return r.retrying(ctx, func(ctx context.Context) (Completion, error) {
		return r.call(ctx, prompt, params)
	})
}

func (r *remote) call(ctx context.Context, prompt Prompt, params Params) (Completion, error) {
	callOpts := []llms.CallOption{
		llms.WithModel(r.model),
		llms.WithTemperature(params.Temperature),
	}
	if params.TopP > 0 {
		callOpts = append(callOpts, llms.WithTopP(params.TopP))
	}
	if params.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(params.MaxTokens))
	}

	resp, err := r.llm.GenerateContent(ctx, r.render(prompt), callOpts...)
	if err != nil {
		return Completion{}, r.fail(classify(ctx, err), err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return Completion{}, r.fail(library.ProviderMalformed, errors.New("empty response from API"))
	}

	choice := resp.Choices[0]
	c := Completion{
		Text:             choice.Content,
		Model:            r.model,
		PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}
	if c.Tokens() == 0 {
		c.PromptTokens = EstimateTokens(prompt.System) + EstimateTokens(prompt.User)
		c.CompletionTokens = EstimateTokens(c.Text)
	}
	return c, nil
}

// retrying runs call with exponential backoff while it fails with a
// transient error.
func (r *remote) retrying(ctx context.Context, call func(context.Context) (Completion, error)) (Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Completion{}, r.fail(library.ProviderTimeout, ctx.Err())
			}
		}

		c, err := call(ctx)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if !retryable(err) {
			return Completion{}, err
		}
		r.logger.Debug("retrying provider call", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return Completion{}, lastErr
}

func retryable(err error) bool {
	var pe *library.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == library.ProviderRateLimit || pe.Kind == library.ProviderUnavailable
}

// HealthCheck runs a one-token generation. Results are reused for the
// configured TTL so status polling does not spend quota.
func (r *remote) HealthCheck(ctx context.Context) Health {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	if !r.checkedAt.IsZero() && r.now().Sub(r.checkedAt) < r.healthTTL {
		return r.health
	}

	h := Health{Status: StatusHealthy, Model: r.model, ContextLength: r.contextLength}
	if _, err := r.call(ctx, Prompt{User: "test"}, Params{MaxTokens: 1}); err != nil {
		h = unhealthy(r.model, r.contextLength, "%s connection failed: %v", r.id, err)
	}
	r.health = h
	r.checkedAt = r.now()
	return h
}

var statusCode = regexp.MustCompile(`status code: (\d{3})`)

// emptyChoices is the message of the chat client's unexported sentinel for a
// response without choices.
const emptyChoices = "empty response"

// classify maps a client error onto the provider error taxonomy.
func classify(ctx context.Context, err error) library.ProviderErrorKind {
	if ctx.Err() != nil || isTimeout(err) {
		return library.ProviderTimeout
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return grpcKind(st.Code())
	}
	if m := statusCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return statusKind(code)
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, openai.ErrEmptyResponse) || err.Error() == emptyChoices || errors.As(err, &syntax) || errors.As(err, &typeErr) {
		return library.ProviderMalformed
	}
	return library.ProviderUnavailable
}

func statusKind(status int) library.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return library.ProviderAuth
	case status == http.StatusTooManyRequests:
		return library.ProviderRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return library.ProviderTimeout
	case status >= 500:
		return library.ProviderUnavailable
	default:
		return library.ProviderMalformed
	}
}

func grpcKind(code codes.Code) library.ProviderErrorKind {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return library.ProviderAuth
	case codes.ResourceExhausted:
		return library.ProviderRateLimit
	case codes.DeadlineExceeded, codes.Canceled:
		return library.ProviderTimeout
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return library.ProviderMalformed
	default:
		return library.ProviderUnavailable
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &t) && t.Timeout())
}
