// Package generate turns retrieved citations into a cited answer through the
// provider registry: prompt assembly, provider dispatch with a single
// fallback, and citation marker normalization.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

var tracer = otel.Tracer("scriptorium.generate")

// State is the lifecycle of a query.
type State string

// Query states. A query always passes through RETRIEVING.
const (
	StatePending              State = "PENDING"
	StateRetrieving           State = "RETRIEVING"
	StateGenerating           State = "GENERATING"
	StateSucceeded            State = "SUCCEEDED"
	StateFailedRetryExhausted State = "FAILED_RETRY_EXHAUSTED"
	StateFailedNoSourcesOK    State = "FAILED_NO_SOURCES_OK"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedRetryExhausted || s == StateFailedNoSourcesOK
}

const (
	defaultMaxContextChars = 32768
	defaultTimeout         = 60 * time.Second
	summaryChunks          = 10
	summaryExcerptRunes    = 500
)

// Dispatcher is the part of the provider registry the generator uses.
type Dispatcher interface {
	Current() providers.ID
	Fallback() (providers.ID, bool)
	Provider(id providers.ID) (providers.Provider, error)
	Params(id providers.ID) providers.Params
	Available(ctx context.Context, id providers.ID) error
	RecordUsage(ctx context.Context, id providers.ID, tokens int) (catalog.Usage, error)
	Scrub(err error) error
}

var _ Dispatcher = (*providers.Registry)(nil)

// Options tunes generation.
type Options struct {
	// MaxContextChars bounds the passage text of a prompt. Defaults to 32768.
	MaxContextChars int
	// Timeout bounds each provider call. Defaults to 60s.
	Timeout time.Duration
}

// FromSettings converts configuration into Options.
func FromSettings(s config.GenerationConfig) Options {
	return Options{MaxContextChars: s.MaxContextChars, Timeout: s.Timeout.Duration()}
}

// Attempt records one provider call that failed.
type Attempt struct {
	Provider providers.ID `json:"provider"`
	Error    string       `json:"error"`
}

// Answer is the outcome of one question.
type Answer struct {
	Text  string
	State State
	// Citations are the passages placed in the prompt.
	Citations []library.Citation
	// Cited are the citations the text references.
	Cited        []library.Citation
	Provider     providers.ID
	Model        string
	UsedFallback bool
	Attempts     []Attempt
}

// Generator produces cited answers. Safe for concurrent use.
type Generator struct {
	dispatcher Dispatcher
	opts       Options
	logger     *zap.Logger
}

// New creates a Generator.
func New(d Dispatcher, opts Options, logger *zap.Logger) *Generator {
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = defaultMaxContextChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{dispatcher: d, opts: opts, logger: logger}
}

// Answer answers question from citations. With no citations it returns
// NoSourcesAnswer in state FAILED_NO_SOURCES_OK without calling a provider.
// When every provider attempt fails the returned Answer is in state
// FAILED_RETRY_EXHAUSTED and the error is a *library.ProviderError.
func (g *Generator) Answer(ctx context.Context, question string, citations []library.Citation) (Answer, error) {
	if len(citations) == 0 {
		answersTotal.WithLabelValues(string(StateFailedNoSourcesOK)).Inc()
		return Answer{
			Text:      NoSourcesAnswer,
			State:     StateFailedNoSourcesOK,
			Citations: []library.Citation{},
			Cited:     []library.Citation{},
		}, nil
	}

	ctx, span := tracer.Start(ctx, "generate.Answer")
	defer span.End()

	prompt, placed := BuildPrompt(question, citations, g.opts.MaxContextChars)
	used := citations[:placed]
	span.SetAttributes(attribute.Int("passages", placed), attribute.Int("dropped", len(citations)-placed))

	ans := Answer{State: StateGenerating, Citations: used}
	completion, id, attempts, err := g.dispatch(ctx, prompt)
	ans.Attempts = attempts
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *library.ProviderError
		if errors.As(err, &pe) {
			ans.State = StateFailedRetryExhausted
			answersTotal.WithLabelValues(string(ans.State)).Inc()
		}
		return ans, err
	}

	ans.Text, ans.Cited = NormalizeCitations(completion.Text, used)
	ans.State = StateSucceeded
	ans.Provider = id
	ans.Model = completion.Model
	ans.UsedFallback = len(attempts) > 0
	answersTotal.WithLabelValues(string(ans.State)).Inc()

	span.SetAttributes(attribute.String("provider", string(id)), attribute.Bool("fallback", ans.UsedFallback))
	span.SetStatus(codes.Ok, "success")
	return ans, nil
}

// Summary is a generated document summary.
type Summary struct {
	Text     string       `json:"summary"`
	Provider providers.ID `json:"provider,omitempty"`
}

// Summarize summarizes a document from its first chunks through the same
// dispatch policy as Answer.
func (g *Generator) Summarize(ctx context.Context, filename string, chunks []library.Chunk) (Summary, error) {
	if len(chunks) == 0 {
		return Summary{Text: "No content available for summary."}, nil
	}
	ctx, span := tracer.Start(ctx, "generate.Summarize")
	defer span.End()
	span.SetAttributes(attribute.String("document", filename))

	if len(chunks) > summaryChunks {
		chunks = chunks[:summaryChunks]
	}
	completion, id, _, err := g.dispatch(ctx, SummaryPrompt(filename, chunks))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	return Summary{Text: strings.TrimSpace(completion.Text), Provider: id}, nil
}

// dispatch calls the current provider and, when that fails and a distinct
// fallback is enabled, the fallback exactly once.
func (g *Generator) dispatch(ctx context.Context, prompt providers.Prompt) (providers.Completion, providers.ID, []Attempt, error) {
	order := []providers.ID{g.dispatcher.Current()}
	if fb, ok := g.dispatcher.Fallback(); ok {
		order = append(order, fb)
	}

	var (
		attempts []Attempt
		errs     []error
	)
	for i, id := range order {
		if err := ctx.Err(); err != nil {
			return providers.Completion{}, "", attempts, err
		}
		if i > 0 {
			fallbacksTotal.Inc()
			g.logger.Info("falling back to secondary provider",
				zap.String("provider", string(id)),
				zap.String("failed", string(order[i-1])))
		}

		c, err := g.call(ctx, id, prompt)
		if err == nil {
			if _, uerr := g.dispatcher.RecordUsage(ctx, id, c.Tokens()); uerr != nil {
				g.logger.Warn("failed to record provider usage", zap.String("provider", string(id)), zap.Error(uerr))
			}
			return c, id, attempts, nil
		}
		if ctx.Err() != nil {
			return providers.Completion{}, "", attempts, ctx.Err()
		}

		err = g.dispatcher.Scrub(err)
		g.logger.Warn("provider call failed", zap.String("provider", string(id)), zap.Error(err))
		attempts = append(attempts, Attempt{Provider: id, Error: err.Error()})
		errs = append(errs, err)
	}

	reasons := make([]string, len(attempts))
	for i, a := range attempts {
		reasons[i] = a.Error
	}
	return providers.Completion{}, "", attempts, &library.ProviderError{
		Provider: string(order[0]),
		Kind:     library.ProviderExhausted,
		Err:      fmt.Errorf("no provider could answer (%s): %w", strings.Join(reasons, "; "), errors.Join(errs...)),
	}
}

func (g *Generator) call(ctx context.Context, id providers.ID, prompt providers.Prompt) (providers.Completion, error) {
	if err := g.dispatcher.Available(ctx, id); err != nil {
		return providers.Completion{}, err
	}
	p, err := g.dispatcher.Provider(id)
	if err != nil {
		return providers.Completion{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	c, err := p.Generate(cctx, prompt, g.dispatcher.Params(id))
	result := "success"
	defer func() {
		callDuration.WithLabelValues(string(id), result).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		result = "error"
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			var pe *library.ProviderError
			if !errors.As(err, &pe) || pe.Kind != library.ProviderTimeout {
				err = &library.ProviderError{Provider: string(id), Kind: library.ProviderTimeout,
					Err: fmt.Errorf("no response within %s: %w", g.opts.Timeout, err)}
			}
		}
		return providers.Completion{}, err
	}
	if strings.TrimSpace(c.Text) == "" {
		result = "error"
		return providers.Completion{}, &library.ProviderError{Provider: string(id), Kind: library.ProviderMalformed,
			Err: errors.New("empty model output")}
	}
	return c, nil
}
