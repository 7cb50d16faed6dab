package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
	"github.com/fyrsmithlabs/scriptorium/internal/secrets"
)

type scriptedProvider struct {
	id    providers.ID
	reply string
	err   error
	delay time.Duration

	mu      sync.Mutex
	prompts []providers.Prompt
}

func (p *scriptedProvider) ID() providers.ID { return p.id }
func (p *scriptedProvider) Model() string    { return string(p.id) + "-model" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func (p *scriptedProvider) HealthCheck(context.Context) providers.Health {
	return providers.Health{Status: providers.StatusHealthy}
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt providers.Prompt, _ providers.Params) (providers.Completion, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return providers.Completion{}, ctx.Err()
		}
	}
	if p.err != nil {
		return providers.Completion{}, p.err
	}
	return providers.Completion{Text: p.reply, Model: p.Model(), PromptTokens: 10, CompletionTokens: 5}, nil
}

type fakeDispatcher struct {
	current   providers.ID
	fallback  providers.ID
	useFB     bool
	providers map[providers.ID]*scriptedProvider
	capped    map[providers.ID]bool
	usage     map[providers.ID]int
	scrubber  *secrets.Scrubber
}

func (d *fakeDispatcher) Current() providers.ID          { return d.current }
func (d *fakeDispatcher) Fallback() (providers.ID, bool) { return d.fallback, d.useFB }
func (d *fakeDispatcher) Scrub(err error) error          { return d.scrubber.Error(err) }

func (d *fakeDispatcher) Params(providers.ID) providers.Params {
	return providers.Params{Temperature: 0.3}
}

func (d *fakeDispatcher) Provider(id providers.ID) (providers.Provider, error) {
	p, ok := d.providers[id]
	if !ok {
		return nil, &library.ProviderError{Provider: string(id), Kind: library.ProviderUnavailable}
	}
	return p, nil
}

func (d *fakeDispatcher) Available(_ context.Context, id providers.ID) error {
	if d.capped[id] {
		return &library.ProviderError{Provider: string(id), Kind: library.ProviderQuota}
	}
	return nil
}

func (d *fakeDispatcher) RecordUsage(_ context.Context, id providers.ID, tokens int) (catalog.Usage, error) {
	if d.usage == nil {
		d.usage = map[providers.ID]int{}
	}
	d.usage[id] += tokens
	return catalog.Usage{Provider: string(id)}, nil
}

func newDispatcher(current, fallback *scriptedProvider) *fakeDispatcher {
	d := &fakeDispatcher{
		current:   current.id,
		providers: map[providers.ID]*scriptedProvider{current.id: current},
		scrubber:  secrets.Default("sk-secret-credential-123"),
	}
	if fallback != nil {
		d.fallback, d.useFB = fallback.id, true
		d.providers[fallback.id] = fallback
	}
	return d
}

func sources() []library.Citation {
	return []library.Citation{
		{ChunkID: "c1", Document: "sutta.pdf", Page: 1, Type: library.ChunkDialogue, Content: "Core concept A is letting go.", Citation: "sutta.pdf, page 1", Score: 0.9},
		{ChunkID: "c2", Document: "sutta.pdf", Page: 2, Type: library.ChunkGeneral, Content: "Core concept B is kindness.", Citation: "sutta.pdf, page 2", Score: 0.5},
	}
}

func TestAnswer_NoSources(t *testing.T) {
	local := &scriptedProvider{id: providers.Local, reply: "never"}
	g := New(newDispatcher(local, nil), Options{}, nil)

	ans, err := g.Answer(context.Background(), "What is A?", nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailedNoSourcesOK, ans.State)
	assert.Equal(t, NoSourcesAnswer, ans.Text)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, local.calls(), "no provider call without sources")
}

func TestAnswer_Succeeds(t *testing.T) {
	local := &scriptedProvider{id: providers.Local, reply: "Letting go [Source: sutta.pdf, page 1]."}
	d := newDispatcher(local, nil)
	g := New(d, Options{}, nil)

	ans, err := g.Answer(context.Background(), "What is A?", sources())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, ans.State)
	assert.Equal(t, "Letting go [sutta.pdf, page 1].", ans.Text)
	assert.Equal(t, providers.Local, ans.Provider)
	assert.False(t, ans.UsedFallback)
	assert.Len(t, ans.Citations, 2)
	require.Len(t, ans.Cited, 1)
	assert.Equal(t, "c1", ans.Cited[0].ChunkID)
	assert.Equal(t, 15, d.usage[providers.Local])

	require.Equal(t, 1, local.calls())
	p := local.prompts[0]
	assert.Equal(t, SystemInstruction, p.System)
	assert.Contains(t, p.User, "Passage 1: sutta.pdf, page 1 [Dialogue]\nCore concept A is letting go.")
	assert.Contains(t, p.User, "\n---\nPassage 2: sutta.pdf, page 2\n")
	assert.Contains(t, p.User, "Question: What is A?")
}

func TestAnswer_FallbackKeepsSources(t *testing.T) {
	primary := &scriptedProvider{id: providers.OpenAI, err: &library.ProviderError{Provider: "openai", Kind: library.ProviderAuth}}
	local := &scriptedProvider{id: providers.Local, reply: "From the fallback [Passage 2]."}
	g := New(newDispatcher(primary, local), Options{}, nil)

	ans, err := g.Answer(context.Background(), "q", sources())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, ans.State)
	assert.Equal(t, providers.Local, ans.Provider)
	assert.True(t, ans.UsedFallback)
	require.Len(t, ans.Attempts, 1)
	assert.Equal(t, providers.OpenAI, ans.Attempts[0].Provider)
	assert.Equal(t, sources(), ans.Citations, "same sources as the primary would have used")
	assert.Equal(t, "From the fallback [sutta.pdf, page 2].", ans.Text)
	assert.Equal(t, primary.prompts, local.prompts, "identical prompt")
}

func TestAnswer_Exhausted(t *testing.T) {
	primary := &scriptedProvider{id: providers.Anthropic, err: errors.New("bad key sk-secret-credential-123")}
	local := &scriptedProvider{id: providers.Local, reply: "   "}
	g := New(newDispatcher(primary, local), Options{}, nil)

	ans, err := g.Answer(context.Background(), "q", sources())
	var pe *library.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, library.ProviderExhausted, pe.Kind)
	assert.Equal(t, StateFailedRetryExhausted, ans.State)
	assert.Empty(t, ans.Text)
	assert.NotContains(t, err.Error(), "sk-secret-credential-123")
	assert.Contains(t, err.Error(), "empty model output")
	assert.Equal(t, 1, primary.calls(), "fallback is tried exactly once, primary never again")
	assert.Equal(t, 1, local.calls())
}

func TestAnswer_FallbackDisabled(t *testing.T) {
	primary := &scriptedProvider{id: providers.Local, err: errors.New("connection refused")}
	g := New(newDispatcher(primary, nil), Options{}, nil)

	ans, err := g.Answer(context.Background(), "q", sources())
	assert.ErrorIs(t, err, library.ErrProviderFailed)
	assert.Equal(t, StateFailedRetryExhausted, ans.State)
	assert.Len(t, ans.Attempts, 1)
}

func TestAnswer_TimeoutIsProviderFailure(t *testing.T) {
	slow := &scriptedProvider{id: providers.OpenAI, reply: "late", delay: time.Second}
	local := &scriptedProvider{id: providers.Local, reply: "on time"}
	g := New(newDispatcher(slow, local), Options{Timeout: 20 * time.Millisecond}, nil)

	ans, err := g.Answer(context.Background(), "q", sources())
	require.NoError(t, err)
	assert.Equal(t, "on time", ans.Text)
	require.Len(t, ans.Attempts, 1)
	assert.Contains(t, ans.Attempts[0].Error, "timeout")
}

func TestAnswer_DailyCapCountsAsFailure(t *testing.T) {
	primary := &scriptedProvider{id: providers.Google, reply: "unused"}
	local := &scriptedProvider{id: providers.Local, reply: "local answer"}
	d := newDispatcher(primary, local)
	d.capped = map[providers.ID]bool{providers.Google: true}
	g := New(d, Options{}, nil)

	ans, err := g.Answer(context.Background(), "q", sources())
	require.NoError(t, err)
	assert.Equal(t, providers.Local, ans.Provider)
	assert.Zero(t, primary.calls())
}

func TestAnswer_Cancelled(t *testing.T) {
	local := &scriptedProvider{id: providers.Local, reply: "x"}
	g := New(newDispatcher(local, nil), Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Answer(ctx, "q", sources())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, local.calls())
}

func TestBuildPrompt_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	cites := []library.Citation{
		{Citation: "a.pdf, page 1", Content: long},
		{Citation: "a.pdf, page 2", Content: long},
		{Citation: "a.pdf, page 3", Content: long},
	}
	prompt, placed := BuildPrompt("q", cites, 1100)
	assert.Equal(t, 2, placed)
	assert.Contains(t, prompt.User, "Passage 2: a.pdf, page 2")
	assert.NotContains(t, prompt.User, "Passage 3")
	assert.Contains(t, prompt.User, "1 further passage(s) omitted")

	prompt, placed = BuildPrompt("q", cites, 100)
	assert.Equal(t, 1, placed, "the first passage is always placed")
	assert.Contains(t, prompt.User, "Passage 1: a.pdf, page 1")
}

func TestAnswer_CitationsMatchPrompt(t *testing.T) {
	local := &scriptedProvider{id: providers.Local, reply: "ok"}
	g := New(newDispatcher(local, nil), Options{MaxContextChars: 60}, nil)
	ans, err := g.Answer(context.Background(), "q", sources())
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "c1", ans.Citations[0].ChunkID)
}

func TestNormalizeCitations(t *testing.T) {
	cites := sources()
	tests := []struct {
		name string
		in   string
		want string
		n    int
	}{
		{"source marker", "See [Source: sutta.pdf, page 2].", "See [sutta.pdf, page 2].", 1},
		{"source p.", "[source: sutta.pdf, p. 1]", "[sutta.pdf, page 1]", 1},
		{"parenthesized", "As taught (sutta.pdf, p. 1).", "As taught [sutta.pdf, page 1].", 1},
		{"pg bracket", "[sutta.pdf, pg. 2] and [sutta.pdf, page 1]", "[sutta.pdf, page 2] and [sutta.pdf, page 1]", 2},
		{"passage number", "[Passage 1] [passage 2]", "[sutta.pdf, page 1] [sutta.pdf, page 2]", 2},
		{"unknown passage kept", "[Passage 9]", "[Passage 9]", 0},
		{"uncited", "No markers here.", "No markers here.", 0},
		{"other file", "[other.pdf, page 4]", "[other.pdf, page 4]", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cited := NormalizeCitations(tt.in, cites)
			assert.Equal(t, tt.want, got)
			assert.Len(t, cited, tt.n)
		})
	}
}

func TestSummarize(t *testing.T) {
	local := &scriptedProvider{id: providers.Local, reply: "  A Theravada discourse collection.  "}
	g := New(newDispatcher(local, nil), Options{}, nil)

	chunks := make([]library.Chunk, 15)
	for i := range chunks {
		chunks[i] = library.Chunk{Page: i/3 + 1, Content: "chunk " + strings.Repeat("x", 600)}
	}
	s, err := g.Summarize(context.Background(), "nikaya.pdf", chunks)
	require.NoError(t, err)
	assert.Equal(t, "A Theravada discourse collection.", s.Text)
	assert.Equal(t, providers.Local, s.Provider)

	user := local.prompts[0].User
	assert.Contains(t, user, `"nikaya.pdf" (approximately 4 pages)`)
	assert.Equal(t, 10, strings.Count(user, "chunk "))

	empty, err := g.Summarize(context.Background(), "empty.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "No content available for summary.", empty.Text)
	assert.Equal(t, 1, local.calls())
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateGenerating.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailedNoSourcesOK.Terminal())
}
