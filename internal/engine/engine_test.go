package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/embeddings"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/index"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
	"github.com/fyrsmithlabs/scriptorium/internal/retrieve"
)

const coreText = "Core concept A concerns generosity, giving freely and letting go of craving.\f" +
	"Core concept B concerns loving kindness, goodwill toward all living beings."

// fakeProvider answers with a fixed reply or fails with err.
type fakeProvider struct {
	id    providers.ID
	model string
	reply string
	err   error

	mu      sync.Mutex
	prompts []providers.Prompt
}

func (f *fakeProvider) ID() providers.ID { return f.id }
func (f *fakeProvider) Model() string    { return f.model }

func (f *fakeProvider) Generate(_ context.Context, p providers.Prompt, _ providers.Params) (providers.Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.err != nil {
		return providers.Completion{}, f.err
	}
	return providers.Completion{Text: f.reply, Model: f.model, PromptTokens: 100, CompletionTokens: 20}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) providers.Health {
	if f.err != nil {
		return providers.Health{Status: providers.StatusUnhealthy, Model: f.model, Detail: f.err.Error()}
	}
	return providers.Health{Status: providers.StatusHealthy, Model: f.model, ContextLength: 32768}
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type testEngine struct {
	*Engine
	catalog *catalog.Catalog
	logs    *logging.TestLogger
}

// setupEngine builds an engine over a temporary library with the lexical
// embedder. fakes replace the providers they name.
func setupEngine(t *testing.T, cfg config.ProvidersConfig, fakes ...*fakeProvider) *testEngine {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cat, err := catalog.Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	ix, err := index.Open(ctx, index.Options{DataDir: dir}, cat, embeddings.NewLexical(256), zaptest.NewLogger(t))
	require.NoError(t, err)

	byID := map[providers.ID]*fakeProvider{}
	for _, f := range fakes {
		byID[f.id] = f
	}
	registry, err := providers.NewRegistry(cfg, providers.Options{
		Usage: cat,
		Factory: func(id providers.ID, pc config.ProviderConfig) (providers.Provider, error) {
			if f, ok := byID[id]; ok {
				return f, nil
			}
			return &fakeProvider{id: id, model: pc.Model, reply: "unused"}, nil
		},
	})
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	e, err := New(Options{Index: ix, Registry: registry, Logger: logs.Logger})
	require.NoError(t, err)
	return &testEngine{Engine: e, catalog: cat, logs: logs}
}

func localOnly() config.ProvidersConfig {
	return config.NewDefaultConfig().Providers
}

func remoteWithLocalFallback() config.ProvidersConfig {
	cfg := config.NewDefaultConfig().Providers
	cfg.Current = config.ProviderOpenAI
	cfg.OpenAI.APIKey = "sk-test-key-0123456789abcdef"
	cfg.AllowDataTransmission = true
	return cfg
}

func TestIngest(t *testing.T) {
	e := setupEngine(t, localOnly())

	res, err := e.Ingest(context.Background(), []byte(coreText), "/tmp/inbox/core.txt")
	require.NoError(t, err)
	assert.Equal(t, "core.txt", res.Filename)
	assert.Equal(t, 2, res.ChunksCreated)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "english_general", res.Language)
	assert.Len(t, res.DocumentHash, 16)
	e.logs.AssertLogged(t, zapcore.InfoLevel, "document ingested")

	docs, err := e.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "core.txt", docs[0].Filename)
	assert.Equal(t, 2, docs[0].Chunks)
}

func TestIngest_Rejections(t *testing.T) {
	e := setupEngine(t, localOnly())
	ctx := context.Background()

	_, err := e.Ingest(ctx, []byte("PK\x03\x04"), "notes.docx")
	assert.ErrorIs(t, err, library.ErrUnsupportedFormat)

	_, err = e.Ingest(ctx, []byte("  \f \n"), "blank.txt")
	assert.ErrorIs(t, err, library.ErrNoExtractableText)

	_, err = e.Ingest(ctx, []byte("not really a pdf"), "broken.pdf")
	assert.ErrorIs(t, err, library.ErrCorruptDocument)

	_, err = e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)
	_, err = e.Ingest(ctx, []byte(coreText), "core.txt")
	var ie *library.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, library.ErrDocumentExists)

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "rejected documents leave nothing behind")
}

func TestIngest_SameNameConcurrently(t *testing.T) {
	e := setupEngine(t, localOnly())

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		exists int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Ingest(context.Background(), []byte(coreText), "core.txt")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, library.ErrDocumentExists):
				exists++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, exists)
}

func TestQuery_CoreConcepts(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "qwen2.5:14b",
		reply: "Core concept A is generosity [Source: core.txt, page 1]."}
	e := setupEngine(t, localOnly(), local)
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)

	res, err := e.Query(ctx, QueryRequest{Question: "What does core concept A say about generosity?", MaxResults: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, res.QueryID)
	assert.Equal(t, generate.StateSucceeded, res.State)
	assert.Equal(t, "Core concept A is generosity [core.txt, page 1].", res.Answer)
	assert.Equal(t, providers.Local, res.Provider)
	assert.False(t, res.UsedFallback)
	assert.Positive(t, res.ProcessingTime)

	require.Len(t, res.Sources, 2)
	assert.Equal(t, 1, res.Sources[0].Page, "the passage about concept A ranks first")
	assert.Equal(t, "core.txt, page 1", res.Sources[0].Citation)
	for i, s := range res.Sources {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, s.Score, res.Sources[i-1].Score)
		}
	}
	require.Len(t, res.Cited, 1)
	assert.Equal(t, 1, res.Cited[0].Page)

	require.Equal(t, 1, local.calls())
	assert.Contains(t, local.prompts[0].User, "core.txt, page 1")
	assert.Contains(t, local.prompts[0].User, "core.txt, page 2")
}

func TestQuery_TermBoostRaisesAnnotatedPassages(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "Giving freely [terms.txt, page 2]."}
	e := setupEngine(t, localOnly(), local)
	ctx := context.Background()

	text := "Giving freely to the river village builds a calm and open heart over many quiet years.\f" +
		"Karma, rebirth and nirvana: the bodhisattva keeps giving freely out of compassion for the sangha."
	_, err := e.Ingest(ctx, []byte(text), "terms.txt")
	require.NoError(t, err)

	req := QueryRequest{Question: "What does giving freely mean?", MaxResults: 2}
	boosted, err := e.Query(ctx, req)
	require.NoError(t, err)

	plain, err := New(Options{
		Index:     e.index,
		Registry:  e.registry,
		Retriever: retrieve.New(e.index, retrieve.Options{NoTermBoost: true}, nil),
	})
	require.NoError(t, err)
	unboosted, err := plain.Query(ctx, req)
	require.NoError(t, err)

	raw := make(map[string]float64)
	for _, s := range unboosted.Sources {
		raw[s.ChunkID] = s.Score
	}

	require.Len(t, boosted.Sources, 2)
	var annotated int
	for _, s := range boosted.Sources {
		terms := make(map[string]struct{})
		for _, a := range s.Annotations {
			terms[a.Term] = struct{}{}
		}
		want := math.Min(1, raw[s.ChunkID]*(1+0.1*float64(len(terms))))
		assert.InDelta(t, want, s.Score, 1e-6, s.Citation)
		if len(terms) > 0 {
			annotated++
			assert.Equal(t, 2, s.Page)
			assert.Greater(t, s.Score, raw[s.ChunkID])
		}
	}
	assert.Equal(t, 1, annotated)
}

func TestQuery_EmptyLibrary(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "should not be called"}
	e := setupEngine(t, localOnly(), local)

	res, err := e.Query(context.Background(), QueryRequest{Question: "What is core concept A?"})
	require.NoError(t, err)
	assert.Equal(t, generate.StateFailedNoSourcesOK, res.State)
	assert.Equal(t, generate.NoSourcesAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, local.calls())
}

func TestQuery_FallbackUsesSameSources(t *testing.T) {
	remote := &fakeProvider{id: providers.OpenAI, model: "gpt",
		err: &library.ProviderError{Provider: "openai", Kind: library.ProviderUnavailable}}
	local := &fakeProvider{id: providers.Local, model: "qwen", reply: "From the local model [Passage 1]."}
	e := setupEngine(t, remoteWithLocalFallback(), remote, local)
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)

	res, err := e.Query(ctx, QueryRequest{Question: "What is core concept B about kindness?"})
	require.NoError(t, err)
	assert.Equal(t, generate.StateSucceeded, res.State)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, providers.Local, res.Provider)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, providers.OpenAI, res.Attempts[0].Provider)
	assert.Equal(t, remote.prompts, local.prompts, "the fallback sees the same passages")
	assert.NotContains(t, res.Answer, "[Passage 1]")
}

func TestQuery_AllProvidersFail(t *testing.T) {
	remote := &fakeProvider{id: providers.OpenAI, model: "gpt", err: errors.New("bad key sk-test-key-0123456789abcdef")}
	local := &fakeProvider{id: providers.Local, model: "qwen", err: errors.New("connection refused")}
	e := setupEngine(t, remoteWithLocalFallback(), remote, local)
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)

	res, err := e.Query(ctx, QueryRequest{Question: "What is core concept A?"})
	var pe *library.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, library.ProviderExhausted, pe.Kind)
	assert.Equal(t, generate.StateFailedRetryExhausted, res.State)
	assert.NotEmpty(t, res.Sources)
	assert.NotContains(t, err.Error(), "sk-test-key-0123456789abcdef")
	assert.Equal(t, 1, remote.calls())
	assert.Equal(t, 1, local.calls())
}

func TestQuery_OmittedMaxResultsUsesDefault(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "Generosity [Source: core.txt, page 1]."}
	e := setupEngine(t, localOnly(), local)
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)
	e.defaultResults = 1

	res, err := e.Query(ctx, QueryRequest{Question: "What is generosity?"})
	require.NoError(t, err)
	assert.Len(t, res.Sources, 1)

	res, err = e.Query(ctx, QueryRequest{Question: "What is generosity?", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, res.Sources, 2)
}

func TestQuery_InvalidRequests(t *testing.T) {
	e := setupEngine(t, localOnly())
	ctx := context.Background()

	for _, req := range []QueryRequest{
		{Question: "   "},
		{Question: "q", MaxResults: -1},
		{Question: "q", MaxResults: 51},
	} {
		_, err := e.Query(ctx, req)
		assert.ErrorIs(t, err, library.ErrInvalidArgument, "%+v", req)
	}
}

func TestQuery_Cancelled(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "x"}
	e := setupEngine(t, localOnly(), local)
	_, err := e.Ingest(context.Background(), []byte(coreText), "core.txt")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Query(ctx, QueryRequest{Question: "What is core concept A?"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, local.calls())
}

func TestDeleteDocument(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "x"}
	e := setupEngine(t, localOnly(), local)
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)

	require.NoError(t, e.DeleteDocument(ctx, "core.txt"))

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	res, err := e.Query(ctx, QueryRequest{Question: "What is core concept A?"})
	require.NoError(t, err)
	assert.Equal(t, generate.StateFailedNoSourcesOK, res.State)

	assert.ErrorIs(t, e.DeleteDocument(ctx, "core.txt"), library.ErrDocumentNotFound)

	_, err = e.Ingest(ctx, []byte(coreText), "core.txt")
	assert.NoError(t, err, "a deleted name can be ingested again")
}

func TestSummary(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", reply: "Two short teachings on giving and kindness."}
	e := setupEngine(t, localOnly(), local)
	ctx := context.Background()

	_, err := e.Summary(ctx, "missing.txt")
	assert.ErrorIs(t, err, library.ErrDocumentNotFound)

	_, err = e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)
	s, err := e.Summary(ctx, "core.txt")
	require.NoError(t, err)
	assert.Equal(t, "Two short teachings on giving and kindness.", s.Text)
	assert.Contains(t, local.prompts[0].User, `"core.txt"`)
}

func TestSearchByTerm(t *testing.T) {
	e := setupEngine(t, localOnly())
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte("On karma.\fThe Buddha taught that karma shapes rebirth and that nirvana ends it."), "karma.txt")
	require.NoError(t, err)

	cites, err := e.SearchByTerm(ctx, "karma", 0)
	require.NoError(t, err)
	require.NotEmpty(t, cites)
	assert.Equal(t, 2, cites[0].Page)
	for _, c := range cites {
		assert.Equal(t, "karma.txt", c.Document)
	}

	_, err = e.SearchByTerm(ctx, "", 5)
	assert.ErrorIs(t, err, library.ErrInvalidArgument)
}

func TestStatisticsAndHealth(t *testing.T) {
	e := setupEngine(t, localOnly())
	ctx := context.Background()
	_, err := e.Ingest(ctx, []byte(coreText), "core.txt")
	require.NoError(t, err)

	stats, err := e.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, map[string]int{"core.txt": 2}, stats.PerDocument)
	assert.Equal(t, 1, stats.Languages["english_general"])

	h := stats.Health
	assert.True(t, h.OK())
	assert.Equal(t, 2, h.VectorStore.DocumentCount)
	assert.Equal(t, StatusHealthy, h.PDFProcessor.Status)
	assert.Equal(t, providers.Local, h.LLMClient.Provider)
	assert.Equal(t, 32768, h.LLMClient.ContextLength)
}

func TestHealth_UnhealthyProvider(t *testing.T) {
	local := &fakeProvider{id: providers.Local, model: "m", err: errors.New("ollama is not running")}
	e := setupEngine(t, localOnly(), local)

	h := e.Health(context.Background())
	assert.False(t, h.OK())
	assert.Equal(t, StatusHealthy, h.VectorStore.Status)
	assert.Equal(t, StatusUnhealthy, h.LLMClient.Status)
	assert.Contains(t, h.LLMClient.Error, "not running")
}

func TestProviderConfiguration(t *testing.T) {
	e := setupEngine(t, localOnly())
	ctx := context.Background()

	err := e.SetProviderConfig(ctx, ProviderConfigRequest{Provider: "openai"})
	assert.ErrorIs(t, err, library.ErrInvalidConfig, "remote providers need a credential and consent")

	err = e.SetProviderConfig(ctx, ProviderConfigRequest{Provider: "cohere"})
	assert.ErrorIs(t, err, library.ErrInvalidConfig)

	hot := 2.5
	err = e.SetProviderConfig(ctx, ProviderConfigRequest{Temperature: &hot})
	assert.ErrorIs(t, err, library.ErrInvalidConfig)

	key := "sk-live-abcdefghijklmnop"
	allow := true
	require.NoError(t, e.SetProviderConfig(ctx, ProviderConfigRequest{
		Provider:              "anthropic",
		Credentials:           &key,
		AllowDataTransmission: &allow,
	}))

	st := e.ProviderStatus(ctx)
	assert.Equal(t, providers.Anthropic, st.Current)
	for _, p := range st.Providers {
		if p.ID == providers.Anthropic {
			assert.True(t, p.CredentialSet)
			assert.True(t, p.Current)
		}
	}
}

func TestValidateCredentials(t *testing.T) {
	e := setupEngine(t, localOnly())

	got := e.ValidateCredentials(context.Background(), map[string]string{
		"openai":  "sk-candidate-0123456789",
		"google":  "",
		"unknown": "x",
	})
	require.Len(t, got, 3)
	assert.Equal(t, providers.Google, got[0].Provider)
	assert.False(t, got[0].OK)
	assert.Equal(t, providers.OpenAI, got[1].Provider)
	assert.True(t, got[1].OK)
	assert.False(t, got[2].OK)

	_, err := e.registry.Provider(providers.OpenAI)
	assert.Error(t, err, "validation never stores the credential")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	default:
	}
	unlockA()
	<-acquired
	unlockB()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
