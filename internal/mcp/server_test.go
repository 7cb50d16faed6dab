package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

type fakeLibrary struct {
	queryRes engine.QueryResult
	queryErr error
	lastReq  engine.QueryRequest

	terms     []library.Citation
	termErr   error
	lastLimit int

	docs    []library.Document
	docsErr error

	summaries map[string]generate.Summary
}

func (f *fakeLibrary) Query(_ context.Context, req engine.QueryRequest) (engine.QueryResult, error) {
	f.lastReq = req
	return f.queryRes, f.queryErr
}

func (f *fakeLibrary) SearchByTerm(_ context.Context, _ string, limit int) ([]library.Citation, error) {
	f.lastLimit = limit
	return f.terms, f.termErr
}

func (f *fakeLibrary) ListDocuments(context.Context) ([]library.Document, error) {
	return f.docs, f.docsErr
}

func (f *fakeLibrary) Summary(_ context.Context, filename string) (generate.Summary, error) {
	sum, ok := f.summaries[filename]
	if !ok {
		return generate.Summary{}, library.ErrDocumentNotFound
	}
	return sum, nil
}

func citation(file string, page int) library.Citation {
	return library.Citation{
		ChunkID:  fmt.Sprintf("%s-%d", file, page),
		Document: file,
		Page:     page,
		Type:     library.ChunkGeneral,
		Content:  "Generosity is giving freely.",
		Citation: fmt.Sprintf("%s, page %d", file, page),
	}
}

func setupServer(t *testing.T, lib Library) *Server {
	t.Helper()
	s, err := NewServer(&Config{Logger: zap.NewNop()}, lib)
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)

	s, err := NewServer(nil, &fakeLibrary{})
	require.NoError(t, err)
	assert.NotNil(t, s.logger)

	cfg := DefaultConfig()
	assert.Equal(t, "scriptorium", cfg.Name)
}

func TestHandleQuery(t *testing.T) {
	lib := &fakeLibrary{queryRes: engine.QueryResult{
		QueryID:  "q-1",
		State:    generate.StateSucceeded,
		Answer:   "Generosity is giving freely (sutta.pdf, page 1).",
		Sources:  []library.Citation{citation("sutta.pdf", 1)},
		Cited:    []library.Citation{citation("sutta.pdf", 1)},
		Provider: "local",
		Model:    "qwen2.5:14b",
	}}
	s := setupServer(t, lib)

	similar := true
	res, out, err := s.handleQuery(context.Background(), nil, queryInput{
		Question: "What is generosity?", MaxResults: 3, IncludeSimilar: &similar,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)

	assert.Equal(t, "What is generosity?", lib.lastReq.Question)
	assert.Equal(t, 3, lib.lastReq.MaxResults)
	require.NotNil(t, lib.lastReq.IncludeSimilar)
	assert.True(t, *lib.lastReq.IncludeSimilar)

	assert.Equal(t, "SUCCEEDED", out.State)
	assert.Equal(t, "local", out.Provider)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "sutta.pdf, page 1", out.Sources[0].Citation)

	require.Len(t, res.Content, 1)
	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "Generosity is giving freely")
	assert.Contains(t, text, "- sutta.pdf, page 1")
}

func TestHandleQuery_EmptyQuestion(t *testing.T) {
	s := setupServer(t, &fakeLibrary{})
	_, _, err := s.handleQuery(context.Background(), nil, queryInput{Question: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question is required")
}

func TestHandleQuery_ProviderFailureKeepsSources(t *testing.T) {
	lib := &fakeLibrary{
		queryRes: engine.QueryResult{
			QueryID: "q-2",
			State:   generate.StateFailedRetryExhausted,
			Sources: []library.Citation{citation("sutta.pdf", 2)},
		},
		queryErr: &library.ProviderError{Provider: "local", Kind: library.ProviderExhausted},
	}
	s := setupServer(t, lib)

	res, out, err := s.handleQuery(context.Background(), nil, queryInput{Question: "What is metta?"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Equal(t, "FAILED_RETRY_EXHAUSTED", out.State)
	require.Len(t, out.Sources, 1)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "sutta.pdf, page 2")
}

func TestHandleQuery_NoSources(t *testing.T) {
	lib := &fakeLibrary{queryRes: engine.QueryResult{
		QueryID: "q-3",
		State:   generate.StateFailedNoSourcesOK,
		Answer:  "I couldn't find relevant information in the uploaded texts.",
	}}
	s := setupServer(t, lib)

	res, out, err := s.handleQuery(context.Background(), nil, queryInput{Question: "Who won the match?"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.NotNil(t, out.Sources)
	assert.Empty(t, out.Sources)
	assert.Equal(t, lib.queryRes.Answer, res.Content[0].(*mcp.TextContent).Text)
}

func TestClientError(t *testing.T) {
	s := setupServer(t, &fakeLibrary{})

	retrieval := &library.RetrievalError{Reason: "max_results must be between 1 and 50"}
	assert.Equal(t, retrieval, s.clientError("library_query", retrieval))

	notFound := fmt.Errorf("summary: %w", library.ErrDocumentNotFound)
	assert.ErrorIs(t, s.clientError("library_summary", notFound), library.ErrDocumentNotFound)

	assert.EqualError(t, s.clientError("library_query", context.DeadlineExceeded), "library_query timed out")

	err := s.clientError("library_documents", fmt.Errorf("open /data/catalog.db: disk I/O error"))
	assert.EqualError(t, err, "library_documents failed: internal error")
}

func TestHandleSearchTerm(t *testing.T) {
	lib := &fakeLibrary{terms: []library.Citation{citation("a.pdf", 1), citation("b.pdf", 4)}}
	s := setupServer(t, lib)

	_, out, err := s.handleSearchTerm(context.Background(), nil, searchTermInput{Term: " karma ", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "karma", out.Term)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 2, lib.lastLimit)

	_, _, err = s.handleSearchTerm(context.Background(), nil, searchTermInput{})
	require.Error(t, err)

	lib.terms = nil
	_, out, err = s.handleSearchTerm(context.Background(), nil, searchTermInput{Term: "dukkha"})
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Zero(t, out.Count)
}

func TestHandleDocuments(t *testing.T) {
	added := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lib := &fakeLibrary{docs: []library.Document{{
		Filename: "sutta.pdf", Pages: 12, Chunks: 40,
		Language: "theravada_pali", Tradition: "theravada", AddedAt: added,
	}}}
	s := setupServer(t, lib)

	_, out, err := s.handleDocuments(context.Background(), nil, documentsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, documentEntry{
		Filename: "sutta.pdf", Pages: 12, Chunks: 40,
		Language: "theravada_pali", Tradition: "theravada", AddedDate: "2026-01-02T03:04:05Z",
	}, out.Documents[0])
}

func TestHandleSummary(t *testing.T) {
	lib := &fakeLibrary{summaries: map[string]generate.Summary{
		"sutta.pdf": {Text: "A discourse on generosity.", Provider: "local"},
	}}
	s := setupServer(t, lib)

	_, out, err := s.handleSummary(context.Background(), nil, summaryInput{Filename: "sutta.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "A discourse on generosity.", out.Summary)
	assert.Equal(t, "local", out.Provider)

	_, _, err = s.handleSummary(context.Background(), nil, summaryInput{Filename: "missing.pdf"})
	assert.ErrorIs(t, err, library.ErrDocumentNotFound)
}

func TestServer_InMemorySession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := &fakeLibrary{docs: []library.Document{{Filename: "sutta.pdf", Pages: 2, Chunks: 3}}}
	s := setupServer(t, lib)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"library_documents", "library_query", "library_search_term", "library_summary"}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "library_documents", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out documentsOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "sutta.pdf", out.Documents[0].Filename)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "library_summary", Arguments: map[string]any{"filename": "missing.pdf"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
