package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "library_query",
		Description: "Answer a question from the Buddhist text library. The answer is generated only from retrieved passages and cites them as \"<filename>, page <n>\".",
	}, instrument(s, "library_query", s.handleQuery))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "library_search_term",
		Description: "Find passages annotated with a Buddhist term such as karma, dukkha or bodhisattva, most confident first.",
	}, instrument(s, "library_search_term", s.handleSearchTerm))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "library_documents",
		Description: "List the documents in the library with their page and chunk counts, language and tradition.",
	}, instrument(s, "library_documents", s.handleDocuments))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "library_summary",
		Description: "Summarize one document of the library from its opening passages.",
	}, instrument(s, "library_summary", s.handleSummary))
}

// instrument wraps a tool handler with metrics and failure logging.
func instrument[In, Out any](s *Server, tool string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, tool)
		defer s.metrics.DecrementActive(ctx, tool)

		res, out, err := h(ctx, req, in)

		failure := err
		if failure == nil && res != nil && res.IsError {
			failure = library.ErrProviderFailed
		}
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), failure)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
		}
		return res, out, err
	}
}

// clientError returns the error reported to the MCP client. Input and
// lookup errors pass through; storage and unexpected errors are reduced to
// a generic message and logged.
func (s *Server) clientError(tool string, err error) error {
	var (
		ingestErr *library.IngestionError
		provErr   *library.ProviderError
	)
	switch {
	case errors.Is(err, library.ErrInvalidArgument),
		errors.Is(err, library.ErrDocumentNotFound),
		errors.As(err, &ingestErr),
		errors.As(err, &provErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s timed out", tool)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s was cancelled", tool)
	}
	s.logger.Error("tool internal error", zap.String("tool", tool), zap.Error(err))
	return fmt.Errorf("%s failed: internal error", tool)
}

// ===== QUERY =====

type queryInput struct {
	Question       string `json:"question" jsonschema:"The question to answer from the library"`
	MaxResults     int    `json:"max_results,omitempty" jsonschema:"Number of passages to retrieve (default: 5, max: 50)"`
	IncludeSimilar *bool  `json:"include_similar,omitempty" jsonschema:"Attach related passages to each source"`
}

type queryOutput struct {
	QueryID      string             `json:"query_id" jsonschema:"Identifier of this query in the server logs"`
	State        string             `json:"state" jsonschema:"Terminal state of the query"`
	Answer       string             `json:"answer" jsonschema:"Answer text with inline citations"`
	Sources      []library.Citation `json:"sources" jsonschema:"Passages the answer was generated from"`
	Provider     string             `json:"provider,omitempty" jsonschema:"Language model provider that produced the answer"`
	Model        string             `json:"model,omitempty" jsonschema:"Model that produced the answer"`
	UsedFallback bool               `json:"used_fallback" jsonschema:"Whether the fallback provider produced the answer"`
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, queryOutput, error) {
	if strings.TrimSpace(args.Question) == "" {
		return nil, queryOutput{}, fmt.Errorf("question is required")
	}

	res, err := s.library.Query(ctx, engine.QueryRequest{
		Question:       args.Question,
		MaxResults:     args.MaxResults,
		IncludeSimilar: args.IncludeSimilar,
	})
	out := queryOutput{
		QueryID:      res.QueryID,
		State:        string(res.State),
		Answer:       res.Answer,
		Sources:      res.Sources,
		Provider:     string(res.Provider),
		Model:        res.Model,
		UsedFallback: res.UsedFallback,
	}
	if out.Sources == nil {
		out.Sources = []library.Citation{}
	}

	var provErr *library.ProviderError
	if errors.As(err, &provErr) {
		// Retrieval succeeded; the sources are still worth returning.
		s.answers.RecordAnswer(ctx, res.State, 0, false)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: sourcesText(provErr.Error(), out.Sources)}},
		}, out, nil
	}
	if err != nil {
		return nil, queryOutput{}, s.clientError("library_query", err)
	}

	s.answers.RecordAnswer(ctx, res.State, len(res.Cited), res.UsedFallback)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sourcesText(out.Answer, out.Sources)}},
	}, out, nil
}

// sourcesText renders text followed by the citation of each source.
func sourcesText(text string, sources []library.Citation) string {
	if len(sources) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nSources:")
	for _, src := range sources {
		fmt.Fprintf(&b, "\n- %s", src.Citation)
	}
	return b.String()
}

// ===== TERMS =====

type searchTermInput struct {
	Term  string `json:"term" jsonschema:"Buddhist term to look up, case-insensitive"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum passages to return (default: 10, max: 50)"`
}

type searchTermOutput struct {
	Term    string             `json:"term" jsonschema:"Term searched for"`
	Results []library.Citation `json:"results" jsonschema:"Passages annotated with the term"`
	Count   int                `json:"count" jsonschema:"Number of passages found"`
}

func (s *Server) handleSearchTerm(ctx context.Context, _ *mcp.CallToolRequest, args searchTermInput) (*mcp.CallToolResult, searchTermOutput, error) {
	term := strings.TrimSpace(args.Term)
	if term == "" {
		return nil, searchTermOutput{}, fmt.Errorf("term is required")
	}

	hits, err := s.library.SearchByTerm(ctx, term, args.Limit)
	if err != nil {
		return nil, searchTermOutput{}, s.clientError("library_search_term", err)
	}
	if hits == nil {
		hits = []library.Citation{}
	}
	return nil, searchTermOutput{Term: term, Results: hits, Count: len(hits)}, nil
}

// ===== DOCUMENTS =====

type documentsInput struct{}

type documentEntry struct {
	Filename  string `json:"filename"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	Language  string `json:"language"`
	Tradition string `json:"tradition"`
	AddedDate string `json:"added_date"`
}

type documentsOutput struct {
	Documents []documentEntry `json:"documents" jsonschema:"Documents in the library, oldest first"`
	Count     int             `json:"count" jsonschema:"Number of documents"`
}

func (s *Server) handleDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ documentsInput) (*mcp.CallToolResult, documentsOutput, error) {
	docs, err := s.library.ListDocuments(ctx)
	if err != nil {
		return nil, documentsOutput{}, s.clientError("library_documents", err)
	}

	out := documentsOutput{Documents: make([]documentEntry, 0, len(docs)), Count: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, documentEntry{
			Filename:  d.Filename,
			Pages:     d.Pages,
			Chunks:    d.Chunks,
			Language:  d.Language,
			Tradition: d.Tradition,
			AddedDate: d.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// ===== SUMMARY =====

type summaryInput struct {
	Filename string `json:"filename" jsonschema:"Document filename as listed by library_documents"`
}

type summaryOutput struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) handleSummary(ctx context.Context, _ *mcp.CallToolRequest, args summaryInput) (*mcp.CallToolResult, summaryOutput, error) {
	if strings.TrimSpace(args.Filename) == "" {
		return nil, summaryOutput{}, fmt.Errorf("filename is required")
	}

	sum, err := s.library.Summary(ctx, args.Filename)
	if err != nil {
		return nil, summaryOutput{}, s.clientError("library_summary", err)
	}
	return nil, summaryOutput{Filename: args.Filename, Summary: sum.Text, Provider: string(sum.Provider)}, nil
}
