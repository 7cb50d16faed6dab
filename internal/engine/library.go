package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/retrieve"
)

const defaultTermLimit = 10

// ListDocuments returns every document in the library, oldest first.
func (e *Engine) ListDocuments(ctx context.Context) ([]library.Document, error) {
	docs, err := e.index.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []library.Document{}
	}
	return docs, nil
}

// DeleteDocument removes a document and every chunk of it. Unknown names
// fail with library.ErrDocumentNotFound.
func (e *Engine) DeleteDocument(ctx context.Context, filename string) error {
	filename = filepath.Base(strings.TrimSpace(filename))
	ctx = logging.WithDocument(ctx, filename)

	// Wait for an ingestion of the same name to settle.
	unlock := e.ingesting.Lock(filename)
	defer unlock()

	if err := e.index.DeleteDocument(ctx, filename); err != nil {
		return err
	}
	e.logger.Info(ctx, "document removed")
	return nil
}

// Summary generates a short summary of a document from its opening chunks.
func (e *Engine) Summary(ctx context.Context, filename string) (generate.Summary, error) {
	ctx = logging.WithDocument(ctx, filename)
	chunks, err := e.index.Chunks(ctx, filename)
	if err != nil {
		return generate.Summary{}, err
	}
	s, err := e.generator.Summarize(ctx, filename, chunks)
	if err != nil {
		e.logger.Warn(ctx, "summary failed", zap.Error(err))
		return generate.Summary{}, err
	}
	return s, nil
}

// SearchByTerm returns up to limit passages annotated with term, most
// confident first.
func (e *Engine) SearchByTerm(ctx context.Context, term string, limit int) ([]library.Citation, error) {
	if limit <= 0 {
		limit = defaultTermLimit
	}
	if limit > maxResultsLimit {
		return nil, &library.RetrievalError{Reason: fmt.Sprintf("limit must be at most %d", maxResultsLimit)}
	}
	hits, err := e.index.ChunksWithTerm(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	out := make([]library.Citation, len(hits))
	for i, h := range hits {
		out[i] = retrieve.ToCitation(h)
	}
	return out, nil
}

// Statistics describes the contents of the library.
type Statistics struct {
	catalog.Stats
	catalog.Breakdown
	Health Health `json:"system_health"`
}

// Statistics returns chunk, type, language and tradition counts together
// with the health report.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	stats, err := e.index.Stats(ctx)
	if err != nil {
		return Statistics{}, err
	}
	breakdown, err := e.index.Breakdown(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{Stats: stats, Breakdown: breakdown, Health: e.Health(ctx)}, nil
}
