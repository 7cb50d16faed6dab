package index

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Stats returns committed chunk counts, total and per document.
func (ix *Index) Stats(ctx context.Context) (catalog.Stats, error) {
	return ix.catalog.Stats(ctx)
}

// Breakdown returns chunk type, language and tradition counts.
func (ix *Index) Breakdown(ctx context.Context) (catalog.Breakdown, error) {
	return ix.catalog.Breakdown(ctx)
}

// Documents lists committed documents, oldest first.
func (ix *Index) Documents(ctx context.Context) ([]library.Document, error) {
	return ix.catalog.Documents(ctx)
}

// Document returns one committed document.
func (ix *Index) Document(ctx context.Context, filename string) (library.Document, error) {
	return ix.catalog.Document(ctx, filename)
}

// Chunks returns the chunks of a document in document order.
func (ix *Index) Chunks(ctx context.Context, filename string) ([]library.Chunk, error) {
	recs, err := ix.catalog.Chunks(ctx, filename)
	if err != nil {
		return nil, err
	}
	out := make([]library.Chunk, len(recs))
	for i, r := range recs {
		out[i] = r.Chunk
	}
	return out, nil
}

// ChunksWithTerm returns up to limit chunks annotated with term. The score
// of each hit is the confidence of that annotation.
func (ix *Index) ChunksWithTerm(ctx context.Context, term string, limit int) ([]Hit, error) {
	if strings.TrimSpace(term) == "" {
		return nil, &library.RetrievalError{Reason: "term cannot be empty"}
	}
	recs, err := ix.catalog.ChunksWithTerm(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(recs))
	for i, r := range recs {
		var score float64
		for _, a := range r.Annotations {
			if strings.EqualFold(a.Term, strings.TrimSpace(term)) {
				score = a.Confidence
			}
		}
		hits[i] = Hit{Chunk: r.Chunk, Score: clamp01(score), Seq: r.Seq, AddedAt: r.AddedAt}
	}
	return hits, nil
}
