// Package index is the vector index of a library.
//
// Chunk vectors live in a chromem-go persistent collection; the document
// registry lives in the sqlite catalog. A document becomes searchable only
// when the catalog commits it, so every search sees either the prior or the
// new state of the library.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/embeddings"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

const (
	// CollectionName is the chromem collection holding every chunk vector.
	CollectionName = "passages"

	// VectorsDir is the chromem directory inside the data directory.
	VectorsDir = "vectors"

	defaultBatchSize = 32
)

var tracer = otel.Tracer("scriptorium.index")

// ErrEmbeddingSpaceMismatch is returned by Open when the embedder differs
// from the one the library was built with.
var ErrEmbeddingSpaceMismatch = catalog.ErrEmbeddingSpaceMismatch

// Hit is a search result.
type Hit struct {
	Chunk   library.Chunk
	Score   float64
	Seq     int64
	AddedAt time.Time
}

// UpsertReport is the per-chunk outcome of an upsert.
type UpsertReport struct {
	Stored []string
	Failed map[string]error
}

// Options configures Open.
type Options struct {
	// DataDir holds the vectors/ directory.
	DataDir string
	// Compress gzips the chromem files.
	Compress bool
	// BatchSize is the number of chunks embedded per call. Defaults to 32.
	BatchSize int
}

// Index is the vector index. Safe for concurrent use.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	catalog    *catalog.Catalog
	embedder   embeddings.Embedder
	logger     *zap.Logger
	batchSize  int

	// mu orders DeleteDocument after in-flight searches.
	mu sync.RWMutex
}

// Open opens the index, verifies the embedding space and removes documents
// a crash left half-ingested or half-deleted.
func Open(ctx context.Context, opts Options, cat *catalog.Catalog, embedder embeddings.Embedder, logger *zap.Logger) (*Index, error) {
	if cat == nil || embedder == nil {
		return nil, fmt.Errorf("index: catalog and embedder are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if err := cat.EnsureEmbeddingSpace(ctx, embedder.Model(), embedder.Dimension()); err != nil {
		return nil, err
	}

	path := filepath.Join(opts.DataDir, VectorsDir)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := newResilientDB(path, opts.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	ix := &Index{
		db:        db,
		catalog:   cat,
		embedder:  embedder,
		logger:    logger,
		batchSize: opts.BatchSize,
	}
	ix.collection, err = db.GetOrCreateCollection(CollectionName, nil, ix.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", CollectionName, err)
	}

	if err := ix.recover(ctx); err != nil {
		return nil, fmt.Errorf("recovering index: %w", err)
	}
	ix.refreshGauges(ctx)

	logger.Info("index opened",
		zap.String("path", path),
		zap.String("embedding_model", embedder.Model()),
		zap.Int("vectors", ix.collection.Count()))
	return ix, nil
}

// embeddingFunc is handed to chromem so a persisted collection never falls
// back to its default remote embedder.
func (ix *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.EmbedQuery(ctx, text)
	}
}

func (ix *Index) recover(ctx context.Context) error {
	stale, err := ix.catalog.Stale(ctx)
	if err != nil {
		return err
	}
	for _, e := range stale {
		ix.logger.Warn("removing interrupted document",
			zap.String("document", e.Document.Filename),
			zap.String("status", string(e.Status)))
		if err := ix.removeVectors(ctx, e.Document.Filename); err != nil {
			return err
		}
		if err := ix.catalog.RemoveDocument(ctx, e.ID); err != nil {
			return err
		}
		recoveredTotal.Inc()
	}
	return nil
}

// Upsert embeds and stores the chunks of a new document, then commits it.
// On any failure the document is rolled back and nothing stays visible; a
// per-chunk failure is reported as *library.IndexError.
func (ix *Index) Upsert(ctx context.Context, doc library.Document, chunks []library.Chunk) (UpsertReport, error) {
	ctx, span := tracer.Start(ctx, "index.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document", doc.Filename), attribute.Int("chunks", len(chunks)))

	report := UpsertReport{Failed: map[string]error{}}
	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: no chunks for %s", library.ErrNoExtractableText, doc.Filename)
	}

	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now()
	}
	docID, err := ix.catalog.BeginDocument(ctx, doc)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	fail := func(err error) (UpsertReport, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		upsertFailures.Inc()
		// Rollback must run even when ctx is already cancelled.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rbErr := ix.rollback(rbCtx, docID, doc.Filename); rbErr != nil {
			ix.logger.Error("rollback failed; the document will be removed on next open",
				zap.String("document", doc.Filename), zap.Error(rbErr))
		}
		return report, err
	}

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		ix.storeBatch(ctx, docID, doc.AddedAt, chunks[start:end], &report)
	}
	if len(report.Failed) > 0 {
		return fail(&library.IndexError{Op: "upsert", Stored: report.Stored, Failed: report.Failed})
	}

	if err := ix.catalog.CommitDocument(ctx, docID, chunks); err != nil {
		return fail(fmt.Errorf("committing %s: %w", doc.Filename, err))
	}

	span.SetStatus(codes.Ok, "success")
	ix.refreshGauges(ctx)
	ix.logger.Debug("document indexed", zap.String("document", doc.Filename), zap.Int("chunks", len(chunks)))
	return report, nil
}

func (ix *Index) storeBatch(ctx context.Context, docID int64, addedAt time.Time, batch []library.Chunk, report *UpsertReport) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil || len(vectors) != len(batch) {
		// Pinpoint the failing chunks one at a time.
		vectors = make([][]float32, len(batch))
		for i, t := range texts {
			v, err := ix.embedder.EmbedDocuments(ctx, []string{t})
			if err == nil && len(v) != 1 {
				err = fmt.Errorf("%w: got %d vectors for one text", embeddings.ErrEmbeddingFailed, len(v))
			}
			if err != nil {
				report.Failed[batch[i].ID] = err
				continue
			}
			vectors[i] = v[0]
		}
	}

	docs := make([]chromem.Document, 0, len(batch))
	for i, c := range batch {
		if _, failed := report.Failed[c.ID]; failed {
			continue
		}
		if len(vectors[i]) != ix.embedder.Dimension() {
			report.Failed[c.ID] = fmt.Errorf("%w: vector has %d dimensions, expected %d",
				embeddings.ErrEmbeddingFailed, len(vectors[i]), ix.embedder.Dimension())
			continue
		}
		meta, err := chunkMetadata(c, catalog.Seq(docID, c.Ordinal), addedAt)
		if err != nil {
			report.Failed[c.ID] = err
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  meta,
			Embedding: vectors[i],
		})
	}
	if len(docs) == 0 {
		return
	}

	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		for _, d := range docs {
			report.Failed[d.ID] = fmt.Errorf("storing vector: %w", err)
		}
		return
	}
	for _, d := range docs {
		report.Stored = append(report.Stored, d.ID)
	}
}

func (ix *Index) rollback(ctx context.Context, docID int64, filename string) error {
	if err := ix.removeVectors(ctx, filename); err != nil {
		return err
	}
	return ix.catalog.RemoveDocument(ctx, docID)
}

func (ix *Index) removeVectors(ctx context.Context, filename string) error {
	if err := ix.collection.Delete(ctx, map[string]string{metaDocument: filename}, nil); err != nil {
		return fmt.Errorf("deleting vectors of %s: %w", filename, err)
	}
	return nil
}

// DeleteDocument removes a document and all of its chunks. Searches that
// started before it complete against the prior state; searches that start
// after it never see the document.
func (ix *Index) DeleteDocument(ctx context.Context, filename string) error {
	ctx, span := tracer.Start(ctx, "index.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document", filename))

	ix.mu.Lock()
	entry, err := ix.catalog.MarkDeleting(ctx, filename)
	ix.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return err
	}

	ctx = context.WithoutCancel(ctx)
	if err := ix.rollback(ctx, entry.ID, filename); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ix.logger.Error("delete incomplete; the document will be removed on next open",
			zap.String("document", filename), zap.Error(err))
		return err
	}

	span.SetStatus(codes.Ok, "success")
	ix.refreshGauges(ctx)
	ix.logger.Info("document deleted", zap.String("document", filename), zap.Int("chunks", entry.Document.Chunks))
	return nil
}

// Search returns up to k chunks of committed documents nearest to query,
// scores clamped to [0,1], by score descending then insertion order.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, &library.RetrievalError{Reason: fmt.Sprintf("k must be positive, got %d", k)}
	}
	if query == "" {
		return nil, &library.RetrievalError{Reason: "query cannot be empty"}
	}

	ctx, span := tracer.Start(ctx, "index.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() { searchDuration.Observe(time.Since(start).Seconds()) }()

	if ix.collection.Count() == 0 {
		return []Hit{}, nil
	}

	vector, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := ix.nearest(ctx, vector, k, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

// nearest queries chromem for vector, keeping only committed chunks other
// than exclude. Invisible vectors (pending or deleting documents) are
// skipped by widening the query until k visible hits are found or the
// collection is exhausted.
func (ix *Index) nearest(ctx context.Context, vector []float32, k int, exclude string) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := ix.collection.Count()
	n := min(k, count)
	if exclude != "" {
		n = min(k+1, count)
	}

	for {
		if n == 0 {
			return []Hit{}, nil
		}
		results, err := ix.collection.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection %s: %w", CollectionName, err)
		}

		ids := make([]string, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.ID)
		}
		visible, err := ix.catalog.Visible(ctx, ids)
		if err != nil {
			return nil, err
		}

		hits := make([]Hit, 0, len(results))
		for _, r := range results {
			rec, ok := visible[r.ID]
			if !ok || r.ID == exclude {
				continue
			}
			hits = append(hits, Hit{
				Chunk:   rec.Chunk,
				Score:   clamp01(float64(r.Similarity)),
				Seq:     rec.Seq,
				AddedAt: rec.AddedAt,
			})
		}

		if len(hits) >= k || n >= count {
			SortHits(hits)
			if len(hits) > k {
				hits = hits[:k]
			}
			return hits, nil
		}
		n = min(n*2, count)
	}
}

// Similar returns up to n committed chunks nearest to the stored chunk id,
// excluding the chunk itself.
func (ix *Index) Similar(ctx context.Context, chunkID string, n int) ([]Hit, error) {
	if n <= 0 {
		return nil, &library.RetrievalError{Reason: fmt.Sprintf("n must be positive, got %d", n)}
	}
	ctx, span := tracer.Start(ctx, "index.Similar")
	defer span.End()

	rec, err := ix.catalog.Chunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	vectors, err := ix.embedder.EmbedDocuments(ctx, []string{rec.Content})
	if err == nil && len(vectors) != 1 {
		err = embeddings.ErrEmbeddingFailed
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding chunk %s: %w", chunkID, err)
	}
	return ix.nearest(ctx, vectors[0], n, chunkID)
}

// SortHits orders hits by score descending, ties by insertion sequence.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Close releases the embedder. The catalog is owned by the caller.
func (ix *Index) Close() error {
	return ix.embedder.Close()
}

// Embedder returns the embedding function of the library.
func (ix *Index) Embedder() embeddings.Embedder { return ix.embedder }

// Ping reports whether the index can serve reads.
func (ix *Index) Ping(ctx context.Context) error {
	if err := ix.catalog.Ping(ctx); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if ix.collection == nil {
		return errors.New("collection not loaded")
	}
	return nil
}

func (ix *Index) refreshGauges(ctx context.Context) {
	stats, err := ix.catalog.Stats(ctx)
	if err != nil {
		ix.logger.Warn("failed to refresh index gauges", zap.Error(err))
		return
	}
	chunksGauge.Set(float64(stats.TotalChunks))
	documentsGauge.Set(float64(stats.Documents))
	vectorsGauge.Set(float64(ix.collection.Count()))
}
