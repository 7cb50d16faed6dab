package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/embeddings"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

type testEnv struct {
	dir     string
	catalog *catalog.Catalog
	index   *Index
}

func setupIndex(t *testing.T, embedder embeddings.Embedder) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	if embedder == nil {
		embedder = embeddings.NewLexical(128)
	}
	ix, err := Open(context.Background(), Options{DataDir: dir, BatchSize: 2}, cat, embedder, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &testEnv{dir: dir, catalog: cat, index: ix}
}

func makeChunks(doc string, contents ...string) []library.Chunk {
	out := make([]library.Chunk, len(contents))
	for i, c := range contents {
		out[i] = library.Chunk{
			ID:       fmt.Sprintf("%s_p%d_%d", strings.TrimSuffix(doc, ".pdf"), i+1, i),
			Document: doc,
			Page:     i + 1,
			Ordinal:  i,
			Type:     library.ChunkGeneral,
			Content:  c,
			Words:    len(strings.Fields(c)),
		}
	}
	return out
}

func ingest(t *testing.T, ix *Index, doc string, contents ...string) []library.Chunk {
	t.Helper()
	chunks := makeChunks(doc, contents...)
	report, err := ix.Upsert(context.Background(), library.Document{Filename: doc, Pages: len(contents)}, chunks)
	require.NoError(t, err)
	require.Len(t, report.Stored, len(chunks))
	return chunks
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := setupIndex(t, nil)
	hits, err := env.index.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_InvalidArguments(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()

	_, err := env.index.Search(ctx, "q", 0)
	var rerr *library.RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, library.ErrInvalidArgument)

	_, err = env.index.Search(ctx, "", 3)
	assert.ErrorIs(t, err, library.ErrInvalidArgument)
}

func TestUpsertAndSearch(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()

	ingest(t, env.index, "concepts.pdf",
		"The core concept A is the cessation of craving and clinging.",
		"Core concept B concerns loving-kindness toward all beings.",
		"An unrelated passage about the monastery kitchen and its rice.")

	hits, err := env.index.Search(ctx, "What is core concept A?", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Chunk.Page)
	assert.Equal(t, "concepts.pdf, page 1", hits[0].Chunk.Citation())

	for i, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}

	hits, err = env.index.Search(ctx, "concept", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3, "k larger than the collection")

	stats, err := env.index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 3, stats.PerDocument["concepts.pdf"])
}

func TestUpsert_DuplicateDocument(t *testing.T) {
	env := setupIndex(t, nil)
	ingest(t, env.index, "a.pdf", "first text here")

	_, err := env.index.Upsert(context.Background(), library.Document{Filename: "a.pdf"}, makeChunks("a.pdf", "again"))
	assert.ErrorIs(t, err, library.ErrDocumentExists)
}

// flakyEmbedder fails for texts containing "poison".
type flakyEmbedder struct {
	*embeddings.Lexical
}

func (f flakyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("model refused input")
		}
	}
	return f.Lexical.EmbedDocuments(ctx, texts)
}

func TestUpsert_PartialFailureRollsBack(t *testing.T) {
	env := setupIndex(t, flakyEmbedder{embeddings.NewLexical(128)})
	ctx := context.Background()

	chunks := makeChunks("bad.pdf", "good one", "good two", "poison three", "good four")
	report, err := env.index.Upsert(ctx, library.Document{Filename: "bad.pdf"}, chunks)

	var ierr *library.IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Len(t, ierr.Failed, 1)
	assert.Contains(t, ierr.Failed, chunks[2].ID)
	assert.Len(t, report.Stored, 3)
	assert.EqualError(t, ierr.FirstFailure(), "model refused input")

	assert.Equal(t, 0, env.index.collection.Count(), "stored vectors rolled back")
	_, err = env.catalog.Document(ctx, "bad.pdf")
	assert.ErrorIs(t, err, library.ErrDocumentNotFound)

	stale, err := env.catalog.Stale(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	ingest(t, env.index, "bad.pdf", "a clean retry")
}

func TestDeleteDocument(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()

	ingest(t, env.index, "keep.pdf", "Mindfulness of breathing.", "Walking meditation.")
	ingest(t, env.index, "drop.pdf", "Mindfulness of feelings.", "Mindfulness of mind.", "Mindfulness of dhammas.")

	require.NoError(t, env.index.DeleteDocument(ctx, "drop.pdf"))

	hits, err := env.index.Search(ctx, "mindfulness", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "keep.pdf", h.Chunk.Document)
	}
	assert.Equal(t, 2, env.index.collection.Count(), "every vector of the document removed")

	err = env.index.DeleteDocument(ctx, "drop.pdf")
	assert.ErrorIs(t, err, library.ErrDocumentNotFound)
}

func TestDeleteDuringSearch(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()
	ingest(t, env.index, "keep.pdf", "impermanence of form", "impermanence of feeling")
	ingest(t, env.index, "drop.pdf", "impermanence of perception", "impermanence of consciousness")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := env.index.Search(ctx, "impermanence", 4)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(hits), 4)
			}
		}()
	}

	require.NoError(t, env.index.DeleteDocument(ctx, "drop.pdf"))
	hits, err := env.index.Search(ctx, "impermanence", 4)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "drop.pdf", h.Chunk.Document)
	}
	close(stop)
	wg.Wait()
}

func TestOpen_RecoversInterruptedDocuments(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()
	ingest(t, env.index, "ok.pdf", "committed passage")

	// Simulate a crash between writing vectors and committing.
	_, err := env.catalog.BeginDocument(ctx, library.Document{Filename: "crash.pdf"})
	require.NoError(t, err)
	chunk := makeChunks("crash.pdf", "half written passage")[0]
	meta, err := chunkMetadata(chunk, 1, time.Now())
	require.NoError(t, err)
	vec, err := env.index.embedder.EmbedDocuments(ctx, []string{chunk.Content})
	require.NoError(t, err)
	require.NoError(t, env.index.collection.AddDocument(ctx, chromem.Document{
		ID: chunk.ID, Content: chunk.Content, Metadata: meta, Embedding: vec[0],
	}))

	hits, err := env.index.Search(ctx, "half written passage", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1, "pending documents are invisible")
	assert.Equal(t, "ok.pdf", hits[0].Chunk.Document)

	reopened, err := Open(ctx, Options{DataDir: env.dir}, env.catalog, embeddings.NewLexical(128), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.collection.Count())

	stale, err := env.catalog.Stale(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	hits, err = reopened.Search(ctx, "committed", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestOpen_EmbeddingSpaceMismatch(t *testing.T) {
	env := setupIndex(t, nil)
	_, err := Open(context.Background(), Options{DataDir: env.dir}, env.catalog, embeddings.NewLexical(64), nil)
	assert.ErrorIs(t, err, ErrEmbeddingSpaceMismatch)
}

func TestSimilar(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()
	chunks := ingest(t, env.index, "s.pdf",
		"loving-kindness toward all beings",
		"loving-kindness toward oneself",
		"rice and lentils for the meal")

	hits, err := env.index.Similar(ctx, chunks[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[1].ID, hits[0].Chunk.ID)

	hits, err = env.index.Similar(ctx, chunks[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "never includes itself")

	_, err = env.index.Similar(ctx, "missing", 1)
	assert.ErrorIs(t, err, library.ErrDocumentNotFound)
}

func TestChunksAndTerms(t *testing.T) {
	env := setupIndex(t, nil)
	ctx := context.Background()

	chunks := makeChunks("t.pdf", "On karma.", "On rebirth and karma.")
	chunks[0].Annotations = []library.Annotation{{Term: "Karma", Category: "core_doctrine", Confidence: 0.75}}
	chunks[1].Annotations = []library.Annotation{
		{Term: "Karma", Category: "core_doctrine", Confidence: 0.7},
		{Term: "Rebirth", Category: "core_doctrine", Confidence: 0.7},
	}
	_, err := env.index.Upsert(ctx, library.Document{Filename: "t.pdf", Pages: 2}, chunks)
	require.NoError(t, err)

	got, err := env.index.Chunks(ctx, "t.pdf")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[1].Annotations, got[1].Annotations)

	hits, err := env.index.ChunksWithTerm(ctx, "karma", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, chunks[0].ID, hits[0].Chunk.ID)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-9)

	_, err = env.index.ChunksWithTerm(ctx, " ", 5)
	assert.ErrorIs(t, err, library.ErrInvalidArgument)

	docs, err := env.index.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Chunks)
}

func TestSortHits(t *testing.T) {
	hits := []Hit{
		{Score: 0.5, Seq: 3},
		{Score: 0.9, Seq: 2},
		{Score: 0.5, Seq: 1},
	}
	SortHits(hits)
	assert.Equal(t, []int64{2, 1, 3}, []int64{hits[0].Seq, hits[1].Seq, hits[2].Seq})
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.3))
	assert.Equal(t, 1.0, clamp01(1.0000001))
	assert.Equal(t, 0.4, clamp01(0.4))
}
