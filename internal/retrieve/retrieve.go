// Package retrieve ranks index hits into citations.
//
// The vector score of each hit is boosted by the number of distinct domain
// terms annotated on the chunk and, when enabled, by how recently its
// document was added.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/index"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

var tracer = otel.Tracer("scriptorium.retrieve")

// MaxRecencyWeight bounds the recency boost to a fraction of the score.
const MaxRecencyWeight = 0.1

const (
	defaultOverFetch     = 3
	defaultTermWeight    = 0.1
	defaultRecencyWindow = 7 * 24 * time.Hour
	similarPerCitation   = 2
	similarExcerptRunes  = 300
)

// Searcher is the part of the vector index the retriever reads.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Hit, error)
	Similar(ctx context.Context, chunkID string, n int) ([]index.Hit, error)
}

// Options tunes scoring.
type Options struct {
	// OverFetch multiplies k for the vector query. Defaults to 3.
	OverFetch int
	// TermWeight is the boost per distinct annotated term. Zero means the
	// default of 0.1; set NoTermBoost to rank on similarity alone.
	TermWeight  float64
	NoTermBoost bool

	Recency       bool
	RecencyWeight float64
	RecencyWindow time.Duration

	// Now is the clock used for recency. Defaults to time.Now.
	Now func() time.Time
}

// FromSettings converts configuration into Options.
func FromSettings(s config.RetrievalConfig) Options {
	return Options{
		OverFetch:     s.OverFetch,
		TermWeight:    s.TermWeight,
		NoTermBoost:   s.TermWeight == 0,
		Recency:       s.Recency,
		RecencyWeight: s.RecencyWeight,
		RecencyWindow: s.RecencyWindow.Duration(),
	}
}

func (o Options) withDefaults() Options {
	if o.OverFetch < 1 {
		o.OverFetch = defaultOverFetch
	}
	switch {
	case o.NoTermBoost:
		o.TermWeight = 0
	case o.TermWeight <= 0:
		o.TermWeight = defaultTermWeight
	}
	if o.RecencyWeight < 0 {
		o.RecencyWeight = 0
	}
	if o.RecencyWeight > MaxRecencyWeight {
		o.RecencyWeight = MaxRecencyWeight
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = defaultRecencyWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Retriever turns a question into ranked citations.
type Retriever struct {
	searcher Searcher
	opts     Options
	logger   *zap.Logger
}

// New creates a Retriever.
func New(searcher Searcher, opts Options, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{searcher: searcher, opts: opts.withDefaults(), logger: logger}
}

// Retrieve returns up to k citations for query, best first. An empty index
// yields an empty slice. With includeSimilar each citation carries a few
// related passages.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, includeSimilar bool) ([]library.Citation, error) {
	if k <= 0 {
		return nil, &library.RetrievalError{Reason: fmt.Sprintf("max results must be positive, got %d", k)}
	}

	ctx, span := tracer.Start(ctx, "retrieve.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.Bool("include_similar", includeSimilar))

	hits, err := r.searcher.Search(ctx, query, r.opts.OverFetch*k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ranked := r.Rank(hits)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	citations := make([]library.Citation, len(ranked))
	for i, h := range ranked {
		citations[i] = ToCitation(h)
		if includeSimilar {
			citations[i].Similar = r.similar(ctx, h.Chunk.ID)
		}
	}

	span.SetAttributes(attribute.Int("candidates", len(hits)), attribute.Int("results", len(citations)))
	span.SetStatus(codes.Ok, "success")
	return citations, nil
}

// Rank replaces the vector score of each hit with its boosted score and
// sorts by it, ties by insertion order. Boosted scores may exceed 1.
func (r *Retriever) Rank(hits []index.Hit) []index.Hit {
	now := r.opts.Now()
	out := make([]index.Hit, len(hits))
	for i, h := range hits {
		h.Score = r.Score(h, now)
		out[i] = h
	}
	index.SortHits(out)
	return out
}

// Score applies the term boost and, when enabled, the recency boost to the
// vector score of h. The result is not clamped.
func (r *Retriever) Score(h index.Hit, now time.Time) float64 {
	score := h.Score * (1 + r.opts.TermWeight*float64(h.Chunk.DistinctTerms()))
	if r.opts.Recency && !h.AddedAt.IsZero() {
		score *= 1 + r.opts.RecencyWeight*Freshness(h.AddedAt, now, r.opts.RecencyWindow)
	}
	return score
}

// Freshness is 1 for a document added now, falling linearly to 0 at the end
// of window.
func Freshness(addedAt, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	age := now.Sub(addedAt)
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-float64(age)/float64(window))
}

func (r *Retriever) similar(ctx context.Context, chunkID string) []library.Passage {
	hits, err := r.searcher.Similar(ctx, chunkID, similarPerCitation)
	if err != nil {
		r.logger.Debug("similar passages unavailable", zap.String("chunk_id", chunkID), zap.Error(err))
		return nil
	}
	out := make([]library.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, library.Passage{
			Content:  excerpt(h.Chunk.Content, similarExcerptRunes),
			Citation: h.Chunk.Citation(),
		})
	}
	return out
}

// ToCitation maps a hit to the citation returned to callers, clamping its
// score to [0,1].
func ToCitation(h index.Hit) library.Citation {
	annotations := h.Chunk.Annotations
	if annotations == nil {
		annotations = []library.Annotation{}
	}
	return library.Citation{
		ChunkID:     h.Chunk.ID,
		Document:    h.Chunk.Document,
		Page:        h.Chunk.Page,
		Type:        h.Chunk.Type,
		Content:     h.Chunk.Content,
		Citation:    h.Chunk.Citation(),
		Score:       clamp01(h.Score),
		Annotations: annotations,
	}
}

func excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
