package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider names accepted by New.
const (
	ProviderFastEmbed = "fastembed"
	ProviderLexical   = "lexical"
	ProviderTEI       = "tei"
)

// Embedder generates vectors. Documents and queries may be embedded
// differently (BGE models prefix them), but both land in the same space.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding space, for example "BAAI/bge-small-en-v1.5".
	Model() string
	Dimension() int
	Close() error
}

// New creates the embedder selected by cfg, instrumented with metrics.
func New(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		e, err = NewFastEmbedProvider(ctx, FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, logger)
	case ProviderLexical:
		e = NewLexical(cfg.Dimension)
	case ProviderTEI:
		e, err = NewTEI(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", e.Model()),
		zap.Int("dimension", e.Dimension()))
	return Instrument(e, NewMetrics(logger)), nil
}

// detectDimensionFromModel guesses the dimension of a model served by TEI.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownModelDimension(model); ok {
		return dim
	}
	switch {
	case containsFold(model, "base"):
		return 768
	case containsFold(model, "large"):
		return 1024
	default:
		return 384
	}
}
