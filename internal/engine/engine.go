package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/annotate"
	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/embeddings"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/index"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
	"github.com/fyrsmithlabs/scriptorium/internal/retrieve"
	"github.com/fyrsmithlabs/scriptorium/internal/segment"
)

var tracer = otel.Tracer("scriptorium.engine")

// Options holds the components of an Engine.
type Options struct {
	Index      *index.Index
	Registry   *providers.Registry
	Retriever  *retrieve.Retriever
	Generator  *generate.Generator
	Segmenter  *segment.Segmenter
	Vocabulary *annotate.Vocabulary

	// DefaultResults is used when a query does not set MaxResults.
	DefaultResults int
	// IncludeSimilar is the default of QueryRequest.IncludeSimilar.
	IncludeSimilar bool

	Logger *logging.Logger
}

// Engine runs library operations. Safe for concurrent use.
type Engine struct {
	index      *index.Index
	registry   *providers.Registry
	retriever  *retrieve.Retriever
	generator  *generate.Generator
	segmenter  *segment.Segmenter
	vocabulary *annotate.Vocabulary

	defaultResults int
	includeSimilar bool

	ingesting *keyedMutex
	logger    *logging.Logger

	// closers run in order on Close; set by Open.
	closers []func() error
	once    sync.Once
}

// New creates an Engine from components. Index and Registry are required;
// the rest default to a retriever and generator over them, the default
// segmenter and the built-in vocabulary.
func New(opts Options) (*Engine, error) {
	if opts.Index == nil || opts.Registry == nil {
		return nil, errors.New("engine: index and provider registry are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	z := opts.Logger.Underlying()
	if opts.Retriever == nil {
		opts.Retriever = retrieve.New(opts.Index, retrieve.FromSettings(config.NewDefaultConfig().Retrieval), z)
	}
	if opts.Generator == nil {
		opts.Generator = generate.New(opts.Registry, generate.Options{}, z)
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segment.New(segment.DefaultOptions())
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = annotate.Default()
	}
	if opts.DefaultResults <= 0 {
		opts.DefaultResults = 5
	}

	return &Engine{
		index:          opts.Index,
		registry:       opts.Registry,
		retriever:      opts.Retriever,
		generator:      opts.Generator,
		segmenter:      opts.Segmenter,
		vocabulary:     opts.Vocabulary,
		defaultResults: opts.DefaultResults,
		includeSimilar: opts.IncludeSimilar,
		ingesting:      newKeyedMutex(),
		logger:         opts.Logger,
	}, nil
}

// Open builds every component from cfg: the catalog and vector index under
// cfg.DataDir, the configured embedder and the provider registry, whose
// daily usage is persisted in the catalog.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	z := logger.Underlying()

	cat, err := catalog.Open(ctx, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	closers := []func() error{cat.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	embCfg := cfg.Embeddings
	if embCfg.CacheDir == "" {
		embCfg.CacheDir = filepath.Join(cfg.DataDir, "models")
	}
	embedder, err := embeddings.New(ctx, embCfg, z.Named("embeddings"))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	ix, err := index.Open(ctx, index.Options{DataDir: cfg.DataDir}, cat, embedder, z.Named("index"))
	if err != nil {
		_ = embedder.Close()
		cleanup()
		return nil, err
	}
	closers = append(closers, ix.Close)

	registry, err := providers.NewRegistry(cfg.Providers, providers.Options{
		Usage:  cat,
		Logger: z.Named("providers"),
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	e, err := New(Options{
		Index:          ix,
		Registry:       registry,
		Retriever:      retrieve.New(ix, retrieve.FromSettings(cfg.Retrieval), z.Named("retrieve")),
		Generator:      generate.New(registry, generate.FromSettings(cfg.Generation), z.Named("generate")),
		Segmenter:      segment.New(segment.FromSettings(cfg.Segmenter)),
		Vocabulary:     annotate.Default(),
		DefaultResults: cfg.Retrieval.DefaultResults,
		IncludeSimilar: cfg.Retrieval.IncludeSimilar,
		Logger:         logger,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	// Close releases the index before the catalog it reads.
	e.closers = []func() error{ix.Close, cat.Close}

	logger.Info(ctx, "engine ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("provider", string(registry.Current())))
	return e, nil
}

// Close releases the resources opened by Open. Engines built with New leave
// their components to the caller.
func (e *Engine) Close() error {
	var errs []error
	e.once.Do(func() {
		for _, c := range e.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Registry returns the provider registry.
func (e *Engine) Registry() *providers.Registry { return e.registry }

// keyedMutex serializes work per key. Entries are removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
