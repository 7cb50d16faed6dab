// Package watch ingests documents dropped into an inbox directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/segment"
)

var (
	// ErrNotDirectory indicates the inbox path is not a directory.
	ErrNotDirectory = errors.New("inbox is not a directory")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

// Ingester is the part of the engine the watcher calls.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename string) (engine.IngestResult, error)
}

// Options configures a Watcher.
type Options struct {
	// Dir is the inbox directory.
	Dir string
	// Debounce is how long a file must stay unchanged before it is
	// ingested. Defaults to 2s.
	Debounce time.Duration
	// IngestExisting ingests supported files already in Dir on Start.
	IngestExisting bool
	// MaxBytes fails larger files with an IngestionError. Zero means no
	// limit.
	MaxBytes int64
	Logger   *logging.Logger
}

// Outcome classifies one ingestion attempt.
type Outcome string

const (
	OutcomeIngested Outcome = "ingested"
	// OutcomeSkipped means the library already holds a document of that name.
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Event reports one ingestion attempt.
type Event struct {
	Path    string
	Outcome Outcome
	Result  engine.IngestResult
	Err     error
	Time    time.Time
}

// Watcher ingests supported files created or written in a directory.
type Watcher struct {
	ingester Ingester
	opts     Options
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	events   chan Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for opts.Dir. Call Start to begin watching.
func New(ingester Ingester, opts Options) (*Watcher, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, opts.Dir)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		ingester: ingester,
		opts:     opts,
		logger:   opts.Logger.Named("watch"),
		watcher:  fw,
		events:   make(chan Event, 32),
		pending:  make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, nil
}

// Start begins watching. Files already present are scheduled when
// IngestExisting is set.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.opts.Dir, err)
	}

	if w.opts.IngestExisting {
		entries, err := os.ReadDir(w.opts.Dir)
		if err != nil {
			return fmt.Errorf("reading inbox: %w", err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				w.schedule(ctx, filepath.Join(w.opts.Dir, e.Name()))
			}
		}
	}

	w.logger.Info(ctx, "watching inbox", zap.String("dir", w.opts.Dir), zap.Duration("debounce", w.opts.Debounce))
	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop cancels pending ingestions, waits for running ones and closes the
// Events channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.stopped = true
		for path, t := range w.pending {
			if t.Stop() {
				w.wg.Done()
			}
			delete(w.pending, path)
		}
		w.mu.Unlock()

		w.wg.Wait()
		close(w.events)
	})
}

// Events returns the channel of ingestion attempts. Events are dropped
// when nobody reads them.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.schedule(ctx, event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.cancel(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// eligible reports whether path is a document the watcher should ingest.
func eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	return segment.Supported(name)
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !eligible(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.opts.Debounce)
		return
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.wg.Done()
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	ev := Event{Path: path, Time: time.Now()}
	ctx = logging.WithDocument(ctx, filepath.Base(path))

	data, err := w.read(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err == nil {
		ev.Result, err = w.ingester.Ingest(ctx, data, filepath.Base(path))
	}

	switch {
	case err == nil:
		ev.Outcome = OutcomeIngested
		w.logger.Info(ctx, "ingested inbox file",
			zap.Int("chunks", ev.Result.ChunksCreated), zap.Int("pages", ev.Result.Pages))
	case errors.Is(err, library.ErrDocumentExists):
		ev.Outcome = OutcomeSkipped
		w.logger.Info(ctx, "inbox file already in library")
	default:
		ev.Outcome = OutcomeFailed
		w.logger.Warn(ctx, "inbox file not ingested", zap.Error(err))
	}
	ev.Err = err

	select {
	case w.events <- ev:
	default:
	}
}

func (w *Watcher) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if w.opts.MaxBytes > 0 && info.Size() > w.opts.MaxBytes {
		return nil, &library.IngestionError{
			Filename: filepath.Base(path),
			Reason:   fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), w.opts.MaxBytes),
			Err:      library.ErrCorruptDocument,
		}
	}
	return os.ReadFile(path)
}
