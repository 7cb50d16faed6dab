package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/annotate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/segment"
)

// IngestResult describes a newly ingested document.
type IngestResult struct {
	Filename          string `json:"filename"`
	ChunksCreated     int    `json:"chunks_created"`
	Pages             int    `json:"pages"`
	Language          string `json:"language"`
	TraditionEstimate string `json:"tradition_estimate"`
	DocumentHash      string `json:"document_hash"`
}

// Ingest extracts, segments, annotates and indexes a document. Only the base
// name of filename is kept. A filename already in the library fails with
// library.ErrDocumentExists; delete it first to replace it. On failure
// nothing of the document stays visible.
func (e *Engine) Ingest(ctx context.Context, data []byte, filename string) (IngestResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return IngestResult{}, &library.IngestionError{Filename: filename, Reason: "filename is required", Err: library.ErrUnsupportedFormat}
	}

	ctx = logging.WithDocument(ctx, filename)
	ctx, span := tracer.Start(ctx, "engine.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("document", filename), attribute.Int("bytes", len(data)))

	start := time.Now()
	res, err := e.ingest(ctx, data, filename)
	ingestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		ingestTotal.WithLabelValues(ingestResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "ingestion failed", zap.Error(err))
		return IngestResult{}, err
	}

	ingestTotal.WithLabelValues("success").Inc()
	span.SetStatus(codes.Ok, "success")
	e.logger.Info(ctx, "document ingested",
		zap.Int("chunks", res.ChunksCreated),
		zap.Int("pages", res.Pages),
		zap.String("language", res.Language),
		zap.String("tradition", res.TraditionEstimate),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (e *Engine) ingest(ctx context.Context, data []byte, filename string) (IngestResult, error) {
	unlock := e.ingesting.Lock(filename)
	defer unlock()

	if _, err := e.index.Document(ctx, filename); err == nil {
		return IngestResult{}, exists(filename)
	} else if !errors.Is(err, library.ErrDocumentNotFound) {
		return IngestResult{}, err
	}

	pages, err := segment.Extract(ctx, data, filename)
	if err != nil {
		return IngestResult{}, err
	}
	doc := segment.Describe(filename, pages)

	chunks, err := e.segmenter.Segment(filename, pages)
	if err != nil {
		return IngestResult{}, err
	}

	// A glossary inside the document extends the vocabulary for this
	// document only.
	vocab := e.vocabulary
	var text strings.Builder
	for _, p := range pages {
		text.WriteString(p.Text)
		text.WriteByte('\n')
	}
	if glossary := annotate.ExtractGlossary(text.String()); len(glossary) > 0 {
		vocab = vocab.With(glossary)
		e.logger.Debug(ctx, "document glossary found", zap.Int("terms", len(glossary)))
	}
	chunks = vocab.AnnotateChunks(chunks)

	doc.Chunks = len(chunks)
	doc.AddedAt = time.Now().UTC()
	if _, err := e.index.Upsert(ctx, doc, chunks); err != nil {
		if errors.Is(err, library.ErrDocumentExists) {
			return IngestResult{}, exists(filename)
		}
		return IngestResult{}, err
	}

	return IngestResult{
		Filename:          filename,
		ChunksCreated:     len(chunks),
		Pages:             doc.Pages,
		Language:          doc.Language,
		TraditionEstimate: doc.Tradition,
		DocumentHash:      doc.Hash,
	}, nil
}

func exists(filename string) error {
	return &library.IngestionError{
		Filename: filename,
		Reason:   "a document with this name is already in the library; delete it first to replace it",
		Err:      library.ErrDocumentExists,
	}
}

func ingestResult(err error) string {
	var (
		ie *library.IngestionError
		xe *library.IndexError
	)
	switch {
	case errors.As(err, &ie):
		return "rejected"
	case errors.As(err, &xe):
		return "index_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
