package segment

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

var pdfMagic = []byte("%PDF-")

var textExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

// Supported reports whether filename has an extension Extract accepts.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".pdf" || textExtensions[ext]
}

// Extract returns the pages of a PDF or plain-text document. PDFs are
// recognized by their magic bytes; text files by extension, split into
// pages on form feeds.
func Extract(ctx context.Context, data []byte, filename string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		pages []Page
		err   error
	)
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		pages, err = extractPDF(ctx, data)
		if err != nil {
			return nil, &library.IngestionError{Filename: filename, Reason: err.Error(), Err: library.ErrCorruptDocument}
		}
	case ext == ".pdf":
		return nil, &library.IngestionError{Filename: filename, Reason: "not a PDF file", Err: library.ErrCorruptDocument}
	case textExtensions[ext]:
		if !utf8.Valid(data) {
			return nil, &library.IngestionError{Filename: filename, Reason: "text is not valid UTF-8", Err: library.ErrCorruptDocument}
		}
		pages = splitTextPages(string(data))
	default:
		return nil, &library.IngestionError{
			Filename: filename,
			Reason:   fmt.Sprintf("unsupported format %q (want .pdf, .txt or .md)", ext),
			Err:      library.ErrUnsupportedFormat,
		}
	}

	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return pages, nil
		}
	}
	return nil, &library.IngestionError{
		Filename: filename,
		Reason:   "document has no extractable text (scanned or empty)",
		Err:      library.ErrNoExtractableText,
	}
}

func splitTextPages(text string) []Page {
	text = strings.TrimPrefix(text, "\ufeff")
	parts := strings.Split(text, "\f")
	pages := make([]Page, len(parts))
	for i, part := range parts {
		pages[i] = Page{Number: i + 1, Text: part}
	}
	return pages
}

// extractPDF reads every page's plain text. The PDF parser panics on some
// malformed inputs; those become errors.
func extractPDF(ctx context.Context, data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	docs, err := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading PDF: %w", err)
	}

	pages = make([]Page, 0, len(docs))
	for i, d := range docs {
		num := i + 1
		if v, ok := metaInt(d.Metadata, "page"); ok && v > 0 {
			num = v
		}
		pages = append(pages, Page{Number: num, Text: d.PageContent})
	}
	return pages, nil
}

func metaInt(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
