package logging

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxContextValueLen = 256

type queryCtxKey struct{}
type documentCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields: trace, query, document, request.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := QueryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("query.id", id))
	}
	if doc := DocumentFromContext(ctx); doc != "" {
		fields = append(fields, zap.String("document", doc))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// sanitizeValue keeps context values printable and bounded. Filenames come
// from uploads, so they are never trusted as-is.
func sanitizeValue(v string) string {
	if !utf8.ValidString(v) {
		v = strings.ToValidUTF8(v, "?")
	}
	v = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v)
	if len(v) > maxContextValueLen {
		cut := maxContextValueLen
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		v = v[:cut]
	}
	return v
}

// WithQueryID tags the context with a query id.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryCtxKey{}, sanitizeValue(id))
}

// QueryIDFromContext returns the query id or "".
func QueryIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(queryCtxKey{}).(string)
	return v
}

// WithDocument tags the context with the document being processed.
func WithDocument(ctx context.Context, filename string) context.Context {
	return context.WithValue(ctx, documentCtxKey{}, sanitizeValue(filename))
}

// DocumentFromContext returns the document filename or "".
func DocumentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(documentCtxKey{}).(string)
	return v
}

// WithRequestID tags the context with a transport request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, sanitizeValue(id))
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestCtxKey{}).(string)
	return v
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
