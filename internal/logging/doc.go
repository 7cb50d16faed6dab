// Package logging wraps zap for scriptorium.
//
// Every Logger method takes a context and prepends the correlation fields
// found there: trace and span ids from OpenTelemetry, the query id, the
// document being ingested, and the transport request id.
//
//	ctx = logging.WithQueryID(ctx, id)
//	logger.Info(ctx, "answer generated", zap.Int("sources", n))
//
// Output goes to stdout through a RedactingEncoder, and optionally to an
// OpenTelemetry LoggerProvider through the otelzap bridge. Entries below
// Error are sampled; errors never are. TraceLevel (-2) sits below Debug.
//
// Provider credentials are logged with Secret, which writes only the length.
package logging
