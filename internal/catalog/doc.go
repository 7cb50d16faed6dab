// Package catalog is the document registry of a library.
//
// It records every document with its ingestion status, the committed chunks
// with their annotations, the embedding space the library was created with,
// and per-day provider usage. It is backed by modernc.org/sqlite, a pure Go
// SQLite implementation, in WAL mode.
//
// # Document status
//
// A document row moves through pending → ready → deleting. Chunk rows are
// written together with the pending → ready transition, in one transaction,
// so a reader never observes a half-committed document. Rows left pending or
// deleting by a crash are reported by Stale for the vector index to clean up.
package catalog
