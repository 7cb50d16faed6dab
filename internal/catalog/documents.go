package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// seqShift leaves room for 2^20 chunks per document in a sequence number.
const seqShift = 20

// Seq returns the insertion sequence of a chunk: documents in creation
// order, then chunks in document order.
func Seq(documentID int64, ordinal int) int64 {
	return documentID<<seqShift | int64(ordinal)
}

// Entry is a document row with its lifecycle state.
type Entry struct {
	ID       int64
	Status   Status
	Document library.Document
}

// ChunkRecord is a committed chunk with its insertion sequence.
type ChunkRecord struct {
	library.Chunk
	Seq     int64
	AddedAt time.Time
}

// BeginDocument registers doc as pending and returns its row id. A filename
// already present in any state fails with library.ErrDocumentExists.
func (c *Catalog) BeginDocument(ctx context.Context, doc library.Document) (int64, error) {
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (filename, status, pages, language, tradition, hash, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO NOTHING
	`, doc.Filename, StatusPending, doc.Pages, doc.Language, doc.Tradition, doc.Hash, doc.AddedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("registering document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, library.ErrDocumentExists
	}
	return res.LastInsertId()
}

// CommitDocument stores chunks and their terms and marks the document ready,
// in one transaction.
func (c *Catalog) CommitDocument(ctx context.Context, documentID int64, chunks []library.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, page, ordinal, chunk_type, content, words, seq, annotations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	termStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_terms (chunk_id, term, category, confidence) VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id, term) DO UPDATE SET confidence = MAX(confidence, excluded.confidence)
	`)
	if err != nil {
		return err
	}
	defer termStmt.Close()

	for _, ch := range chunks {
		annotations := ch.Annotations
		if annotations == nil {
			annotations = []library.Annotation{}
		}
		encoded, err := json.Marshal(annotations)
		if err != nil {
			return fmt.Errorf("encoding annotations of %s: %w", ch.ID, err)
		}
		if _, err := chunkStmt.ExecContext(ctx, ch.ID, documentID, ch.Page, ch.Ordinal, ch.Type,
			ch.Content, ch.Words, Seq(documentID, ch.Ordinal), string(encoded)); err != nil {
			return fmt.Errorf("storing chunk %s: %w", ch.ID, err)
		}
		for _, a := range ch.Annotations {
			if _, err := termStmt.ExecContext(ctx, ch.ID, a.Term, a.Category, a.Confidence); err != nil {
				return fmt.Errorf("storing term %q of %s: %w", a.Term, ch.ID, err)
			}
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, chunks = ? WHERE id = ? AND status = ?
	`, StatusReady, len(chunks), documentID, StatusPending)
	if err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("document %d is not pending", documentID)
	}
	return tx.Commit()
}

// MarkDeleting hides a ready document from readers and returns its row.
func (c *Catalog) MarkDeleting(ctx context.Context, filename string) (Entry, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	e, err := scanEntry(tx.QueryRowContext(ctx, entryQuery+" WHERE filename = ?", filename))
	if err != nil {
		return Entry{}, err
	}
	if e.Status != StatusReady {
		return Entry{}, fmt.Errorf("%w: %s is %s", library.ErrDocumentNotFound, filename, e.Status)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET status = ? WHERE id = ?", StatusDeleting, e.ID); err != nil {
		return Entry{}, fmt.Errorf("marking document deleting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, err
	}
	e.Status = StatusDeleting
	return e, nil
}

// RemoveDocument deletes the row and, by cascade, its chunks and terms.
func (c *Catalog) RemoveDocument(ctx context.Context, documentID int64) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return fmt.Errorf("removing document: %w", err)
	}
	return nil
}

// Stale returns documents left pending or deleting.
func (c *Catalog) Stale(ctx context.Context) ([]Entry, error) {
	return c.entries(ctx, entryQuery+" WHERE status != ? ORDER BY id", StatusReady)
}

// Document returns a ready document.
func (c *Catalog) Document(ctx context.Context, filename string) (library.Document, error) {
	e, err := scanEntry(c.db.QueryRowContext(ctx, entryQuery+" WHERE filename = ? AND status = ?", filename, StatusReady))
	if err != nil {
		return library.Document{}, err
	}
	return e.Document, nil
}

// Documents returns every ready document, oldest first.
func (c *Catalog) Documents(ctx context.Context) ([]library.Document, error) {
	entries, err := c.entries(ctx, entryQuery+" WHERE status = ? ORDER BY added_at, id", StatusReady)
	if err != nil {
		return nil, err
	}
	docs := make([]library.Document, len(entries))
	for i, e := range entries {
		docs[i] = e.Document
	}
	return docs, nil
}

const entryQuery = `SELECT id, filename, status, pages, chunks, language, tradition, hash, added_at FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e       Entry
		addedAt int64
	)
	err := row.Scan(&e.ID, &e.Document.Filename, &e.Status, &e.Document.Pages, &e.Document.Chunks,
		&e.Document.Language, &e.Document.Tradition, &e.Document.Hash, &addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, library.ErrDocumentNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scanning document: %w", err)
	}
	e.Document.AddedAt = time.Unix(addedAt, 0).UTC()
	return e, nil
}

func (c *Catalog) entries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const chunkQuery = `
	SELECT c.id, d.filename, c.page, c.ordinal, c.chunk_type, c.content, c.words, c.seq, c.annotations, d.added_at
	FROM chunks c JOIN documents d ON d.id = c.document_id`

// Chunks returns the chunks of a ready document in document order.
func (c *Catalog) Chunks(ctx context.Context, filename string) ([]ChunkRecord, error) {
	if _, err := c.Document(ctx, filename); err != nil {
		return nil, err
	}
	return c.chunks(ctx, chunkQuery+" WHERE d.filename = ? AND d.status = ? ORDER BY c.ordinal", filename, StatusReady)
}

// Chunk returns one committed chunk of a ready document.
func (c *Catalog) Chunk(ctx context.Context, id string) (ChunkRecord, error) {
	recs, err := c.chunks(ctx, chunkQuery+" WHERE c.id = ? AND d.status = ?", id, StatusReady)
	if err != nil {
		return ChunkRecord{}, err
	}
	if len(recs) == 0 {
		return ChunkRecord{}, fmt.Errorf("%w: chunk %s", library.ErrDocumentNotFound, id)
	}
	return recs[0], nil
}

// Visible returns the chunks among ids that belong to ready documents.
func (c *Catalog) Visible(ctx context.Context, ids []string) (map[string]ChunkRecord, error) {
	out := make(map[string]ChunkRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, StatusReady)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	recs, err := c.chunks(ctx, chunkQuery+" WHERE d.status = ? AND c.id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

// ChunksWithTerm returns chunks annotated with term (case-insensitive),
// most confident first, then in insertion order.
func (c *Catalog) ChunksWithTerm(ctx context.Context, term string, limit int) ([]ChunkRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.chunks(ctx, chunkQuery+`
		JOIN chunk_terms t ON t.chunk_id = c.id
		WHERE t.term = ? AND d.status = ?
		ORDER BY t.confidence DESC, c.seq
		LIMIT ?`, strings.TrimSpace(term), StatusReady, limit)
}

func (c *Catalog) chunks(ctx context.Context, query string, args ...any) ([]ChunkRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var (
			r           ChunkRecord
			annotations string
			addedAt     int64
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Page, &r.Ordinal, &r.Type, &r.Content, &r.Words,
			&r.Seq, &annotations, &addedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(annotations), &r.Annotations); err != nil {
			return nil, fmt.Errorf("decoding annotations of %s: %w", r.ID, err)
		}
		if len(r.Annotations) == 0 {
			r.Annotations = nil
		}
		r.AddedAt = time.Unix(addedAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
