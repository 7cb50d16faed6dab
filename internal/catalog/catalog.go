package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/scriptorium/internal/catalog/migrations"
)

// FileName is the catalog database inside the data directory.
const FileName = "catalog.db"

// Status is the lifecycle state of a document row.
type Status string

// Document statuses.
const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusDeleting Status = "deleting"
)

// ErrEmbeddingSpaceMismatch is returned when a library is opened with an
// embedder other than the one it was built with.
var ErrEmbeddingSpaceMismatch = errors.New("embedding space does not match the library")

const (
	metaEmbeddingModel     = "embedding_model"
	metaEmbeddingDimension = "embedding_dimension"
)

// Catalog is the sqlite-backed document registry. Safe for concurrent use.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog in dataDir.
func Open(ctx context.Context, dataDir string) (*Catalog, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	c := &Catalog{db: db, path: path}
	if err := c.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Catalog) migrate(ctx context.Context, fsys embed.FS) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := c.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// EnsureEmbeddingSpace records model and dimension on first use, and fails
// with ErrEmbeddingSpaceMismatch when a different space was recorded.
func (c *Catalog) EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var storedModel, storedDim string
	err = tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaEmbeddingModel).Scan(&storedModel)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?), (?, ?)",
			metaEmbeddingModel, model, metaEmbeddingDimension, strconv.Itoa(dimension)); err != nil {
			return fmt.Errorf("recording embedding space: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("reading embedding space: %w", err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaEmbeddingDimension).Scan(&storedDim); err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if storedModel != model || storedDim != strconv.Itoa(dimension) {
		return fmt.Errorf("%w: library uses %s (%s dimensions), embedder is %s (%d dimensions); re-index to switch",
			ErrEmbeddingSpaceMismatch, storedModel, storedDim, model, dimension)
	}
	return nil
}
