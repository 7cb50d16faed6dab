package catalog

import (
	"context"
	"fmt"
	"time"
)

// Stats counts committed chunks.
type Stats struct {
	TotalChunks int            `json:"total_chunks"`
	Documents   int            `json:"total_documents"`
	PerDocument map[string]int `json:"chunks_per_document"`
}

// Breakdown counts chunks by type and documents by language and tradition.
type Breakdown struct {
	ChunkTypes map[string]int `json:"chunk_types"`
	Languages  map[string]int `json:"languages"`
	Traditions map[string]int `json:"traditions"`
}

// Stats returns chunk counts of ready documents.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	s := Stats{PerDocument: map[string]int{}}
	rows, err := c.db.QueryContext(ctx, `
		SELECT d.filename, COUNT(c.id)
		FROM documents d LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.status = ?
		GROUP BY d.id
	`, StatusReady)
	if err != nil {
		return s, fmt.Errorf("counting chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return s, fmt.Errorf("scanning counts: %w", err)
		}
		s.PerDocument[name] = n
		s.TotalChunks += n
		s.Documents++
	}
	return s, rows.Err()
}

// Breakdown returns distribution counts over ready documents.
func (c *Catalog) Breakdown(ctx context.Context) (Breakdown, error) {
	b := Breakdown{
		ChunkTypes: map[string]int{},
		Languages:  map[string]int{},
		Traditions: map[string]int{},
	}
	queries := []struct {
		sql string
		out map[string]int
	}{
		{`SELECT c.chunk_type, COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id
			WHERE d.status = ? GROUP BY c.chunk_type`, b.ChunkTypes},
		{`SELECT language, COUNT(*) FROM documents WHERE status = ? GROUP BY language`, b.Languages},
		{`SELECT tradition, COUNT(*) FROM documents WHERE status = ? GROUP BY tradition`, b.Traditions},
	}
	for _, q := range queries {
		if err := c.countInto(ctx, q.out, q.sql, StatusReady); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (c *Catalog) countInto(ctx context.Context, out map[string]int, query string, args ...any) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("counting: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning counts: %w", err)
		}
		out[key] = n
	}
	return rows.Err()
}

// Usage is one provider's consumption on one UTC day.
type Usage struct {
	Provider string  `json:"provider"`
	Day      string  `json:"day"`
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"estimated_cost"`
}

// Day formats t as the UTC day key used for usage rows.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AddUsage adds to the usage row of provider on day and returns the totals.
func (c *Catalog) AddUsage(ctx context.Context, provider, day string, requests, tokens int64, cost float64) (Usage, error) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO provider_usage (provider, day, requests, tokens, cost) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, day) DO UPDATE SET
			requests = requests + excluded.requests,
			tokens = tokens + excluded.tokens,
			cost = cost + excluded.cost
	`, provider, day, requests, tokens, cost)
	if err != nil {
		return Usage{}, fmt.Errorf("recording usage: %w", err)
	}
	return c.Usage(ctx, provider, day)
}

// Usage returns the usage of provider on day; zero when none was recorded.
func (c *Catalog) Usage(ctx context.Context, provider, day string) (Usage, error) {
	u := Usage{Provider: provider, Day: day}
	rows, err := c.db.QueryContext(ctx,
		"SELECT requests, tokens, cost FROM provider_usage WHERE provider = ? AND day = ?", provider, day)
	if err != nil {
		return u, fmt.Errorf("reading usage: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.Requests, &u.Tokens, &u.Cost); err != nil {
			return u, fmt.Errorf("scanning usage: %w", err)
		}
	}
	return u, rows.Err()
}

// ResetUsage clears the usage of provider on day.
func (c *Catalog) ResetUsage(ctx context.Context, provider, day string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM provider_usage WHERE provider = ? AND day = ?", provider, day); err != nil {
		return fmt.Errorf("resetting usage: %w", err)
	}
	return nil
}
