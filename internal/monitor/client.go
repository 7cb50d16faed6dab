package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// Client reads statistics from a running scriptorium HTTP server.
type Client struct {
	baseURL string
	client  *http.Client
}

// Snapshot is one poll of the server.
type Snapshot struct {
	Stats     engine.Statistics
	Providers providers.Status
	Latency   time.Duration
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Stats fetches GET /api/v1/stats.
func (c *Client) Stats(ctx context.Context) (engine.Statistics, error) {
	var stats engine.Statistics
	err := c.get(ctx, "/api/v1/stats", &stats)
	return stats, err
}

// Providers fetches GET /api/v1/providers.
func (c *Client) Providers(ctx context.Context) (providers.Status, error) {
	var st providers.Status
	err := c.get(ctx, "/api/v1/providers", &st)
	return st, err
}

// Snapshot fetches statistics and provider status. Latency is the round
// trip of the statistics request.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	stats, err := c.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	latency := time.Since(start)

	st, err := c.Providers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Stats: stats, Providers: st, Latency: latency}, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
