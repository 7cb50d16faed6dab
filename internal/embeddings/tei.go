package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIConfig configures a text-embeddings-inference client.
type TEIConfig struct {
	// BaseURL of the TEI server, for example http://localhost:8080.
	BaseURL string
	// Model served by the TEI server. Recorded as the embedding space.
	Model string
	// Dimension of the served model. Detected from Model when zero.
	Dimension int
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// TEI embeds through a text-embeddings-inference server.
type TEI struct {
	config    TEIConfig
	client    *http.Client
	dimension int
}

// NewTEI creates a TEI client.
func NewTEI(cfg TEIConfig) (*TEI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}
	return &TEI{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		dimension: dim,
	}, nil
}

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments embeds a batch of passages.
func (s *TEI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (s *TEI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

func (s *TEI) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("%w: server returned dimension %d, expected %d", ErrEmbeddingFailed, len(v), s.dimension)
		}
	}
	return vectors, nil
}

// Model returns the served model name.
func (s *TEI) Model() string { return s.config.Model }

// Dimension returns the configured or detected dimension.
func (s *TEI) Dimension() int { return s.dimension }

// Close is a no-op for TEI since it uses HTTP.
func (s *TEI) Close() error { return nil }
