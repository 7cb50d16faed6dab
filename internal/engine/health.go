package engine

import (
	"context"

	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// Component status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// VectorStoreHealth reports the index.
type VectorStoreHealth struct {
	Status string `json:"status"`
	// DocumentCount is the number of indexed passages.
	DocumentCount int    `json:"document_count"`
	Documents     int    `json:"documents"`
	Error         string `json:"error,omitempty"`
}

// LLMHealth reports the current provider.
type LLMHealth struct {
	Status        string       `json:"status"`
	Provider      providers.ID `json:"provider"`
	Model         string       `json:"model,omitempty"`
	ContextLength int          `json:"context_length,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// ComponentHealth is a status with no details.
type ComponentHealth struct {
	Status string `json:"status"`
}

// Health is the health report of every component.
type Health struct {
	Status       string            `json:"status"`
	VectorStore  VectorStoreHealth `json:"vector_store"`
	LLMClient    LLMHealth         `json:"llm_client"`
	PDFProcessor ComponentHealth   `json:"pdf_processor"`
}

// OK reports whether every component is healthy.
func (h Health) OK() bool { return h.Status == StatusHealthy }

// Health checks the index and the current provider.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:       StatusHealthy,
		VectorStore:  VectorStoreHealth{Status: StatusHealthy},
		PDFProcessor: ComponentHealth{Status: StatusHealthy},
	}

	if err := e.index.Ping(ctx); err != nil {
		h.VectorStore.Status = StatusUnhealthy
		h.VectorStore.Error = err.Error()
	} else if stats, err := e.index.Stats(ctx); err != nil {
		h.VectorStore.Status = StatusUnhealthy
		h.VectorStore.Error = err.Error()
	} else {
		h.VectorStore.DocumentCount = stats.TotalChunks
		h.VectorStore.Documents = stats.Documents
	}

	current := e.registry.Current()
	ph := e.registry.HealthCheck(ctx, current)
	h.LLMClient = LLMHealth{
		Status:        ph.Status,
		Provider:      current,
		Model:         ph.Model,
		ContextLength: ph.ContextLength,
		Error:         ph.Detail,
	}

	if h.VectorStore.Status != StatusHealthy || !ph.OK() {
		h.Status = StatusUnhealthy
	}
	return h
}
