package providers

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
)

// UsageStore persists per-day usage of metered providers. The catalog
// implements it.
type UsageStore interface {
	AddUsage(ctx context.Context, provider, day string, requests, tokens int64, cost float64) (catalog.Usage, error)
	Usage(ctx context.Context, provider, day string) (catalog.Usage, error)
	ResetUsage(ctx context.Context, provider, day string) error
}

var _ UsageStore = (*catalog.Catalog)(nil)

// memoryUsage keeps usage for the lifetime of the process.
type memoryUsage struct {
	mu   sync.Mutex
	rows map[[2]string]catalog.Usage
}

func newMemoryUsage() *memoryUsage {
	return &memoryUsage{rows: map[[2]string]catalog.Usage{}}
}

func (m *memoryUsage) AddUsage(_ context.Context, provider, day string, requests, tokens int64, cost float64) (catalog.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{provider, day}
	u := m.rows[key]
	u.Provider, u.Day = provider, day
	u.Requests += requests
	u.Tokens += tokens
	u.Cost += cost
	m.rows[key] = u
	return u, nil
}

func (m *memoryUsage) Usage(_ context.Context, provider, day string) (catalog.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[[2]string{provider, day}]
	if !ok {
		return catalog.Usage{Provider: provider, Day: day}, nil
	}
	return u, nil
}

func (m *memoryUsage) ResetUsage(_ context.Context, provider, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, [2]string{provider, day})
	return nil
}
