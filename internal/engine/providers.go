package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// ProviderConfigRequest changes the provider configuration. Nil fields are
// left as they are.
type ProviderConfigRequest struct {
	Provider              string   `json:"provider,omitempty"`
	Credentials           *string  `json:"credentials,omitempty"`
	EnableFallback        *bool    `json:"enable_fallback,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
	AllowDataTransmission *bool    `json:"allow_data_transmission,omitempty"`
}

// ProviderStatus reports every provider with its health, usage and the
// current and fallback selection.
func (e *Engine) ProviderStatus(ctx context.Context) providers.Status {
	return e.registry.Status(ctx)
}

// SetProviderConfig validates and applies req. An invalid request fails
// with *library.ConfigError and changes nothing.
func (e *Engine) SetProviderConfig(ctx context.Context, req ProviderConfigRequest) error {
	var u providers.Update
	if req.Provider != "" {
		id, err := providers.ParseID(req.Provider)
		if err != nil {
			return err
		}
		u.Provider = &id
	}
	if req.Credentials != nil {
		secret := config.Secret(*req.Credentials)
		u.Credential = &secret
	}
	u.EnableFallback = req.EnableFallback
	u.Temperature = req.Temperature
	u.AllowDataTransmission = req.AllowDataTransmission

	if err := e.registry.Configure(ctx, u); err != nil {
		e.logger.Warn(ctx, "provider configuration rejected", zap.Error(err))
		return err
	}
	return nil
}

// ValidateCredentials checks each credential against its provider without
// storing it. Unknown provider names are reported as failed validations.
func (e *Engine) ValidateCredentials(ctx context.Context, credentials map[string]string) []providers.Validation {
	names := make([]string, 0, len(credentials))
	for name := range credentials {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]providers.Validation, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		id, err := providers.ParseID(name)
		if err != nil {
			out[i] = providers.Validation{Provider: providers.ID(name), Detail: err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, id providers.ID, credential config.Secret) {
			defer wg.Done()
			out[i] = e.registry.Validate(ctx, id, credential)
		}(i, id, config.Secret(credentials[name]))
	}
	wg.Wait()
	return out
}
