package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/catalog"
	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/secrets"
)

const healthCheckTimeout = 15 * time.Second

// Factory builds a provider from its configuration. Tests substitute fakes.
type Factory func(id ID, cfg config.ProviderConfig) (Provider, error)

// Options configures a Registry.
type Options struct {
	// Usage persists daily usage. Defaults to an in-memory store.
	Usage UsageStore
	// Factory defaults to New with Client.
	Factory Factory
	Client  ClientOptions
	Logger  *zap.Logger
	// Now is the clock that decides the usage day. Defaults to time.Now.
	Now func() time.Time
}

// Update is a partial configuration change. Nil fields are left as is.
type Update struct {
	// Provider becomes current.
	Provider *ID
	// Credential is stored for Provider, or for the current provider when
	// Provider is nil.
	Credential            *config.Secret
	EnableFallback        *bool
	Temperature           *float64
	AllowDataTransmission *bool
}

// Validation is the outcome of a live credential check.
type Validation struct {
	Provider ID     `json:"provider"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail,omitempty"`
}

// ProviderStatus describes one provider. Credentials are reported only as
// set or unset.
type ProviderStatus struct {
	ID            ID             `json:"provider"`
	Enabled       bool           `json:"enabled"`
	Configured    bool           `json:"configured"`
	CredentialSet bool           `json:"credential_set"`
	Metered       bool           `json:"metered"`
	Model         string         `json:"model"`
	Current       bool           `json:"current"`
	Fallback      bool           `json:"fallback"`
	Available     bool           `json:"available"`
	DailyCap      int            `json:"daily_cap,omitempty"`
	Usage         *catalog.Usage `json:"usage,omitempty"`
	Health        *Health        `json:"health,omitempty"`
}

// Status is the registry state.
type Status struct {
	Current               ID               `json:"current"`
	Fallback              ID               `json:"fallback"`
	EnableFallback        bool             `json:"enable_fallback"`
	AllowDataTransmission bool             `json:"allow_data_transmission"`
	Providers             []ProviderStatus `json:"providers"`
}

// Registry holds the configuration, clients and usage of every provider.
// It is safe for concurrent use.
type Registry struct {
	// configure serializes Configure; mu guards the fields below it.
	configure sync.Mutex

	mu        sync.RWMutex
	cfg       config.ProvidersConfig
	providers map[ID]Provider
	scrubber  *secrets.Scrubber

	usage   UsageStore
	factory Factory
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry validates cfg and builds a client for every enabled provider
// that has what it needs to run.
func NewRegistry(cfg config.ProvidersConfig, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Usage == nil {
		opts.Usage = newMemoryUsage()
	}
	if opts.Factory == nil {
		client := opts.Client
		if client.Logger == nil {
			client.Logger = opts.Logger
		}
		opts.Factory = func(id ID, pc config.ProviderConfig) (Provider, error) {
			return New(id, pc, client)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		usage:   opts.Usage,
		factory: opts.Factory,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	built, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.cfg, r.providers, r.scrubber = cfg, built, scrubberFor(cfg)
	return r, nil
}

func (r *Registry) build(cfg config.ProvidersConfig) (map[ID]Provider, error) {
	out := make(map[ID]Provider, len(IDs))
	for _, id := range IDs {
		pc, _ := cfg.Get(string(id))
		if !pc.Enabled || (id.Metered() && !pc.APIKey.IsSet()) {
			continue
		}
		p, err := r.factory(id, *pc)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

func scrubberFor(cfg config.ProvidersConfig) *secrets.Scrubber {
	var keys []string
	for _, id := range IDs {
		pc, _ := cfg.Get(string(id))
		if pc.APIKey.IsSet() {
			keys = append(keys, pc.APIKey.Value())
		}
	}
	return secrets.Default(keys...)
}

// Current returns the current provider.
func (r *Registry) Current() ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ID(r.cfg.Current)
}

// Fallback returns the fallback provider and whether a fallback call
// should be made: fallback is enabled and differs from the current one.
func (r *Registry) Fallback() (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ID(r.cfg.Fallback), r.cfg.EnableFallback && r.cfg.Fallback != r.cfg.Current
}

// Config returns a copy of the provider configuration.
func (r *Registry) Config() config.ProvidersConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Params returns the sampling parameters configured for id.
func (r *Registry) Params(id ID) Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pc, ok := r.cfg.Get(string(id))
	if !ok {
		return Params{}
	}
	return Params{Temperature: pc.Temperature, TopP: pc.TopP, MaxTokens: pc.MaxTokens}
}

// Provider returns the client for id.
func (r *Registry) Provider(id ID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	pc, ok := r.cfg.Get(string(id))
	switch {
	case !ok:
		return nil, &library.ProviderError{Provider: string(id), Kind: library.ProviderUnavailable, Err: errors.New("unknown provider")}
	case !pc.Enabled:
		return nil, &library.ProviderError{Provider: string(id), Kind: library.ProviderUnavailable, Err: errors.New("provider is disabled")}
	default:
		return nil, &library.ProviderError{Provider: string(id), Kind: library.ProviderAuth, Err: errors.New("no credential configured")}
	}
}

// Available returns nil when id can take a call now: it is configured and,
// if metered, under its daily cap.
func (r *Registry) Available(ctx context.Context, id ID) error {
	if _, err := r.Provider(id); err != nil {
		return err
	}
	if !id.Metered() {
		return nil
	}
	limit := r.Config().DailyCap
	if limit <= 0 {
		return nil
	}
	u, err := r.usage.Usage(ctx, string(id), catalog.Day(r.now()))
	if err != nil {
		return fmt.Errorf("reading usage of %s: %w", id, err)
	}
	if u.Requests >= int64(limit) {
		capReached.WithLabelValues(string(id)).Inc()
		return &library.ProviderError{
			Provider: string(id),
			Kind:     library.ProviderQuota,
			Err:      fmt.Errorf("daily limit of %d requests reached", limit),
		}
	}
	return nil
}

// RecordUsage counts one request of tokens against a metered provider.
// Calls to the local provider are not recorded.
func (r *Registry) RecordUsage(ctx context.Context, id ID, tokens int) (catalog.Usage, error) {
	if !id.Metered() {
		return catalog.Usage{Provider: string(id)}, nil
	}
	cfg := r.Config()
	pc, ok := cfg.Get(string(id))
	if !ok {
		return catalog.Usage{}, fmt.Errorf("unknown provider %q", id)
	}
	cost := float64(tokens) / 1000 * pc.CostPer1KTokens

	u, err := r.usage.AddUsage(ctx, string(id), catalog.Day(r.now()), 1, int64(tokens), cost)
	if err != nil {
		return u, err
	}
	requestsTotal.WithLabelValues(string(id)).Inc()
	tokensTotal.WithLabelValues(string(id)).Add(float64(tokens))

	if cfg.DailyCap > 0 && u.Requests >= int64(cfg.DailyCap) {
		r.logger.Warn("provider reached its daily cap",
			zap.String("provider", string(id)),
			zap.Int64("requests", u.Requests),
			zap.Int("daily_cap", cfg.DailyCap))
	} else if cfg.DailyCap > 0 && float64(u.Requests) > 0.8*float64(cfg.DailyCap) {
		r.logger.Info("provider approaching its daily cap",
			zap.String("provider", string(id)),
			zap.Int64("requests", u.Requests),
			zap.Int("daily_cap", cfg.DailyCap))
	}
	return u, nil
}

// ResetUsage clears today's usage of id, making it available again.
func (r *Registry) ResetUsage(ctx context.Context, id ID) error {
	return r.usage.ResetUsage(ctx, string(id), catalog.Day(r.now()))
}

// SetCurrent selects id as the current provider.
func (r *Registry) SetCurrent(ctx context.Context, id ID) error {
	return r.Configure(ctx, Update{Provider: &id})
}

// Configure applies u. The result is validated before it takes effect: a
// provider without a credential cannot be selected, and neither can an
// unhealthy one while fallback is disabled. Failures are
// *library.ConfigError and leave the registry unchanged.
func (r *Registry) Configure(ctx context.Context, u Update) error {
	r.configure.Lock()
	defer r.configure.Unlock()

	next := r.Config()
	target := ID(next.Current)
	if u.Provider != nil {
		id, err := ParseID(string(*u.Provider))
		if err != nil {
			return err
		}
		target = id
		next.Current = string(id)
	}
	pc, _ := next.Get(string(target))
	if u.Credential != nil {
		pc.APIKey = *u.Credential
	}
	if u.Temperature != nil {
		pc.Temperature = *u.Temperature
	}
	if u.EnableFallback != nil {
		next.EnableFallback = *u.EnableFallback
	}
	if u.AllowDataTransmission != nil {
		next.AllowDataTransmission = *u.AllowDataTransmission
	}

	if err := next.Validate(); err != nil {
		return err
	}
	built, err := r.build(next)
	if err != nil {
		return &library.ConfigError{Field: "provider", Reason: err.Error()}
	}

	if u.Provider != nil || u.Credential != nil {
		p, ok := built[target]
		if !ok {
			return &library.ConfigError{Field: "provider", Reason: fmt.Sprintf("provider %q cannot be used", target)}
		}
		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		health := p.HealthCheck(hctx)
		cancel()
		if !health.OK() && !next.EnableFallback {
			scrub := scrubberFor(next)
			return &library.ConfigError{
				Field:  "provider",
				Reason: fmt.Sprintf("provider %q is unhealthy and fallback is disabled: %s", target, scrub.String(health.Detail)),
			}
		}
		if !health.OK() {
			r.logger.Warn("selected provider is unhealthy; fallback will serve queries",
				zap.String("provider", string(target)))
		}
	}

	r.mu.Lock()
	r.cfg, r.providers, r.scrubber = next, built, scrubberFor(next)
	r.mu.Unlock()

	r.logger.Info("provider configuration updated",
		zap.String("current", next.Current),
		zap.String("fallback", next.Fallback),
		zap.Bool("enable_fallback", next.EnableFallback),
		zap.Bool("credential_set", pc.APIKey.IsSet()))
	return nil
}

// Validate checks credential against id with a throwaway client. Nothing is
// stored.
func (r *Registry) Validate(ctx context.Context, id ID, credential config.Secret) Validation {
	v := Validation{Provider: id}
	cfg := r.Config()
	pc, ok := cfg.Get(string(id))
	if !ok {
		v.Detail = fmt.Sprintf("unknown provider %q", id)
		return v
	}
	if id.Metered() && !credential.IsSet() {
		v.Detail = "credential required"
		return v
	}

	probe := *pc
	probe.APIKey = credential
	p, err := r.factory(id, probe)
	if err != nil {
		v.Detail = r.scrubWith(credential).String(err.Error())
		return v
	}
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	h := p.HealthCheck(hctx)
	v.OK = h.OK()
	if !v.OK {
		v.Detail = r.scrubWith(credential).String(h.Detail)
	}
	return v
}

func (r *Registry) scrubWith(credential config.Secret) *secrets.Scrubber {
	cfg := r.Config()
	keys := []string{credential.Value()}
	for _, id := range IDs {
		pc, _ := cfg.Get(string(id))
		if pc.APIKey.IsSet() {
			keys = append(keys, pc.APIKey.Value())
		}
	}
	return secrets.Default(keys...)
}

// Scrub removes credentials from err's message, keeping its chain.
func (r *Registry) Scrub(err error) error {
	r.mu.RLock()
	s := r.scrubber
	r.mu.RUnlock()
	return s.Error(err)
}

// HealthCheck checks id.
func (r *Registry) HealthCheck(ctx context.Context, id ID) Health {
	p, err := r.Provider(id)
	if err != nil {
		cfg := r.Config()
		pc, _ := cfg.Get(string(id))
		var model string
		if pc != nil {
			model = pc.Model
		}
		return unhealthy(model, 0, "%s", r.Scrub(err).Error())
	}
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	h := p.HealthCheck(hctx)
	h.Detail = r.Scrub(errors.New(h.Detail)).Error()
	return h
}

// Status reports every provider. Configured providers are health checked
// concurrently.
func (r *Registry) Status(ctx context.Context) Status {
	cfg := r.Config()
	st := Status{
		Current:               ID(cfg.Current),
		Fallback:              ID(cfg.Fallback),
		EnableFallback:        cfg.EnableFallback,
		AllowDataTransmission: cfg.AllowDataTransmission,
		Providers:             make([]ProviderStatus, len(IDs)),
	}

	var wg sync.WaitGroup
	for i, id := range IDs {
		pc, _ := cfg.Get(string(id))
		ps := ProviderStatus{
			ID:            id,
			Enabled:       pc.Enabled,
			CredentialSet: pc.APIKey.IsSet(),
			Metered:       id.Metered(),
			Model:         pc.Model,
			Current:       id == st.Current,
			Fallback:      id == st.Fallback,
		}
		_, err := r.Provider(id)
		ps.Configured = err == nil
		if id.Metered() {
			ps.DailyCap = cfg.DailyCap
			if u, err := r.usage.Usage(ctx, string(id), catalog.Day(r.now())); err == nil {
				ps.Usage = &u
			}
		}
		ps.Available = r.Available(ctx, id) == nil
		st.Providers[i] = ps

		if !ps.Configured {
			continue
		}
		wg.Add(1)
		go func(i int, id ID) {
			defer wg.Done()
			h := r.HealthCheck(ctx, id)
			st.Providers[i].Health = &h
		}(i, id)
	}
	wg.Wait()
	return st
}
