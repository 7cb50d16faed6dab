// Package config provides configuration loading for scriptorium.
//
// Values come from, lowest precedence first: built-in defaults, an optional
// YAML file, a .env file, legacy environment variable names, and
// SCRIPTORIUM_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Provider identifiers understood by the registry.
const (
	ProviderLocal     = "local"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds the complete scriptorium configuration.
type Config struct {
	DataDir    string           `koanf:"data_dir" yaml:"data_dir"`
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry" yaml:"telemetry"`
	Embeddings EmbeddingsConfig `koanf:"embeddings" yaml:"embeddings"`
	Segmenter  SegmenterConfig  `koanf:"segmenter" yaml:"segmenter"`
	Retrieval  RetrievalConfig  `koanf:"retrieval" yaml:"retrieval"`
	Generation GenerationConfig `koanf:"generation" yaml:"generation"`
	Providers  ProvidersConfig  `koanf:"providers" yaml:"providers"`
	Watch      WatchConfig      `koanf:"watch" yaml:"watch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host" yaml:"host"`
	Port            int      `koanf:"port" yaml:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxUploadMB     int      `koanf:"max_upload_mb" yaml:"max_upload_mb"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
	OTEL   bool   `koanf:"otel" yaml:"otel"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled" yaml:"enabled"`
	Endpoint   string  `koanf:"endpoint" yaml:"endpoint"`
	Protocol   string  `koanf:"protocol" yaml:"protocol"`
	Insecure   bool    `koanf:"insecure" yaml:"insecure"`
	SampleRate float64 `koanf:"sample_rate" yaml:"sample_rate"`
}

// EmbeddingsConfig selects the embedding function of the library.
// Changing provider or model requires re-indexing.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider" yaml:"provider"`
	Model     string `koanf:"model" yaml:"model"`
	CacheDir  string `koanf:"cache_dir" yaml:"cache_dir"`
	Dimension int    `koanf:"dimension" yaml:"dimension"`
	// BaseURL is the text-embeddings-inference endpoint (provider "tei").
	BaseURL   string `koanf:"base_url" yaml:"base_url"`
}

// SegmenterConfig tunes chunk boundaries.
type SegmenterConfig struct {
	MaxWords      int `koanf:"max_words" yaml:"max_words"`
	TargetWords   int `koanf:"target_words" yaml:"target_words"`
	MinChunkWords int `koanf:"min_chunk_words" yaml:"min_chunk_words"`
	MinWords      int `koanf:"min_words" yaml:"min_words"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	DefaultResults int      `koanf:"default_results" yaml:"default_results"`
	OverFetch      int      `koanf:"over_fetch" yaml:"over_fetch"`
	TermWeight     float64  `koanf:"term_weight" yaml:"term_weight"`
	Recency        bool     `koanf:"recency" yaml:"recency"`
	RecencyWeight  float64  `koanf:"recency_weight" yaml:"recency_weight"`
	RecencyWindow  Duration `koanf:"recency_window" yaml:"recency_window"`
	IncludeSimilar bool     `koanf:"include_similar" yaml:"include_similar"`
}

// GenerationConfig tunes prompt assembly and provider calls.
type GenerationConfig struct {
	MaxContextChars int      `koanf:"max_context_chars" yaml:"max_context_chars"`
	Timeout         Duration `koanf:"timeout" yaml:"timeout"`
}

// WatchConfig controls the inbox watcher.
type WatchConfig struct {
	Debounce       Duration `koanf:"debounce" yaml:"debounce"`
	IngestExisting bool     `koanf:"ingest_existing" yaml:"ingest_existing"`
}

// ProvidersConfig holds every language model backend.
type ProvidersConfig struct {
	Current               string         `koanf:"current" yaml:"current"`
	Fallback              string         `koanf:"fallback" yaml:"fallback"`
	EnableFallback        bool           `koanf:"enable_fallback" yaml:"enable_fallback"`
	DailyCap              int            `koanf:"daily_cap" yaml:"daily_cap"`
	AllowDataTransmission bool           `koanf:"allow_data_transmission" yaml:"allow_data_transmission"`
	Local                 ProviderConfig `koanf:"local" yaml:"local"`
	OpenAI                ProviderConfig `koanf:"openai" yaml:"openai"`
	Anthropic             ProviderConfig `koanf:"anthropic" yaml:"anthropic"`
	Google                ProviderConfig `koanf:"google" yaml:"google"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	Enabled         bool    `koanf:"enabled" yaml:"enabled"`
	APIKey          Secret  `koanf:"api_key" yaml:"api_key"`
	Model           string  `koanf:"model" yaml:"model"`
	// BaseURL overrides the API root. A URL without a path gets /v1
	// appended. The google client always uses the public endpoint.
	BaseURL         string  `koanf:"base_url" yaml:"base_url"`
	Temperature     float64 `koanf:"temperature" yaml:"temperature"`
	TopP            float64 `koanf:"top_p" yaml:"top_p"`
	MaxTokens       int     `koanf:"max_tokens" yaml:"max_tokens"`
	ContextWindow   int     `koanf:"context_window" yaml:"context_window"`
	CostPer1KTokens float64 `koanf:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
}

// Get returns the configuration for a provider id.
func (p *ProvidersConfig) Get(id string) (*ProviderConfig, bool) {
	switch id {
	case ProviderLocal:
		return &p.Local, true
	case ProviderOpenAI:
		return &p.OpenAI, true
	case ProviderAnthropic:
		return &p.Anthropic, true
	case ProviderGoogle:
		return &p.Google, true
	default:
		return nil, false
	}
}

// NewDefaultConfig returns defaults matching a local, private setup.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8765,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadMB:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
		},
		Segmenter: SegmenterConfig{
			MaxWords:      300,
			TargetWords:   250,
			MinChunkWords: 40,
			MinWords:      3,
		},
		Retrieval: RetrievalConfig{
			DefaultResults: 5,
			OverFetch:      3,
			TermWeight:     0.1,
			Recency:        false,
			RecencyWeight:  0.1,
			RecencyWindow:  Duration(7 * 24 * time.Hour),
			IncludeSimilar: false,
		},
		Generation: GenerationConfig{
			MaxContextChars: 32768,
			Timeout:         Duration(60 * time.Second),
		},
		Providers: ProvidersConfig{
			Current:        ProviderLocal,
			Fallback:       ProviderLocal,
			EnableFallback: true,
			DailyCap:       100,
			Local: ProviderConfig{
				Enabled:       true,
				Model:         "qwen2.5:14b",
				BaseURL:       "http://localhost:11434",
				Temperature:   0.3,
				TopP:          0.9,
				MaxTokens:     2048,
				ContextWindow: 32768,
			},
			OpenAI: ProviderConfig{
				Enabled:         true,
				Model:           "gpt-4-turbo-preview",
				BaseURL:         "https://api.openai.com",
				Temperature:     0.3,
				TopP:            0.9,
				MaxTokens:       2048,
				ContextWindow:   128000,
				CostPer1KTokens: 0.01,
			},
			Anthropic: ProviderConfig{
				Enabled:         true,
				Model:           "claude-3-5-sonnet-20241022",
				BaseURL:         "https://api.anthropic.com",
				Temperature:     0.3,
				TopP:            0.9,
				MaxTokens:       2048,
				ContextWindow:   200000,
				CostPer1KTokens: 0.003,
			},
			Google: ProviderConfig{
				Enabled:         true,
				Model:           "gemini-pro",
				Temperature:     0.3,
				TopP:            0.9,
				MaxTokens:       2048,
				ContextWindow:   32768,
				CostPer1KTokens: 0.0005,
			},
		},
		Watch: WatchConfig{
			Debounce:       Duration(2 * time.Second),
			IngestExisting: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptorium"
	}
	return filepath.Join(home, ".local", "share", "scriptorium")
}

// Validate checks the configuration. Every failure is a *library.ConfigError.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &library.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.DataDir == "" {
		add("data_dir", "must not be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port", "must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate", "must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "lexical":
	case "tei":
		if c.Embeddings.BaseURL == "" {
			add("embeddings.base_url", "required for the tei provider")
		}
	default:
		add("embeddings.provider", "must be 'fastembed', 'lexical' or 'tei', got %q", c.Embeddings.Provider)
	}

	s := c.Segmenter
	if s.MaxWords <= 0 || s.TargetWords <= 0 || s.TargetWords > s.MaxWords {
		add("segmenter", "need 0 < target_words <= max_words, got %d/%d", s.TargetWords, s.MaxWords)
	}
	if s.MinChunkWords < 0 || s.MinChunkWords >= s.TargetWords {
		add("segmenter.min_chunk_words", "must be in [0, target_words), got %d", s.MinChunkWords)
	}
	if s.MinWords < 1 {
		add("segmenter.min_words", "must be at least 1, got %d", s.MinWords)
	}

	r := c.Retrieval
	if r.DefaultResults <= 0 {
		add("retrieval.default_results", "must be positive, got %d", r.DefaultResults)
	}
	if r.OverFetch < 1 {
		add("retrieval.over_fetch", "must be at least 1, got %d", r.OverFetch)
	}
	if r.TermWeight < 0 {
		add("retrieval.term_weight", "must not be negative, got %v", r.TermWeight)
	}
	if r.RecencyWeight < 0 || r.RecencyWeight > 0.1 {
		add("retrieval.recency_weight", "must be within [0, 0.1], got %v", r.RecencyWeight)
	}
	if r.Recency && r.RecencyWindow.Duration() <= 0 {
		add("retrieval.recency_window", "must be positive when recency is enabled")
	}

	if c.Generation.MaxContextChars < 1024 {
		add("generation.max_context_chars", "must be at least 1024, got %d", c.Generation.MaxContextChars)
	}
	if c.Generation.Timeout.Duration() <= 0 {
		add("generation.timeout", "must be positive")
	}

	if c.Watch.Debounce.Duration() < 0 {
		add("watch.debounce", "must not be negative")
	}

	if err := c.Providers.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate checks provider selection. A remote provider may be selected
// only when data transmission is allowed and its credential is set.
func (p *ProvidersConfig) Validate() error {
	var errs []error
	for _, field := range []struct{ name, id string }{
		{"providers.current", p.Current},
		{"providers.fallback", p.Fallback},
	} {
		pc, ok := p.Get(field.id)
		if !ok {
			errs = append(errs, &library.ConfigError{Field: field.name, Reason: fmt.Sprintf("unknown provider %q", field.id)})
			continue
		}
		if field.name == "providers.fallback" && !p.EnableFallback {
			continue
		}
		if !pc.Enabled {
			errs = append(errs, &library.ConfigError{Field: field.name, Reason: fmt.Sprintf("provider %q is disabled", field.id)})
		}
		if field.id != ProviderLocal {
			if !p.AllowDataTransmission {
				errs = append(errs, &library.ConfigError{Field: field.name, Reason: fmt.Sprintf("provider %q sends data off this machine; set allow_data_transmission", field.id)})
			}
			if !pc.APIKey.IsSet() {
				errs = append(errs, &library.ConfigError{Field: field.name, Reason: fmt.Sprintf("provider %q has no credential", field.id)})
			}
		}
	}
	if p.DailyCap < 0 {
		errs = append(errs, &library.ConfigError{Field: "providers.daily_cap", Reason: "must not be negative"})
	}
	for _, id := range []string{ProviderLocal, ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
		pc, _ := p.Get(id)
		if pc.Temperature < 0 || pc.Temperature > 2 {
			errs = append(errs, &library.ConfigError{Field: "providers." + id + ".temperature", Reason: fmt.Sprintf("must be within [0, 2], got %v", pc.Temperature)})
		}
		if pc.TopP < 0 || pc.TopP > 1 {
			errs = append(errs, &library.ConfigError{Field: "providers." + id + ".top_p", Reason: fmt.Sprintf("must be within [0, 1], got %v", pc.TopP)})
		}
	}
	return errors.Join(errs...)
}
