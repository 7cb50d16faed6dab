package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled is always valid", func(c *Config) { c.Endpoint = "" }, false},
		{"local grpc", func(c *Config) { c.Enabled = true }, false},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"127 block", func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.2:4317" }, false},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"tls remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "https://otel.example.com"
			c.Insecure = false
			c.Protocol = ProtocolHTTP
		}, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"bad sample rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   ProtocolHTTP,
		Insecure:   true,
		SampleRate: 0.5,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())

	h := tel.Health()
	assert.False(t, h.Enabled)
	assert.True(t, h.Healthy)
	assert.False(t, h.Degraded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.Equal(t, HealthStatus{}, tel.Health())
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("scriptorium/test").Start(ctx, "library.query")
	span.SetAttributes(attribute.Int("k", 5))
	span.End()

	counter, err := tt.Meter("scriptorium/test").Int64Counter("scriptorium.test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	tt.AssertSpanExists(t, "library.query")
	v, ok := tt.SpanAttribute("library.query", "k")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)
	assert.Contains(t, tt.MetricNames(ctx), "scriptorium.test.calls")
}
