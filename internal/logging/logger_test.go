package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Caller = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	l, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	ctx := WithQueryID(context.Background(), "q-123")
	ctx = WithDocument(ctx, "dhammapada.pdf")
	l.Info(ctx, "query answered", zap.Int("sources", 3))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "q-123", lines[0]["query.id"])
	assert.Equal(t, "dhammapada.pdf", lines[0]["document"])
	assert.Equal(t, "scriptorium", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["sources"])
}

func TestLogger_TraceCorrelation(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Warn(ctx, "slow provider")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, traceID.String(), lines[0]["trace_id"])
	assert.Equal(t, spanID.String(), lines[0]["span_id"])
}

func TestLogger_RedactsCredentials(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	ctx := context.Background()

	l.Info(ctx, "provider configured",
		Secret("api_key", config.Secret("sk-abcdefghijklmnopqrstuvwx")),
		zap.String("authorization", "Bearer abc.def"),
		zap.String("detail", "upstream said: invalid key sk-abcdefghijklmnopqrstuvwx"),
		zap.String("model", "gpt-4"),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, out, "abc.def")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED:27]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED]", lines[0]["authorization"])
	assert.Equal(t, "upstream said: invalid key [REDACTED]", lines[0]["detail"])
	assert.Equal(t, "gpt-4", lines[0]["model"])
}

func TestLogger_RedactsErrorsAndMessages(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	ctx := context.Background()

	l.Warn(ctx, "retrying with sk-abcdefghijklmnopqrstuvwx",
		zap.Error(errors.New("401 Unauthorized: sk-abcdefghijklmnopqrstuvwx")),
		zap.ByteString("body", []byte(`{"key":"sk-abcdefghijklmnopqrstuvwx"}`)),
		zap.NamedError("cause", errors.New("connection refused")),
	)

	assert.NotContains(t, buf.String(), "sk-abcdefghijklmnopqrstuvwx")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "retrying with [REDACTED]", lines[0]["msg"])
	assert.Equal(t, "401 Unauthorized: [REDACTED]", lines[0]["error"])
	assert.Equal(t, "connection refused", lines[0]["cause"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Level = zapcore.WarnLevel })
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "hidden")
	l.Warn(ctx, "shown")
	l.Error(ctx, "shown")

	assert.Len(t, decodeLines(t, buf), 2)
	assert.False(t, l.Enabled(zapcore.InfoLevel))
	assert.True(t, l.Enabled(zapcore.ErrorLevel))
}

func TestLogger_TraceLevelName(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Level = TraceLevel })
	l.Trace(context.Background(), "chunk scored")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_SamplingNeverDropsErrors(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: time.Hour, Initial: 2, Thereafter: 0}
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Info(ctx, "repeated")
		l.Error(ctx, "failure")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["level"] {
		case "info":
			infos++
		case "error":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestLogger_ChildLoggers(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	child := l.Named("index").With(zap.String("component", "catalog"))

	child.Info(context.Background(), "recovered")
	l.Info(context.Background(), "parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "index", lines[0]["logger"])
	assert.Equal(t, "catalog", lines[0]["component"])
	assert.NotContains(t, lines[1], "component")
}

func TestNewLogger_NoOutput(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output available")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}
