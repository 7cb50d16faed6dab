package mcp

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/generate"
)

// AnswerMetrics tracks what the library delivers to MCP clients: answers
// grounded in cited passages, questions the library could not source, and
// answers that needed the fallback provider.
type AnswerMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	answers   metric.Int64Counter
	citations metric.Int64Counter
	fallbacks metric.Int64Counter

	initialized bool
}

var (
	globalAnswerMetrics *AnswerMetrics
	answerMetricsOnce   sync.Once
)

// GetAnswerMetrics returns the process-wide AnswerMetrics instance.
func GetAnswerMetrics(logger *zap.Logger) *AnswerMetrics {
	answerMetricsOnce.Do(func() {
		globalAnswerMetrics = newAnswerMetrics(logger)
	})
	return globalAnswerMetrics
}

func newAnswerMetrics(logger *zap.Logger) *AnswerMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &AnswerMetrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *AnswerMetrics) init() {
	var err error

	m.answers, err = m.meter.Int64Counter(
		"scriptorium.answers_total",
		metric.WithDescription("Total questions answered, by terminal state"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		m.logger.Warn("failed to create answers counter", zap.Error(err))
	}

	// Citations the answer text actually references
	m.citations, err = m.meter.Int64Counter(
		"scriptorium.answers.citations_total",
		metric.WithDescription("Total citations referenced by delivered answers"),
		metric.WithUnit("{citation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create citations counter", zap.Error(err))
	}

	m.fallbacks, err = m.meter.Int64Counter(
		"scriptorium.answers.fallback_total",
		metric.WithDescription("Total answers produced by the fallback provider"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		m.logger.Warn("failed to create fallback counter", zap.Error(err))
	}

	m.initialized = true
}

// RecordAnswer records the outcome of one question.
func (m *AnswerMetrics) RecordAnswer(ctx context.Context, state generate.State, cited int, usedFallback bool) {
	if m == nil || !m.initialized {
		return
	}

	if m.answers != nil {
		m.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	}
	if state != generate.StateSucceeded {
		return
	}
	if m.citations != nil && cited > 0 {
		m.citations.Add(ctx, int64(cited))
	}
	if m.fallbacks != nil && usedFallback {
		m.fallbacks.Add(ctx, 1)
	}
}
