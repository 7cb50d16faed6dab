package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/scriptorium"

// newCore tees the redacting stdout core with the OTEL bridge, then samples.
// Only the stdout side is redacted; the bridge forwards zap fields as log
// record attributes and relies on callers using Secret for credentials.
func newCore(cfg *Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Stdout {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, out, cfg.Level))
	}

	if cfg.OTEL && otelProvider != nil {
		bridge := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, &levelFilterCore{Core: bridge, min: cfg.Level, max: zapcore.FatalLevel})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no output available: stdout disabled and no otel provider")
	}

	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
