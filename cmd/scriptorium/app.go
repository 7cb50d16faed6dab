package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/telemetry"
)

// app holds what every command needs: configuration, logger, telemetry and
// the engine.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	engine    *engine.Engine
}

// newApp loads configuration and opens the library. Logs go to stderr so
// stdout stays free for results and the MCP protocol.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	logger, err := logging.NewLoggerTo(logCfg, os.Stderr, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	eng, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel, engine: eng}, nil
}

// Close releases the engine, then flushes telemetry and logs.
func (a *app) Close() {
	ctx := context.Background()
	if err := a.engine.Close(); err != nil {
		a.logger.Warn(ctx, "closing library failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
}
