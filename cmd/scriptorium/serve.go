package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	scripthttp "github.com/fyrsmithlabs/scriptorium/internal/http"
	"github.com/fyrsmithlabs/scriptorium/internal/watch"
)

var (
	serveHost  string
	servePort  int
	serveInbox string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the library HTTP API. It binds to localhost by default.

Examples:
  # Serve on the configured address (default localhost:8765)
  scriptorium serve

  # Also ingest documents dropped into ~/Inbox
  scriptorium serve --inbox ~/Inbox`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveInbox, "inbox", "", "directory to watch for new documents")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srvCfg := &scripthttp.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		MaxUploadMB: a.cfg.Server.MaxUploadMB,
	}
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort != 0 {
		srvCfg.Port = servePort
	}

	srv, err := scripthttp.NewServer(a.engine, a.logger.Underlying().Named("http"), srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if serveInbox != "" {
		w, err := newInboxWatcher(a, serveInbox)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutting down gracefully",
		zap.Duration("timeout", a.cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// newInboxWatcher builds a watcher on dir with the configured debounce.
func newInboxWatcher(a *app, dir string) (*watch.Watcher, error) {
	return watch.New(a.engine, watch.Options{
		Dir:            dir,
		Debounce:       a.cfg.Watch.Debounce.Duration(),
		IngestExisting: a.cfg.Watch.IngestExisting,
		MaxBytes:       int64(a.cfg.Server.MaxUploadMB) << 20,
		Logger:         a.logger,
	})
}
