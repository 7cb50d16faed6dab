// Scriptorium is a private, local library assistant for Buddhist texts.
//
// It ingests PDF and plain-text documents, indexes them locally and answers
// questions strictly from the indexed passages, citing "<filename>, page <n>".
//
// Usage:
//
//	# Serve the HTTP API on localhost:8765
//	scriptorium serve
//
//	# Serve MCP tools on stdio
//	scriptorium mcp
//
//	# Ask a question from the command line
//	scriptorium query "What are the four noble truths?"
//
// Configuration is read from a YAML file, .env files and environment
// variables (SCRIPTORIUM_SECTION__KEY). See `scriptorium config show`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configFile string
	dataDir    string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptorium",
	Short: "Private question answering over your Buddhist text library",
	Long: `scriptorium indexes Buddhist texts locally and answers questions from them
with page citations. Documents never leave the machine unless a remote
language model provider is explicitly enabled.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile(), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "library data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUnhealthy) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func defaultConfigFile() string {
	if env := os.Getenv("SCRIPTORIUM_CONFIG"); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "scriptorium.yaml"
	}
	return filepath.Join(dir, "scriptorium", "config.yaml")
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:  configFile,
		DotEnvFiles: []string{".env"},
	})
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
