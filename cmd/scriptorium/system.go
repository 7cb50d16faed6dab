package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

// errUnhealthy makes the process exit with status 2.
var errUnhealthy = errors.New("library is unhealthy")

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with credentials redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configFile, out)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the index and the current provider",
	Long: `Check the vector index and the current language model provider.

Exits with status 2 when either is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		h := a.engine.Health(ctx)
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, h); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "%s vector store: %d chunks in %d documents\n",
				status(h.VectorStore.Status == "healthy"), h.VectorStore.DocumentCount, h.VectorStore.Documents)
			llm := fmt.Sprintf("%s (%s)", h.LLMClient.Provider, h.LLMClient.Model)
			if h.LLMClient.Error != "" {
				llm += " " + dimStyle.Render(h.LLMClient.Error)
			}
			fmt.Fprintf(out, "%s language model: %s\n", status(h.LLMClient.Status == "healthy"), llm)
		}
		if !h.OK() {
			return errUnhealthy
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scriptorium by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd, healthCmd, versionCmd)
}
