package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

var (
	validateFromStdin bool
	useFallback       string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect and select language model providers",
}

var providersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider selection, health and daily usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.engine.ProviderStatus(ctx)
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, st)
		}

		fmt.Fprintf(out, "%s %s   %s %s (enabled: %t)   %s %t\n\n",
			labelStyle.Render("current:"), st.Current,
			labelStyle.Render("fallback:"), st.Fallback, st.EnableFallback,
			labelStyle.Render("remote allowed:"), st.AllowDataTransmission)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tMODEL\tCREDENTIAL\tAVAILABLE\tHEALTH\tUSAGE TODAY")
		for _, p := range st.Providers {
			health := "-"
			if p.Health != nil {
				health = p.Health.Status
			}
			usage := "-"
			if p.Usage != nil {
				usage = fmt.Sprintf("%d/%d requests", p.Usage.Requests, p.DailyCap)
			}
			credential := "n/a"
			if p.Metered {
				credential = "unset"
				if p.CredentialSet {
					credential = "set"
				}
			}
			name := string(p.ID)
			if p.Current {
				name += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, p.Model, credential, status(p.Available), health, usage)
		}
		return tw.Flush()
	},
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate <provider>...",
	Short: "Check provider credentials without storing them",
	Long: `Check credentials against their providers. By default the configured
credential of each provider is checked. With --stdin one credential is read
per line from stdin, in argument order.

Examples:
  scriptorium providers validate local openai
  echo "$OPENAI_KEY" | scriptorium providers validate --stdin openai`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		credentials, err := credentialsFor(a.cfg, args, validateFromStdin)
		if err != nil {
			return err
		}

		results := a.engine.ValidateCredentials(ctx, credentials)
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, results); err != nil {
				return err
			}
		}

		failed := 0
		for _, v := range results {
			if !v.OK {
				failed++
			}
			if !jsonOutput {
				line := fmt.Sprintf("%s %s", status(v.OK), v.Provider)
				if v.Detail != "" {
					line += " " + dimStyle.Render(v.Detail)
				}
				fmt.Fprintln(out, line)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d credential(s) failed validation", failed)
		}
		return nil
	},
}

// credentialsFor maps each provider name to the credential to validate.
func credentialsFor(cfg *config.Config, names []string, fromStdin bool) (map[string]string, error) {
	credentials := make(map[string]string, len(names))
	var scanner *bufio.Scanner
	if fromStdin {
		scanner = bufio.NewScanner(os.Stdin)
	}
	for _, name := range names {
		if scanner != nil {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return nil, fmt.Errorf("failed to read from stdin: %w", err)
				}
				return nil, fmt.Errorf("missing credential for %s on stdin", name)
			}
			credentials[name] = strings.TrimSpace(scanner.Text())
			continue
		}
		if pc, ok := cfg.Providers.Get(name); ok {
			credentials[name] = pc.APIKey.Value()
		} else {
			credentials[name] = ""
		}
	}
	return credentials, nil
}

var providersUseCmd = &cobra.Command{
	Use:   "use <provider>",
	Short: "Select the current provider and save it to the config file",
	Long: `Select the provider answers are generated with and save the choice to
the config file. Remote providers need allow_data_transmission and a
credential.

Examples:
  scriptorium providers use local
  scriptorium providers use anthropic --fallback local`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		id, err := providers.ParseID(args[0])
		if err != nil {
			return err
		}
		candidate := cfg.Providers
		candidate.Current = string(id)
		if useFallback != "" {
			fb, err := providers.ParseID(useFallback)
			if err != nil {
				return err
			}
			candidate.Fallback = string(fb)
		}
		if err := candidate.Validate(); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := config.SetFileKey(configFile, "providers.current", candidate.Current); err != nil {
			return err
		}
		if useFallback != "" {
			if err := config.SetFileKey(configFile, "providers.fallback", candidate.Fallback); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s current provider is %s (saved to %s)\n",
			successStyle.Render("✓"), candidate.Current, configFile)
		return nil
	},
}

func init() {
	providersValidateCmd.Flags().BoolVar(&validateFromStdin, "stdin", false, "read credentials from stdin, one per line")
	providersUseCmd.Flags().StringVar(&useFallback, "fallback", "", "also select the fallback provider")

	providersCmd.AddCommand(providersStatusCmd, providersValidateCmd, providersUseCmd)
	rootCmd.AddCommand(providersCmd)
}
