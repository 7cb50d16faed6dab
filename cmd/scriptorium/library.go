package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

var (
	queryMaxResults int
	querySimilar    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Add documents to the library",
	Long: `Add PDF, text or Markdown documents to the library.

A document whose filename is already in the library is rejected; delete it
first to replace it.

Examples:
  scriptorium ingest dhammapada.pdf
  scriptorium ingest notes/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		var (
			results []engine.IngestResult
			failed  int
		)
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", path, err)
			}
			res, err := a.engine.Ingest(ctx, data, filepath.Base(path))
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", errorStyle.Render("failed"), path, err)
				continue
			}
			results = append(results, res)
			if !jsonOutput {
				fmt.Fprintf(out, "%s %s: %d chunks from %d pages (%s, %s)\n",
					successStyle.Render("ingested"), res.Filename, res.ChunksCreated, res.Pages,
					res.Language, res.TraditionEstimate)
			}
		}
		if jsonOutput {
			if err := printJSON(out, results); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d document(s) not ingested", failed, len(args))
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the library a question",
	Long: `Answer a question from the library. The answer is generated only from
retrieved passages and cites them as "<filename>, page <n>".

Examples:
  scriptorium query "What is dependent origination?"
  scriptorium query --max-results 10 --similar "How is metta practiced?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		req := engine.QueryRequest{Question: args[0], MaxResults: queryMaxResults}
		if cmd.Flags().Changed("similar") {
			req.IncludeSimilar = &querySimilar
		}

		res, err := a.engine.Query(ctx, req)
		var provErr *library.ProviderError
		if err != nil && !errors.As(err, &provErr) {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if perr := printJSON(out, res); perr != nil {
				return perr
			}
			return err
		}

		if err == nil {
			fmt.Fprintln(out, res.Answer)
		}
		printSources(out, res.Sources)
		if res.Provider != "" {
			via := string(res.Provider)
			if res.UsedFallback {
				via += ", fallback"
			}
			fmt.Fprintf(out, "\n%s\n", dimStyle.Render(fmt.Sprintf("%s (%s) in %.1fs", res.Model, via, res.ProcessingTime)))
		}
		return err
	},
}

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "List, delete and summarize library documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.engine.ListDocuments(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, docs)
		}
		if len(docs) == 0 {
			fmt.Fprintln(out, "The library is empty.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILENAME\tPAGES\tCHUNKS\tLANGUAGE\tTRADITION\tADDED")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", d.Filename, d.Pages, d.Chunks,
				d.Language, d.Tradition, d.AddedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Remove a document and its passages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.DeleteDocument(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("deleted"), args[0])
		return nil
	},
}

var documentsSummaryCmd = &cobra.Command{
	Use:   "summary <filename>",
	Short: "Summarize a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.engine.Summary(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sum)
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum.Text)
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryMaxResults, "max-results", "k", 0, "passages to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&querySimilar, "similar", false, "attach related passages to each source")

	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd, documentsSummaryCmd)
	rootCmd.AddCommand(ingestCmd, queryCmd, documentsCmd)
}
