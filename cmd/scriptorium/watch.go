package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest documents dropped into a directory",
	Long: `Watch a directory and ingest every new .pdf, .txt or .md file.

Files already in the library are skipped. Stop with Ctrl-C.

Examples:
  scriptorium watch ~/Inbox`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := newInboxWatcher(a, args[0])
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-w.Events():
				if !ok {
					return nil
				}
				switch ev.Outcome {
				case watch.OutcomeIngested:
					fmt.Fprintf(out, "%s %s (%d chunks, %d pages)\n",
						successStyle.Render("ingested"), ev.Result.Filename, ev.Result.ChunksCreated, ev.Result.Pages)
				case watch.OutcomeSkipped:
					fmt.Fprintf(out, "%s %s (already in library)\n", dimStyle.Render("skipped"), ev.Path)
				default:
					fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("failed"), ev.Path, ev.Err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
