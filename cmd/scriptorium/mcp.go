package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the library as MCP tools over stdio for MCP clients.

Tools: library_query, library_search_term, library_documents, library_summary.

Example client configuration:
  {"command": "scriptorium", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := mcp.NewServer(&mcp.Config{
			Name:    "scriptorium",
			Version: version,
			Logger:  a.logger.Underlying().Named("mcp"),
		}, a.engine)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		// stdout carries the protocol
		fmt.Fprintln(os.Stderr, "scriptorium MCP server started on stdio")
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
