package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/scriptorium/internal/monitor"
)

var (
	monitorURL      string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of a running library server",
	Long: `Show a live dashboard of a running scriptorium server: documents, chunks,
provider health and metered usage against the daily cap.

Keys: q quit, r refresh.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url := monitorURL
		if url == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		}
		return monitor.Run(cmd.Context(), url, monitorInterval)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorURL, "url", "", "server URL (default from server.host and server.port)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
