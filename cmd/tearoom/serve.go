package main

import (
	"github.com/spf13/cobra"

	"tearoom/cmd/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	Long:  `Start the server. Without TEAROOM_DATABASE_URL every store is in memory; without TEAROOM_REDIS_URL events stay in this process.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
