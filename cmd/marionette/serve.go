package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP inspection API",
	Long: `Serves script inspection, validation, search and graphs, the checkpoint
store with a server-sent event stream of changes, and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFactory(cmd, func(f *cli.Factory) error {
			addr := f.Config().Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return cli.Serve(ctx, f, addr)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default server.addr)")
}
