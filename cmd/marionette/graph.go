package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var graphCmd = &cobra.Command{
	Use:   "graph <script>",
	Short: "Print the action tree as a Mermaid flowchart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checkpoint, _ := cmd.Flags().GetString("checkpoint")
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.Graph(cmd.Context(), f, args[0], checkpoint, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("checkpoint", "", "Highlight the progress stored in this checkpoint")
}
