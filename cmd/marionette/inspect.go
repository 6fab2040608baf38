package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <script>",
	Short: "Report type counts, inputs, outputs and problems of a script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.Inspect(cmd.Context(), f, args[0], asJSON, cmd.OutOrStdout())
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <script> <query>",
	Short: "Find actions and pipes",
	Long: `Finds actions and pipes matching every term of the query:

  type:<glob>          action or pipe type, e.g. type:DOM.*
  id:<glob>            action id
  param:<name>=<glob>  parameter value, e.g. param:selector=*.price*
  <glob>               id, type or label`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		query := ""
		if len(args) > 1 {
			query = args[1]
		}
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.Search(f, args[0], query, asJSON, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(searchCmd)
	inspectCmd.Flags().Bool("json", false, "Print the report as JSON")
	searchCmd.Flags().Bool("json", false, "Print the hits as JSON")
}
