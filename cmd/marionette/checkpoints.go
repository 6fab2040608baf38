package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var checkpointsCmd = &cobra.Command{
	Use:     "checkpoints",
	Aliases: []string{"cp"},
	Short:   "Manage stored checkpoints",
}

var checkpointsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored checkpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.ListCheckpoints(cmd.Context(), f, limit, asJSON, cmd.OutOrStdout())
		})
	},
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a checkpoint as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.ShowCheckpoint(cmd.Context(), f, args[0], cmd.OutOrStdout())
		})
	},
}

var checkpointsRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove one or more checkpoints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFactory(cmd, func(f *cli.Factory) error {
			return cli.DeleteCheckpoints(cmd.Context(), f, args, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsLsCmd, checkpointsShowCmd, checkpointsRmCmd)
	checkpointsLsCmd.Flags().Int("limit", 0, "Show at most this many checkpoints (0 for all)")
	checkpointsLsCmd.Flags().Bool("json", false, "Print as JSON")
}
