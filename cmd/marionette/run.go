package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Play a script",
	Long: `Plays a script on the configured browser driver.

Inputs are taken from --input, then asked for on the terminal. With --json,
outputs and input requests are written to stdout as NDJSON and the host
answers on stdin. SIGINT and SIGTERM save an "interrupted" checkpoint; run
again with --job <id> --resume to continue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Script: args[0]}
		opts.Inputs, _ = cmd.Flags().GetStringArray("input")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Job, _ = cmd.Flags().GetString("job")
		opts.Resume, _ = cmd.Flags().GetBool("resume")
		opts.KeepOnSuccess, _ = cmd.Flags().GetBool("keep")
		noAuto, _ := cmd.Flags().GetBool("no-auto-checkpoint")
		opts.NoAutoCheckpoint = noAuto

		return withFactory(cmd, func(f *cli.Factory) error {
			// The runner handles SIGINT/SIGTERM itself so that it can checkpoint.
			_, err := cli.Run(context.WithoutCancel(cmd.Context()), f, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayP("input", "i", nil, "Job input as key=value (repeatable)")
	runCmd.Flags().Bool("json", false, "Exchange inputs and outputs as NDJSON on stdin/stdout")
	runCmd.Flags().String("job", "", "Checkpoint id of this job")
	runCmd.Flags().Bool("resume", false, "Resume the checkpoint named by --job when it exists")
	runCmd.Flags().Bool("keep", false, "Keep checkpoints after a successful run")
	runCmd.Flags().Bool("no-auto-checkpoint", false, "Only checkpoint on Data.checkpoint actions and interruptions")
}
