package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate <script>",
	Short: "Check a script for blocking problems",
	Long: `Decodes the script and reports unknown types, parameter violations, leaf
actions holding children and unmet extension dependencies. With --watch the
check is repeated whenever the file changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		return withFactory(cmd, func(f *cli.Factory) error {
			out := cmd.OutOrStdout()
			if !watch {
				return cli.Validate(cmd.Context(), f, args[0], out)
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return cli.Watch(ctx, args[0], cli.DefaultDebounce, out, func() error {
				return cli.Validate(ctx, f, args[0], out)
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolP("watch", "w", false, "Validate again on every change")
}
