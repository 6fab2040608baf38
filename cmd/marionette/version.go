package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/marionette"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of marionette",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "marionette version %s\n", strings.TrimSpace(marionette.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
