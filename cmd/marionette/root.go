package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/marionette/internal/cli"
	"github.com/aretw0/marionette/internal/config"
	"github.com/aretw0/marionette/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "marionette",
	Short: "Marionette plays scripted browser automations",
	Long: `Marionette plays JSON or YAML scripts of contexts, actions and pipelines
against a browser page, checkpointing progress so that interrupted jobs can
be resumed by another process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, cli.ErrInvalid) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./"+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Override log.format (text, json)")
}

// loadFactory reads the config named by the persistent flags and builds a factory.
func loadFactory(cmd *cobra.Command) (*cli.Factory, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return nil, err
		}
		cfg.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	return cli.NewFactory(cfg, nil), nil
}

// withFactory runs fn with a factory that is closed afterwards.
func withFactory(cmd *cobra.Command, fn func(f *cli.Factory) error) error {
	f, err := loadFactory(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			f.Logger().Warn("failed to release resources", "err", cerr)
		}
	}()
	return fn(f)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
