package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"docqa/internal/config"
	ragerr "docqa/internal/errors"
)

// NewRootCmd creates the root docqa command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docqa",
		Short:         "docqa - ask questions about your documents",
		Long:          "docqa ingests PDF, Markdown and text documents into a local vector index and answers questions from them with an LLM.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ./config.yaml or ~/.config/docqa/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(),
		newAskCmd(),
		newServeCmd(),
		newTUICmd(),
		newStatsCmd(),
		newHistoryCmd(),
	)

	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig honours --config and falls back to the default locations.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	slog.Debug("using config", "path", path)
	return cfg, nil
}

// withApp loads config, wires the application and runs fn with it.
func withApp(cmd *cobra.Command, requireGenerator bool, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := Wire(ctx, cfg, requireGenerator)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("closing history", "code", ragerr.CodeOf(err), "error", err)
		}
	}()
	return fn(ctx, app)
}
