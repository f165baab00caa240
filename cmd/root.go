// Package cmd implements the docsage command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "docsage",
	Short: "Docsage answers questions from your indexed documentation",
	Long: `Docsage is a retrieval-augmented question answering service.
It searches an indexed document corpus with semantic, keyword, and hybrid
strategies, assembles the best-matching passages into a cited context, and
generates a grounded answer with a locally hosted model.

Run "docsage serve" to start the HTTP API, or "docsage ask" for a one-shot
question from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogger builds the process logger from config and installs it as
// the slog default.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := log.New(log.Config{
		Level: cfg.SlogLevel(),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)
	return logger
}
