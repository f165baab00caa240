package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/app"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/retrieval"
)

var (
	askStrategy   string
	askMaxSources int
	askShowScores bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question against the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askStrategy, "strategy", "",
		"retrieval strategy (semantic, keyword, hybrid, enhanced, combined); empty selects automatically")
	askCmd.Flags().IntVar(&askMaxSources, "sources", 0, "maximum sources to retrieve (0 = default)")
	askCmd.Flags().BoolVar(&askShowScores, "scores", false, "print relevance scores alongside sources")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	ctx := context.Background()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	req := answer.Request{
		Query:      strings.Join(args, " "),
		MaxSources: askMaxSources,
	}
	if askStrategy != "" {
		strat, err := retrieval.ParseStrategy(askStrategy)
		if err != nil {
			return err
		}
		req.Strategy = &strat
	}

	resp, err := a.Answer.Answer(ctx, req)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)

	if len(resp.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, src := range resp.Sources {
			if askShowScores {
				fmt.Fprintf(out, "  [%d] %s (score %.2f)\n", src.Index, src.SourcePath, src.Score)
			} else {
				fmt.Fprintf(out, "  [%d] %s\n", src.Index, src.SourcePath)
			}
		}
	}
	return nil
}
