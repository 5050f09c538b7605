package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/config"
)

type runFlags struct {
	maxIterations int
	threshold     int
	minRelevance  int
	saveTo        string
	provider      string
	archive       bool
	interactive   bool
	verbose       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) slog.Handler {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return handler
}

func newRootCmd() *cobra.Command {
	var flags runFlags

	rootCmd := &cobra.Command{
		Use:   "deep-research [query]",
		Short: "Iterative web research with confidence-driven refinement",
		Long: `deep-research expands a question into several search angles, retrieves and
summarizes sources in parallel, synthesizes the findings and repeats until the
synthesis is confident enough or the iteration limit is reached.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			console := setupLogging(flags.verbose)

			cfg := config.Load()
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if flags.archive {
				if err := cfg.ValidateArchive(); err != nil {
					return err
				}
			}

			app, err := newApp(cmd.Context(), cfg, console, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer app.Close()

			if flags.archive {
				if err := app.openArchive(cmd.Context()); err != nil {
					return err
				}
			}

			query := strings.TrimSpace(strings.Join(args, " "))
			if flags.interactive || query == "" {
				return interactive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), func(q string) error {
					return app.research(cmd.Context(), q, "")
				})
			}
			return app.research(cmd.Context(), query, flags.saveTo)
		},
	}

	f := rootCmd.Flags()
	f.IntVar(&flags.maxIterations, "max-iterations", 0, "Maximum research iterations (default from MAX_RESEARCH_ITERATIONS)")
	f.IntVar(&flags.threshold, "threshold", 0, "Confidence score (1-10) at which research stops early")
	f.IntVar(&flags.minRelevance, "min-relevance", 0, "Minimum relevance score a summary needs to be kept, 0 disables (default from MIN_RELEVANCE_SCORE)")
	f.StringVar(&flags.saveTo, "save-to", "", "Report file path (default research_report_<query>_<timestamp>.json)")
	f.StringVar(&flags.provider, "provider", "", "Search provider: exa or arxiv")
	f.BoolVar(&flags.archive, "archive", false, "Persist the run to PostgreSQL and index the report")
	f.BoolVarP(&flags.interactive, "interactive", "i", false, "Prompt for queries until quit")
	f.BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(newRunsCmd(), newSearchCmd())
	return rootCmd
}

// applyFlags overrides environment configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) {
	changed := cmd.Flags().Changed
	if changed("max-iterations") {
		cfg.MaxIterations = flags.maxIterations
	}
	if changed("threshold") {
		cfg.StopConfidence = flags.threshold
	}
	if changed("min-relevance") {
		cfg.MinRelevance = flags.minRelevance
	}
	if changed("provider") {
		cfg.SearchProvider = strings.ToLower(flags.provider)
	}
}

func isQuit(s string) bool {
	switch strings.ToLower(s) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

// interactive reads queries line by line and runs each until the user quits
// or input ends. A failed query is reported and the loop continues.
func interactive(ctx context.Context, in io.Reader, out io.Writer, run func(string) error) error {
	fmt.Fprintln(out, "Deep research interactive mode. Type 'quit' to exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nResearch query: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		switch {
		case query == "":
			continue
		case isQuit(query):
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		if err := run(query); err != nil {
			fmt.Fprintf(out, "Research failed: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
