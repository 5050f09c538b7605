package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
)

func openStore(ctx context.Context) (*config.Config, *database.PostgresDB, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("%w: DATABASE_URL", config.ErrMissingCredentials)
	}
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return cfg, db, nil
}

func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived research runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(false)
			_, db, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := database.NewRunStore(db).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tCONFIDENCE\tSOURCES\tCREATED\tQUERY")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Status, optFloat(r.ConfidenceScore), optInt(r.TotalSources),
					r.CreatedAt.Local().Format(time.DateTime), r.Query)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to show")

	var showLogs, showReport bool
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(false)
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			_, db, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			store := database.NewRunStore(db)
			run, err := store.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			iterations, err := store.ListIterations(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			fmt.Fprintf(out, "Query:      %s\n", run.Query)
			fmt.Fprintf(out, "Status:     %s\n", run.Status)
			fmt.Fprintf(out, "Confidence: %s\n", optFloat(run.ConfidenceScore))
			fmt.Fprintf(out, "Sources:    %s\n", optInt(run.TotalSources))
			if run.Error != nil {
				fmt.Fprintf(out, "Error:      %s\n", *run.Error)
			}
			for _, it := range iterations {
				fmt.Fprintf(out, "  iteration %d: confidence %d, more research %t, %d hits, %d summaries\n    queries: %s\n",
					it.IterationNumber, it.ConfidenceScore, it.NeedsMoreResearch, it.HitCount, it.SummaryCount,
					strings.Join(it.Queries, " | "))
			}

			if showReport && len(run.Report) > 0 {
				var pretty map[string]any
				if err := json.Unmarshal(run.Report, &pretty); err == nil {
					data, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Fprintf(out, "\n%s\n", data)
				}
			}

			if showLogs {
				logs, err := store.GetRunLogs(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "\nLogs:")
				for _, l := range logs {
					fmt.Fprintf(out, "  %s %-5s %s %s\n", l.Timestamp.Local().Format(time.TimeOnly), l.Level, l.Message, l.Metadata)
				}
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showLogs, "logs", false, "Include the run's log records")
	showCmd.Flags().BoolVar(&showReport, "report", false, "Print the stored report JSON")

	runsCmd.AddCommand(listCmd, showCmd)
	return runsCmd
}

func newSearchCmd() *cobra.Command {
	var runFilter string
	var topK int

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Semantic search over archived reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(false)
			var runID *uuid.UUID
			if runFilter != "" {
				id, err := uuid.Parse(runFilter)
				if err != nil {
					return fmt.Errorf("invalid run id: %w", err)
				}
				runID = &id
			}

			cfg, db, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := cfg.ValidateArchive(); err != nil {
				return err
			}

			embedder, err := embeddings.NewGoogleEmbedder(cmd.Context(), cfg.GoogleApiKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
			if err != nil {
				return err
			}
			indexer, err := archive.NewPostgresIndexer(cmd.Context(), db, embedder, archive.Options{
				Collection:   cfg.CollectionName,
				Dimensions:   cfg.EmbeddingDims,
				ChunkSize:    cfg.ChunkSize,
				ChunkOverlap: cfg.ChunkOverlap,
			})
			if err != nil {
				return err
			}

			matches, err := indexer.Search(cmd.Context(), strings.Join(args, " "), topK, runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. [%.3f] %s (%s, run %s)\n", i+1, m.Score, m.Query, m.Kind, m.RunID)
				if m.Source != "" {
					fmt.Fprintf(out, "   source: %s (iteration %d)\n", m.Source, m.Iteration)
				}
				fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", "\n   "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runFilter, "run", "", "Restrict results to one run id")
	cmd.Flags().IntVar(&topK, "top-k", 5, "Number of matches to return")
	return cmd
}

func optFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *f)
}

func optInt(i *int) string {
	if i == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *i)
}
