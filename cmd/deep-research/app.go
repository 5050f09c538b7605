package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mikeboe/deep-research/pkg/analyst"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/report"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

// app holds the collaborators shared by every research run of one process.
type app struct {
	cfg     *config.Config
	console slog.Handler
	out     io.Writer

	analyst    *analyst.Analyst
	retriever  *search.Retriever
	controller *research.Controller

	db      *database.PostgresDB
	runs    *database.RunStore
	indexer *archive.Indexer
}

func newProvider(cfg *config.Config) (search.Provider, error) {
	switch cfg.SearchProvider {
	case config.ProviderExa:
		return search.NewExa(cfg.ExaApiKey, cfg.SearchTimeout), nil
	case config.ProviderArxiv:
		return search.NewArxiv(cfg.SearchTimeout), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}
}

func newApp(ctx context.Context, cfg *config.Config, console slog.Handler, out io.Writer) (*app, error) {
	llm, err := clients.GoogleAI(ctx, cfg.GoogleApiKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}

	an := analyst.New(llm)
	an.SnippetLength = cfg.ContentSnippet
	an.Temperature = cfg.Temperature
	an.MaxTokens = cfg.MaxTokens
	an.MaxRetries = cfg.LLMMaxRetries

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	retriever := search.NewRetriever(provider, search.Params{
		MaxResults:      cfg.MaxURLsPerQuery,
		ExcludedDomains: cfg.ExcludedDomains,
		NotBefore:       cfg.SearchNotBefore,
	})
	retriever.Timeout = cfg.SearchTimeout

	controller := research.NewController(an, retriever, an, an)
	controller.Engine.FanOutLimit = cfg.FanOutLimit

	return &app{
		cfg:        cfg,
		console:    console,
		out:        out,
		analyst:    an,
		retriever:  retriever,
		controller: controller,
	}, nil
}

// openArchive connects to PostgreSQL and prepares the run tables and the
// vector collection.
func (a *app) openArchive(ctx context.Context) error {
	db, err := database.NewPostgresDB(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	a.runs = database.NewRunStore(db)

	embedder, err := embeddings.NewGoogleEmbedder(ctx, a.cfg.GoogleApiKey, a.cfg.EmbeddingModel, a.cfg.EmbeddingDims)
	if err != nil {
		return err
	}
	a.indexer, err = archive.NewPostgresIndexer(ctx, db, embedder, archive.Options{
		Collection:   a.cfg.CollectionName,
		Dimensions:   a.cfg.EmbeddingDims,
		ChunkSize:    a.cfg.ChunkSize,
		ChunkOverlap: a.cfg.ChunkOverlap,
	})
	return err
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) setLogger(l *slog.Logger) {
	a.analyst.Logger = l
	a.retriever.Logger = l
	a.controller.Logger = l
	if a.indexer != nil {
		a.indexer.Logger = l
	}
}

func (a *app) options() research.Options {
	return research.Options{
		MaxIterations:           a.cfg.MaxIterations,
		StopConfidenceThreshold: a.cfg.StopConfidence,
		MinRelevanceScore:       a.cfg.MinRelevance,
	}
}

// research runs one query end to end: optional archive bookkeeping, the
// iteration loop, the report file and the printed summary.
func (a *app) research(ctx context.Context, query, saveTo string) error {
	opts := a.options()
	logger := slog.New(a.console)

	var run *database.Run
	if a.runs != nil {
		var err error
		run, err = a.runs.CreateRun(ctx, query, opts.MaxIterations)
		if err != nil {
			return err
		}
		logger = slog.New(database.NewDBLogHandler(a.db.Pool, run.ID, a.console)).With("run_id", run.ID)
	}
	a.setLogger(logger)

	a.controller.OnIteration = func(it research.Iteration) {
		printProgress(a.out, it)
		if run != nil {
			if err := a.runs.RecordIteration(ctx, run.ID, it); err != nil {
				logger.Error("Failed to record iteration", "error", err)
			}
		}
	}

	fmt.Fprintf(a.out, "Researching: %s\n", query)
	r, err := a.controller.Research(ctx, query, opts)
	if err != nil {
		if run != nil {
			if ferr := a.runs.FailRun(context.Background(), run.ID, err.Error()); ferr != nil {
				logger.Error("Failed to mark run failed", "error", ferr)
			}
		}
		return err
	}

	printSummary(a.out, r)

	path, err := report.Save(r, saveTo, a.cfg.PreviewLength)
	if err != nil {
		logger.Error("Failed to save report", "error", err)
	} else {
		fmt.Fprintf(a.out, "\nReport saved to %s\n", path)
	}

	if run != nil {
		if err := a.runs.CompleteRun(ctx, run.ID, r, a.cfg.PreviewLength); err != nil {
			logger.Error("Failed to store report", "error", err)
		}
		start := time.Now()
		n, err := a.indexer.IndexReport(ctx, run.ID, r)
		if err != nil {
			logger.Error("Failed to index report", "error", err)
		} else {
			logger.Info("Report archived", "chunks", n, "took", time.Since(start))
			fmt.Fprintf(a.out, "Run archived as %s\n", run.ID)
		}
	}
	return nil
}
