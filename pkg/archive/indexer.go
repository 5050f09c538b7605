// Package archive indexes finished research reports into a pgvector
// collection so earlier findings can be searched semantically.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const (
	KindSynthesis = "synthesis"
	KindFinding   = "finding"
	KindSummary   = "summary"
)

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error)
	DeleteByMetadata(ctx context.Context, filter map[string]any) (int64, error)
}

type Splitter interface {
	SplitText(text string) ([]string, error)
}

// Indexer chunks, embeds and stores reports.
type Indexer struct {
	Embedder Embedder
	Store    Store
	Splitter Splitter
	Logger   *slog.Logger
}

// Options configure NewPostgresIndexer.
type Options struct {
	Collection   string
	Dimensions   int
	ChunkSize    int
	ChunkOverlap int
}

// NewPostgresIndexer prepares the pgvector collection and wires the
// default splitter and store around embedder.
func NewPostgresIndexer(ctx context.Context, db *database.PostgresDB, embedder Embedder, opts Options) (*Indexer, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = embeddings.DefaultDimensions
	}
	store, err := vectorstore.NewPGVectorStore(db.Pool, opts.Collection)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure vector extension: %w", err)
	}
	if err := db.CreateEmbeddingsTable(ctx, opts.Collection, opts.Dimensions); err != nil {
		return nil, err
	}
	return &Indexer{
		Embedder: embedder,
		Store:    store,
		Splitter: splitter.NewRecursiveCharacterTextSplitter(opts.ChunkSize, opts.ChunkOverlap),
		Logger:   slog.Default(),
	}, nil
}

func (ix *Indexer) logger() *slog.Logger {
	if ix.Logger == nil {
		return slog.Default()
	}
	return ix.Logger
}

// piece is one indexable passage of a report before chunking.
type piece struct {
	text      string
	kind      string
	source    string
	iteration int
}

func reportPieces(r *research.ResearchReport) []piece {
	var pieces []piece

	final := r.FinalSynthesis
	if text := strings.TrimSpace(strings.Join([]string{final.ExecutiveSummary, final.Implications}, "\n\n")); text != "" {
		pieces = append(pieces, piece{text: text, kind: KindSynthesis})
	}
	for _, f := range final.KeyFindings {
		text := f.Finding
		if f.Theme != "" {
			text = f.Theme + ": " + f.Finding
		}
		pieces = append(pieces, piece{text: text, kind: KindFinding})
	}

	for _, it := range r.Iterations {
		for _, s := range it.Summaries {
			var b strings.Builder
			b.WriteString(s.Summary)
			for _, insight := range s.KeyInsights {
				b.WriteString("\n- ")
				b.WriteString(insight)
			}
			pieces = append(pieces, piece{text: b.String(), kind: KindSummary, source: s.URL, iteration: it.IterationNumber})
		}
	}
	return pieces
}

// IndexReport replaces whatever was indexed for runID with the chunks of r
// and returns the number of chunks stored.
func (ix *Indexer) IndexReport(ctx context.Context, runID uuid.UUID, r *research.ResearchReport) (int, error) {
	var docs []vectorstore.Document
	var texts []string

	for _, p := range reportPieces(r) {
		chunks, err := ix.Splitter.SplitText(p.text)
		if err != nil {
			return 0, fmt.Errorf("failed to split %s text: %w", p.kind, err)
		}
		for _, chunk := range chunks {
			texts = append(texts, chunk)
			docs = append(docs, vectorstore.Document{
				Content: chunk,
				Metadata: map[string]any{
					"run_id":    runID.String(),
					"query":     r.OriginalQuery,
					"source":    p.source,
					"iteration": p.iteration,
					"kind":      p.kind,
				},
			})
		}
	}

	if removed, err := ix.Store.DeleteByMetadata(ctx, map[string]any{"run_id": runID.String()}); err != nil {
		return 0, err
	} else if removed > 0 {
		ix.logger().Info("Removed previous index entries", "run_id", runID, "count", removed)
	}

	if len(docs) == 0 {
		return 0, nil
	}

	vectors, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vectors[i]
	}

	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to add documents to vector store: %w", err)
	}

	ix.logger().Info("Indexed report", "run_id", runID, "chunks", len(docs))
	return len(docs), nil
}

// Match is one search result.
type Match struct {
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	RunID     string  `json:"run_id"`
	Query     string  `json:"query"`
	Source    string  `json:"source,omitempty"`
	Iteration int     `json:"iteration,omitempty"`
	Kind      string  `json:"kind"`
}

// Search finds the topK chunks closest to text. A nil runID searches
// every archived run.
func (ix *Indexer) Search(ctx context.Context, text string, topK int, runID *uuid.UUID) ([]Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("search text is empty")
	}

	vec, err := ix.Embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search text: %w", err)
	}

	var filter map[string]any
	if runID != nil {
		filter = map[string]any{"run_id": runID.String()}
	}

	results, err := ix.Store.SimilaritySearch(ctx, vec, topK, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		meta := res.Document.Metadata
		matches = append(matches, Match{
			Content:   res.Document.Content,
			Score:     res.Score,
			RunID:     stringField(meta, "run_id"),
			Query:     stringField(meta, "query"),
			Source:    stringField(meta, "source"),
			Iteration: intField(meta, "iteration"),
			Kind:      stringField(meta, "kind"),
		})
	}
	return matches, nil
}

func stringField(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// intField reads a number that went through JSONB and came back as float64.
func intField(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
