package research

import (
	"context"
	"log/slog"
	"strings"
)

// IterationEngine runs a single expand -> retrieve -> summarize -> synthesize pass.
type IterationEngine struct {
	Expander    Expander
	Retriever   Retriever
	Summarizer  Summarizer
	Synthesizer Synthesizer
	Logger      *slog.Logger

	// FanOutLimit caps concurrent collaborator calls per batch. Zero issues
	// every call at once.
	FanOutLimit       int
	MinRelevanceScore int
}

// FallbackQueries are used whenever query expansion fails.
func FallbackQueries(originalQuery string) []string {
	return []string{
		originalQuery,
		"comprehensive analysis of " + originalQuery,
		"latest research on " + originalQuery,
	}
}

// hitTask is one (query, url, content) triple handed to the summarizer.
type hitTask struct {
	query   string
	url     string
	content string
}

func (e *IterationEngine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// RunIteration never fails: every collaborator failure degrades in place.
func (e *IterationEngine) RunIteration(ctx context.Context, originalQuery string, iterationNumber int) Iteration {
	log := e.logger().With("iteration", iterationNumber)

	// 1. Expand
	queries := e.expand(ctx, log, originalQuery)
	log.Info("Generated queries", "count", len(queries), "queries", queries)

	// 2. Retrieve
	hitsByQuery := e.retrieve(ctx, log, queries)

	var allHits []SearchHit
	var tasks []hitTask
	for i, q := range queries {
		for _, hit := range hitsByQuery[i] {
			allHits = append(allHits, hit)
			tasks = append(tasks, hitTask{query: q, url: hit.URL, content: hit.Content})
		}
	}
	log.Info("Retrieval complete", "hits", len(allHits))

	// 3. Summarize
	produced := e.summarize(ctx, log, originalQuery, iterationNumber, tasks)

	kept := make([]Summary, 0, len(produced))
	for _, s := range produced {
		if s.IsRelevant && s.RelevanceScore >= e.MinRelevanceScore {
			kept = append(kept, s)
		}
	}
	log.Info("Summarization complete", "produced", len(produced), "relevant", len(kept))

	// 4. Synthesize over everything produced, relevant or not
	synthesis := synthesizeOrDegrade(ctx, log, e.Synthesizer, originalQuery, produced)

	if allHits == nil {
		allHits = []SearchHit{}
	}
	return Iteration{
		IterationNumber: iterationNumber,
		Queries:         queries,
		SearchResults:   allHits,
		Summaries:       kept,
		Synthesis:       synthesis,
	}
}

func (e *IterationEngine) expand(ctx context.Context, log *slog.Logger, originalQuery string) []string {
	raw, err := capture(func() ([]string, error) { return e.Expander.Expand(ctx, originalQuery) })
	if err != nil {
		log.Warn("Query expansion failed, using fallback queries", "query", originalQuery, "error", err)
		return FallbackQueries(originalQuery)
	}

	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		log.Warn("Query expansion returned no queries, using fallback queries", "query", originalQuery)
		return FallbackQueries(originalQuery)
	}
	return queries
}

// retrieve returns the hit list for each query, aligned by index.
func (e *IterationEngine) retrieve(ctx context.Context, log *slog.Logger, queries []string) [][]SearchHit {
	results := fanOut(ctx, queries, e.FanOutLimit, func(ctx context.Context, q string) ([]SearchHit, error) {
		return e.Retriever.Retrieve(ctx, q)
	})

	hits := make([][]SearchHit, len(queries))
	for i, r := range results {
		if r.Err != nil {
			log.Error("Search failed", "query", queries[i], "error", r.Err)
			continue
		}
		log.Debug("Search succeeded", "query", queries[i], "count", len(r.Value))
		hits[i] = r.Value
	}
	return hits
}

// summarize returns every summary the model produced, in hit order.
func (e *IterationEngine) summarize(ctx context.Context, log *slog.Logger, originalQuery string, iterationNumber int, tasks []hitTask) []Summary {
	results := fanOut(ctx, tasks, e.FanOutLimit, func(ctx context.Context, t hitTask) (*Summary, error) {
		return e.Summarizer.Summarize(ctx, originalQuery, t.query, t.url, t.content)
	})

	produced := make([]Summary, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			log.Warn("Summarization failed, dropping hit", "url", tasks[i].url, "query", tasks[i].query, "error", r.Err)
			continue
		}
		if r.Value == nil {
			log.Debug("Summarizer dropped hit", "url", tasks[i].url)
			continue
		}
		s := *r.Value
		s.URL = tasks[i].url
		s.SearchQuery = tasks[i].query
		s.Iteration = iterationNumber
		if s.KeyInsights == nil {
			s.KeyInsights = []string{}
		}
		produced = append(produced, s)
	}
	return produced
}

func synthesizeOrDegrade(ctx context.Context, log *slog.Logger, s Synthesizer, originalQuery string, summaries []Summary) SynthesisResult {
	result, err := capture(func() (SynthesisResult, error) { return s.Synthesize(ctx, originalQuery, summaries) })
	if err != nil {
		log.Error("Synthesis failed, degrading confidence", "summaries", len(summaries), "error", err)
		return DegradedSynthesis()
	}
	return result
}
