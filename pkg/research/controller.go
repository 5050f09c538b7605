package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrEmptyQuery          = errors.New("research query is empty")
	ErrMissingCollaborator = errors.New("research collaborator is not configured")
)

// Controller drives the iteration loop and assembles the final report.
type Controller struct {
	Engine *IterationEngine
	Logger *slog.Logger

	// OnIteration is called after each iteration has been appended to the
	// run history.
	OnIteration func(it Iteration)

	now func() time.Time
}

// NewController wires the four collaborators into a controller.
func NewController(expander Expander, retriever Retriever, summarizer Summarizer, synthesizer Synthesizer) *Controller {
	return &Controller{
		Engine: &IterationEngine{
			Expander:    expander,
			Retriever:   retriever,
			Summarizer:  summarizer,
			Synthesizer: synthesizer,
		},
		Logger: slog.Default(),
	}
}

func (c *Controller) validate() error {
	if c.Engine == nil {
		return fmt.Errorf("%w: iteration engine", ErrMissingCollaborator)
	}
	var missing []string
	if c.Engine.Expander == nil {
		missing = append(missing, "expander")
	}
	if c.Engine.Retriever == nil {
		missing = append(missing, "retriever")
	}
	if c.Engine.Summarizer == nil {
		missing = append(missing, "summarizer")
	}
	if c.Engine.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Controller) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Research runs iterations until the synthesizer is confident enough and
// asks for no more research, or until MaxIterations is reached. The only
// errors returned are configuration errors detected before the first
// iteration starts.
func (c *Controller) Research(ctx context.Context, query string, opts Options) (*ResearchReport, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	opts = opts.withDefaults()

	engine := *c.Engine
	engine.MinRelevanceScore = opts.MinRelevanceScore
	if engine.Logger == nil {
		engine.Logger = c.logger()
	}

	log := c.logger()
	started := c.clock()
	log.Info("Starting research loop", "query", query, "max_iterations", opts.MaxIterations, "threshold", opts.StopConfidenceThreshold)

	history := make([]Iteration, 0, opts.MaxIterations)
	for n := 1; n <= opts.MaxIterations; n++ {
		log.Info("Starting iteration", "iteration", n, "max", opts.MaxIterations)

		it := engine.RunIteration(ctx, query, n)
		history = append(history, it)

		if c.OnIteration != nil {
			c.OnIteration(it)
		}

		log.Info("Iteration complete",
			"iteration", n,
			"confidence", it.Synthesis.ConfidenceScore,
			"needs_more_research", it.Synthesis.NeedsMoreResearch,
			"sources", len(it.SearchResults),
			"summaries", len(it.Summaries),
		)

		if stop, reason := shouldStop(it.Synthesis, n, opts); stop {
			log.Info("Stopping research", "reason", reason)
			break
		}
	}

	log.Info("Creating final synthesis", "iterations", len(history))
	final := c.finalSynthesis(ctx, query, history)

	report := &ResearchReport{
		OriginalQuery:   query,
		Iterations:      history,
		FinalSynthesis:  final,
		TotalSources:    TotalSources(history),
		ConfidenceScore: float64(final.ConfidenceScore),
		StartedAt:       started,
		Duration:        c.clock().Sub(started),
	}

	log.Info("Research complete",
		"iterations", len(report.Iterations),
		"total_sources", report.TotalSources,
		"confidence", report.ConfidenceScore,
		"duration", report.Duration,
	)
	return report, nil
}

const (
	stopConfident = "sufficient confidence achieved"
	stopExhausted = "maximum iterations reached"
)

func shouldStop(s SynthesisResult, n int, opts Options) (bool, string) {
	if s.ConfidenceScore >= opts.StopConfidenceThreshold && !s.NeedsMoreResearch {
		return true, stopConfident
	}
	if n >= opts.MaxIterations {
		return true, stopExhausted
	}
	return false, ""
}

// finalSynthesis runs the synthesizer once over the relevant summaries of
// every iteration.
func (c *Controller) finalSynthesis(ctx context.Context, query string, history []Iteration) SynthesisResult {
	var all []Summary
	for _, it := range history {
		for _, s := range it.Summaries {
			s.Iteration = it.IterationNumber
			all = append(all, s)
		}
	}
	if all == nil {
		all = []Summary{}
	}

	final := synthesizeOrDegrade(ctx, c.logger(), c.Engine.Synthesizer, query, all)
	final.Metadata = &SynthesisMetadata{
		TotalIterations:   len(history),
		TotalSummaries:    len(all),
		ResearchTimestamp: c.clock(),
	}
	return final
}

// TotalSources is the number of hits retrieved across all iterations.
func TotalSources(iterations []Iteration) int {
	total := 0
	for _, it := range iterations {
		total += len(it.SearchResults)
	}
	return total
}
