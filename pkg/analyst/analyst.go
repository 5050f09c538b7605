// Package analyst implements the model-backed research collaborators:
// query expansion, per-hit summarization and cross-summary synthesis.
package analyst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
)

// ErrMalformedResponse is returned when the model answered but the answer
// does not decode into the expected structure.
var ErrMalformedResponse = errors.New("malformed model response")

const (
	DefaultSnippetLength = 2000
	DefaultMaxRetries    = 3
)

// Analyst talks to a language model. It satisfies research.Expander,
// research.Summarizer and research.Synthesizer.
type Analyst struct {
	LLM    llms.Model
	Logger *slog.Logger

	SnippetLength int
	Temperature   float64
	MaxTokens     int
	MaxRetries    int
	RetryDelay    time.Duration
}

var (
	_ research.Expander    = (*Analyst)(nil)
	_ research.Summarizer  = (*Analyst)(nil)
	_ research.Synthesizer = (*Analyst)(nil)
)

func New(llm llms.Model) *Analyst {
	return &Analyst{
		LLM:           llm,
		Logger:        slog.Default(),
		SnippetLength: DefaultSnippetLength,
		Temperature:   0.7,
		MaxTokens:     8192,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    time.Second,
	}
}

func (a *Analyst) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Analyst) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithJSONMode(), llms.WithTemperature(a.Temperature)}
	if a.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(a.MaxTokens))
	}
	return opts
}

// generateWithRetry attempts to generate content and validates it using the provided function.
// It retries when the LLM fails or the validator returns an error.
func (a *Analyst) generateWithRetry(ctx context.Context, system, human string, validator func(string) error) error {
	maxRetries := max(a.MaxRetries, 1)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			a.logger().Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.RetryDelay * time.Duration(i)): // Linear backoff
			}
		}

		resp, err := a.LLM.GenerateContent(ctx, messages, a.callOptions()...)
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		if err := validator(stripFences(resp.Choices[0].Content)); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

// stripFences removes a surrounding markdown code fence, which models
// add even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Expand asks the model for differently angled search queries.
func (a *Analyst) Expand(ctx context.Context, query string) ([]string, error) {
	system, human, err := renderExpand(query)
	if err != nil {
		return nil, err
	}

	var queries []string
	err = a.generateWithRetry(ctx, system, human, func(content string) error {
		queries = nil
		q, err := decodeQueries(content)
		if err != nil {
			return err
		}
		queries = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query expansion: %w", err)
	}

	a.logger().Info("Generated queries", "queries", queries)
	return queries, nil
}

// Summarize judges one hit against the original query. Content is cut to
// SnippetLength before it is sent.
func (a *Analyst) Summarize(ctx context.Context, originalQuery, searchQuery, url, content string) (*research.Summary, error) {
	snippet := research.TruncateContent(content, a.snippetLength())
	system, human, err := renderSummarize(originalQuery, searchQuery, url, snippet)
	if err != nil {
		return nil, err
	}

	var summary *research.Summary
	err = a.generateWithRetry(ctx, system, human, func(content string) error {
		summary = nil
		s, err := decodeSummary(content)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", url, err)
	}

	summary.URL = url
	summary.SearchQuery = searchQuery
	return summary, nil
}

func (a *Analyst) snippetLength() int {
	if a.SnippetLength <= 0 {
		return DefaultSnippetLength
	}
	return a.SnippetLength
}

// Synthesize analyses the summaries as a whole and reports confidence.
func (a *Analyst) Synthesize(ctx context.Context, originalQuery string, summaries []research.Summary) (research.SynthesisResult, error) {
	system, human, err := renderSynthesize(originalQuery, summaries)
	if err != nil {
		return research.SynthesisResult{}, err
	}

	var result research.SynthesisResult
	err = a.generateWithRetry(ctx, system, human, func(content string) error {
		r, err := decodeSynthesis(content)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return research.SynthesisResult{}, fmt.Errorf("synthesis: %w", err)
	}

	a.logger().Info("Synthesis complete", "summaries", len(summaries), "confidence", result.ConfidenceScore, "needs_more_research", result.NeedsMoreResearch)
	return result, nil
}
