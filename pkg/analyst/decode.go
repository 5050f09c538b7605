package analyst

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Response payloads use pointers for required scalars so that a missing
// field is distinguishable from its zero value.

type queriesPayload struct {
	Queries []string `json:"queries"`
}

type summaryPayload struct {
	URL            string   `json:"url"`
	RelevanceScore *int     `json:"relevance_score"`
	IsRelevant     *bool    `json:"is_relevant"`
	Summary        *string  `json:"summary"`
	KeyInsights    []string `json:"key_insights"`
}

type synthesisPayload struct {
	ExecutiveSummary  *string               `json:"executive_summary"`
	KeyFindings       []research.KeyFinding `json:"key_findings"`
	Perspectives      []string              `json:"perspectives"`
	Implications      string                `json:"implications"`
	InformationGaps   []string              `json:"information_gaps"`
	ConfidenceScore   *int                  `json:"confidence_score"`
	NeedsMoreResearch *bool                 `json:"needs_more_research"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

func unmarshal(content string, v any) error {
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return malformed("json parse error: %v (content: %s)", err, clip(content))
	}
	return nil
}

func clip(s string) string {
	return research.TruncateContent(s, 200)
}

func decodeQueries(content string) ([]string, error) {
	var p queriesPayload
	if err := unmarshal(content, &p); err != nil {
		return nil, err
	}
	queries := make([]string, 0, len(p.Queries))
	for _, q := range p.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, malformed("empty queries list")
	}
	return queries, nil
}

func validScore(score int) bool {
	return score >= 1 && score <= 10
}

func decodeSummary(content string) (*research.Summary, error) {
	var p summaryPayload
	if err := unmarshal(content, &p); err != nil {
		return nil, err
	}
	switch {
	case p.RelevanceScore == nil:
		return nil, malformed("missing relevance_score")
	case !validScore(*p.RelevanceScore):
		return nil, malformed("relevance_score %d out of range", *p.RelevanceScore)
	case p.IsRelevant == nil:
		return nil, malformed("missing is_relevant")
	case p.Summary == nil:
		return nil, malformed("missing summary")
	}
	insights := p.KeyInsights
	if insights == nil {
		insights = []string{}
	}
	return &research.Summary{
		URL:            p.URL,
		RelevanceScore: *p.RelevanceScore,
		IsRelevant:     *p.IsRelevant,
		Summary:        *p.Summary,
		KeyInsights:    insights,
	}, nil
}

func decodeSynthesis(content string) (research.SynthesisResult, error) {
	var p synthesisPayload
	if err := unmarshal(content, &p); err != nil {
		return research.SynthesisResult{}, err
	}
	switch {
	case p.ExecutiveSummary == nil:
		return research.SynthesisResult{}, malformed("missing executive_summary")
	case p.ConfidenceScore == nil:
		return research.SynthesisResult{}, malformed("missing confidence_score")
	case !validScore(*p.ConfidenceScore):
		return research.SynthesisResult{}, malformed("confidence_score %d out of range", *p.ConfidenceScore)
	case p.NeedsMoreResearch == nil:
		return research.SynthesisResult{}, malformed("missing needs_more_research")
	}
	for i, f := range p.KeyFindings {
		if strings.TrimSpace(f.Finding) == "" {
			return research.SynthesisResult{}, malformed("key_findings[%d] has no finding", i)
		}
	}
	return research.SynthesisResult{
		ExecutiveSummary:  *p.ExecutiveSummary,
		KeyFindings:       orEmpty(p.KeyFindings),
		Perspectives:      orEmpty(p.Perspectives),
		Implications:      p.Implications,
		InformationGaps:   orEmpty(p.InformationGaps),
		ConfidenceScore:   *p.ConfidenceScore,
		NeedsMoreResearch: *p.NeedsMoreResearch,
	}, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
