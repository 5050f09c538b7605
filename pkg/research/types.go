package research

import (
	"context"
	"time"
)

// Options controls a single research run
type Options struct {
	MaxIterations           int
	StopConfidenceThreshold int
	// MinRelevanceScore gates which relevant summaries are kept on an
	// iteration. Zero disables the score check.
	MinRelevanceScore int
}

const (
	DefaultMaxIterations           = 3
	DefaultStopConfidenceThreshold = 7
)

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.StopConfidenceThreshold <= 0 {
		o.StopConfidenceThreshold = DefaultStopConfidenceThreshold
	}
	return o
}

// SearchHit is one retrieved piece of web content
type SearchHit struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	PublishedDate string   `json:"published_date,omitempty"`
	Score         *float64 `json:"score,omitempty"`
}

// Summary is the model's relevance judgment and digest of one hit
type Summary struct {
	URL            string   `json:"url"`
	RelevanceScore int      `json:"relevance_score"`
	IsRelevant     bool     `json:"is_relevant"`
	Summary        string   `json:"summary"`
	KeyInsights    []string `json:"key_insights"`
	SearchQuery    string   `json:"search_query"`
	Iteration      int      `json:"iteration,omitempty"`
}

type KeyFinding struct {
	Theme   string `json:"theme"`
	Finding string `json:"finding"`
}

// SynthesisMetadata is attached to the final cross-iteration synthesis only
type SynthesisMetadata struct {
	TotalIterations   int       `json:"total_iterations"`
	TotalSummaries    int       `json:"total_sources"`
	ResearchTimestamp time.Time `json:"research_timestamp"`
}

type SynthesisResult struct {
	ExecutiveSummary  string             `json:"executive_summary"`
	KeyFindings       []KeyFinding       `json:"key_findings"`
	Perspectives      []string           `json:"perspectives"`
	Implications      string             `json:"implications"`
	InformationGaps   []string           `json:"information_gaps"`
	ConfidenceScore   int                `json:"confidence_score"`
	NeedsMoreResearch bool               `json:"needs_more_research"`
	Metadata          *SynthesisMetadata `json:"metadata,omitempty"`
}

// DegradedSynthesis is what an iteration records when the synthesizer
// could not produce a usable result.
func DegradedSynthesis() SynthesisResult {
	return SynthesisResult{
		ExecutiveSummary:  "Error in synthesis",
		KeyFindings:       []KeyFinding{},
		Perspectives:      []string{},
		Implications:      "Unable to synthesize due to parsing error",
		InformationGaps:   []string{"Synthesis failed"},
		ConfidenceScore:   1,
		NeedsMoreResearch: true,
	}
}

// Iteration is the immutable record of one expand/retrieve/summarize/synthesize pass
type Iteration struct {
	IterationNumber int             `json:"iteration_number"`
	Queries         []string        `json:"queries"`
	SearchResults   []SearchHit     `json:"search_results"`
	Summaries       []Summary       `json:"summaries"`
	Synthesis       SynthesisResult `json:"synthesis_result"`
}

// ResearchReport is the result of a complete run
type ResearchReport struct {
	OriginalQuery   string          `json:"original_query"`
	Iterations      []Iteration     `json:"iterations"`
	FinalSynthesis  SynthesisResult `json:"final_synthesis"`
	TotalSources    int             `json:"total_sources"`
	ConfidenceScore float64         `json:"confidence_score"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration_ns"`
}

// Expander turns one query into several differently angled search queries.
type Expander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// Retriever returns the hits for one search query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]SearchHit, error)
}

// Summarizer judges and digests a single hit. A nil summary with a nil
// error means the hit should be dropped.
type Summarizer interface {
	Summarize(ctx context.Context, originalQuery, searchQuery, url, content string) (*Summary, error)
}

// Synthesizer analyses a set of summaries.
type Synthesizer interface {
	Synthesize(ctx context.Context, originalQuery string, summaries []Summary) (SynthesisResult, error)
}
