package analyst

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
)

// scriptedModel replays canned responses in order and records the prompts it saw.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.prompts)
	m.prompts = append(m.prompts, messages)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, errors.New("script exhausted")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.responses[i]}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) humanPrompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, part := range m.prompts[i][1].Parts {
		if text, ok := part.(llms.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

func newTestAnalyst(m *scriptedModel) *Analyst {
	a := New(m)
	a.RetryDelay = 0
	return a
}

func TestExpand(t *testing.T) {
	m := &scriptedModel{responses: []string{"```json\n{\"queries\": [\" solar cells \", \"\", \"perovskite stability\"]}\n```"}}

	queries, err := newTestAnalyst(m).Expand(context.Background(), "solar energy")
	require.NoError(t, err)
	assert.Equal(t, []string{"solar cells", "perovskite stability"}, queries)
	assert.Contains(t, m.humanPrompt(0), "solar energy")
}

func TestExpandRetriesThenFails(t *testing.T) {
	m := &scriptedModel{responses: []string{`{"queries": []}`, `not json`, `{"queries": ["   "]}`}}
	a := newTestAnalyst(m)

	_, err := a.Expand(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Len(t, m.prompts, a.MaxRetries)
}

func TestGenerateRetriesOnModelError(t *testing.T) {
	m := &scriptedModel{
		errs:      []error{errors.New("quota"), nil},
		responses: []string{"", `{"queries": ["a"]}`},
	}

	queries, err := newTestAnalyst(m).Expand(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, queries)
	assert.Len(t, m.prompts, 2)
}

func TestSummarize(t *testing.T) {
	m := &scriptedModel{responses: []string{`{
		"url": "https://model-echo.example",
		"relevance_score": 8,
		"is_relevant": true,
		"summary": "Good source.",
		"key_insights": ["one", "two"]
	}`}}
	a := newTestAnalyst(m)
	a.SnippetLength = 10

	s, err := a.Summarize(context.Background(), "orig", "sub", "https://a.com", strings.Repeat("x", 50))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "https://a.com", s.URL, "the caller's url wins over the echoed one")
	assert.Equal(t, "sub", s.SearchQuery)
	assert.Equal(t, 8, s.RelevanceScore)
	assert.True(t, s.IsRelevant)
	assert.Equal(t, []string{"one", "two"}, s.KeyInsights)

	prompt := m.humanPrompt(0)
	assert.Contains(t, prompt, strings.Repeat("x", 10))
	assert.NotContains(t, prompt, strings.Repeat("x", 11))
}

func TestDecodeSummary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"relevance_score": 3, "is_relevant": false, "summary": "meh"}`, false},
		{"missing score", `{"is_relevant": true, "summary": "s"}`, true},
		{"score out of range", `{"relevance_score": 11, "is_relevant": true, "summary": "s"}`, true},
		{"score zero", `{"relevance_score": 0, "is_relevant": true, "summary": "s"}`, true},
		{"missing is_relevant", `{"relevance_score": 5, "summary": "s"}`, true},
		{"wrong type", `{"relevance_score": "high", "is_relevant": true, "summary": "s"}`, true},
		{"missing summary", `{"relevance_score": 5, "is_relevant": true}`, true},
		{"not json", `I think this is relevant`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := decodeSummary(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s.KeyInsights)
		})
	}
}

func TestSynthesize(t *testing.T) {
	m := &scriptedModel{responses: []string{`{
		"executive_summary": "Summary",
		"key_findings": [{"theme": "cost", "finding": "falling"}],
		"perspectives": ["optimistic"],
		"implications": "More deployment",
		"information_gaps": [],
		"confidence_score": 8,
		"needs_more_research": false
	}`}}
	summaries := []research.Summary{{URL: "https://a.com", RelevanceScore: 9, IsRelevant: true, Summary: "cheap panels"}}

	result, err := newTestAnalyst(m).Synthesize(context.Background(), "solar", summaries)
	require.NoError(t, err)
	assert.Equal(t, 8, result.ConfidenceScore)
	assert.False(t, result.NeedsMoreResearch)
	assert.Equal(t, []research.KeyFinding{{Theme: "cost", Finding: "falling"}}, result.KeyFindings)
	assert.Contains(t, m.humanPrompt(0), "cheap panels")
}

func TestDecodeSynthesis(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"minimal", `{"executive_summary": "s", "confidence_score": 1, "needs_more_research": true}`, false},
		{"missing confidence", `{"executive_summary": "s", "needs_more_research": true}`, true},
		{"confidence out of range", `{"executive_summary": "s", "confidence_score": 42, "needs_more_research": true}`, true},
		{"missing flag", `{"executive_summary": "s", "confidence_score": 5}`, true},
		{"missing summary", `{"confidence_score": 5, "needs_more_research": false}`, true},
		{"empty finding", `{"executive_summary": "s", "confidence_score": 5, "needs_more_research": false, "key_findings": [{"theme": "t"}]}`, true},
		{"findings wrong shape", `{"executive_summary": "s", "confidence_score": 5, "needs_more_research": false, "key_findings": "many"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decodeSynthesis(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r.KeyFindings)
			assert.NotNil(t, r.Perspectives)
			assert.NotNil(t, r.InformationGaps)
		})
	}
}

func TestSynthesizeMalformed(t *testing.T) {
	m := &scriptedModel{responses: []string{"{", "{", "{"}}
	_, err := newTestAnalyst(m).Synthesize(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json{\"a\":1}```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFences(tt.in))
	}
}
