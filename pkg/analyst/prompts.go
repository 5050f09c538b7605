package analyst

import (
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/mikeboe/deep-research/pkg/research"
)

const responseFormat = "\n\n# Response Format:\n" +
	"Return the JSON object directly without any formatting or additional text. " +
	"The JSON object should have the following structure as defined in the schema. " +
	"Make sure to answer in valid json and include all necessary properties:"

const expandSystem = `You are a research planner.
Generate exactly 3 specific search queries that approach the research question from different angles:
one broad overview, one focused on recent developments, and one on a specific sub-topic or controversy.`

const expandSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "List of 3 specific search queries"
    }
  },
  "required": ["queries"]
}`

const summarizeSystem = `You are a research analyst.
Judge whether the source below helps answer the original research question and summarize it.
Score relevance from 1-10 (10 being most relevant). Mark the source as relevant only if it
contains information that directly contributes to answering the question.`

const summarizeSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string"},
    "relevance_score": {"type": "integer", "minimum": 1, "maximum": 10},
    "is_relevant": {"type": "boolean"},
    "summary": {"type": "string", "description": "2-4 sentence summary of the content"},
    "key_insights": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["url", "relevance_score", "is_relevant", "summary", "key_insights"]
}`

const synthesizeSystem = `You are a research director.
Synthesize the summaries into a coherent analysis of the research question.
Identify the main themes, competing perspectives and the implications, list what is still unknown,
rate your confidence that the question is answered from 1-10, and say whether more research is needed.`

const synthesizeSchema = `{
  "type": "object",
  "properties": {
    "executive_summary": {"type": "string"},
    "key_findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"theme": {"type": "string"}, "finding": {"type": "string"}},
        "required": ["theme", "finding"]
      }
    },
    "perspectives": {"type": "array", "items": {"type": "string"}},
    "implications": {"type": "string"},
    "information_gaps": {"type": "array", "items": {"type": "string"}},
    "confidence_score": {"type": "integer", "minimum": 1, "maximum": 10},
    "needs_more_research": {"type": "boolean"}
  },
  "required": ["executive_summary", "key_findings", "perspectives", "implications", "information_gaps", "confidence_score", "needs_more_research"]
}`

var (
	expandPrompt = prompts.NewPromptTemplate(
		"Research question: {{.original_query}}",
		[]string{"original_query"},
	)

	summarizePrompt = prompts.NewPromptTemplate(`Original research question: {{.original_query}}
Search query: {{.search_query}}
URL: {{.url}}

Content:
{{.content}}`,
		[]string{"original_query", "search_query", "url", "content"},
	)

	synthesizePrompt = prompts.NewPromptTemplate(`Original research question: {{.original_query}}

Summaries ({{.count}}):
{{.summaries}}`,
		[]string{"original_query", "count", "summaries"},
	)
)

func render(tmpl prompts.PromptTemplate, values map[string]any) (string, error) {
	out, err := tmpl.Format(values)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return out, nil
}

func renderExpand(query string) (string, string, error) {
	human, err := render(expandPrompt, map[string]any{"original_query": query})
	return expandSystem + responseFormat + expandSchema, human, err
}

func renderSummarize(originalQuery, searchQuery, url, content string) (string, string, error) {
	human, err := render(summarizePrompt, map[string]any{
		"original_query": originalQuery,
		"search_query":   searchQuery,
		"url":            url,
		"content":        content,
	})
	return summarizeSystem + responseFormat + summarizeSchema, human, err
}

func renderSynthesize(originalQuery string, summaries []research.Summary) (string, string, error) {
	encoded, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode summaries: %w", err)
	}
	human, err := render(synthesizePrompt, map[string]any{
		"original_query": originalQuery,
		"count":          len(summaries),
		"summaries":      string(encoded),
	})
	return synthesizeSystem + responseFormat + synthesizeSchema, human, err
}
