package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const exaBaseURL = "https://api.exa.ai"

// Exa searches the web through the Exa API.
type Exa struct {
	APIKey  string
	BaseURL string
	client  *http.Client

	// MaxAttempts bounds retries on HTTP 429.
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewExa(apiKey string, timeout time.Duration) *Exa {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Exa{
		APIKey:      apiKey,
		BaseURL:     exaBaseURL,
		client:      &http.Client{Timeout: timeout},
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

func (e *Exa) Name() string { return "exa" }

type exaContents struct {
	Text       bool `json:"text"`
	Highlights bool `json:"highlights"`
	Summary    bool `json:"summary"`
}

type exaSearchRequest struct {
	Query              string      `json:"query"`
	Type               string      `json:"type"`
	NumResults         int         `json:"numResults"`
	ExcludeDomains     []string    `json:"excludeDomains,omitempty"`
	StartPublishedDate string      `json:"startPublishedDate,omitempty"`
	StartCrawlDate     string      `json:"startCrawlDate,omitempty"`
	Contents           exaContents `json:"contents"`
}

type exaResult struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Text          string   `json:"text"`
	Highlights    []string `json:"highlights"`
	Summary       string   `json:"summary"`
	PublishedDate string   `json:"publishedDate"`
	Score         *float64 `json:"score"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string, params Params) ([]research.SearchHit, error) {
	if strings.TrimSpace(e.APIKey) == "" {
		return nil, errors.New("exa: API key is missing")
	}

	payload, err := json.Marshal(exaSearchRequest{
		Query:              query,
		Type:               "auto",
		NumResults:         params.MaxResults,
		ExcludeDomains:     params.ExcludedDomains,
		StartPublishedDate: exaDate(params.NotBefore),
		StartCrawlDate:     exaDate(params.NotBefore),
		Contents:           exaContents{Text: true, Highlights: true, Summary: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exa request: %w", err)
	}

	body, err := e.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	var response exaSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode exa response: %w", err)
	}

	hits := make([]research.SearchHit, 0, len(response.Results))
	for _, r := range response.Results {
		hits = append(hits, research.SearchHit{
			URL:           r.URL,
			Title:         firstNonEmpty(r.Title, "No title"),
			Content:       firstNonEmpty(r.Text, strings.Join(r.Highlights, "\n"), r.Summary, "No content available"),
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}
	return hits, nil
}

func (e *Exa) post(ctx context.Context, payload []byte) ([]byte, error) {
	attempts := max(e.MaxAttempts, 1)
	delay := e.RetryDelay

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create exa request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-api-key", e.APIKey)

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("exa request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read exa response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt < attempts:
			// Back off and retry, doubling the delay each time
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		default:
			return nil, fmt.Errorf("exa http %d: %s", resp.StatusCode, truncateBody(body))
		}
	}
}

func exaDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
