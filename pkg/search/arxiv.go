package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches preprints through the arXiv Atom API.
type Arxiv struct {
	BaseURL string
	client  *http.Client
}

func NewArxiv(timeout time.Duration) *Arxiv {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Arxiv{BaseURL: arxivBaseURL, client: &http.Client{Timeout: timeout}}
}

func (a *Arxiv) Name() string { return "arxiv" }

// Search queries the arXiv API. The abstract becomes the hit content.
func (a *Arxiv) Search(ctx context.Context, query string, params Params) ([]research.SearchHit, error) {
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	values := url.Values{}
	values.Add("search_query", "all:"+query)
	values.Add("max_results", strconv.Itoa(maxResults))
	values.Add("start", "0")
	values.Add("sortBy", "relevance")
	apiURL := a.BaseURL + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arxiv request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, truncateBody(body))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	hits := make([]research.SearchHit, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := strings.TrimSpace(entry.ID)
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}
		hits = append(hits, research.SearchHit{
			URL:           link,
			Title:         firstNonEmpty(collapseSpace(entry.Title), "No title"),
			Content:       firstNonEmpty(collapseSpace(entry.Summary), "No content available"),
			PublishedDate: strings.TrimSpace(entry.Published),
		})
	}
	return hits, nil
}

// collapseSpace folds the hard line wraps arXiv puts in titles and abstracts.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
