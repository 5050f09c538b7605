package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Params are the fixed retrieval constraints applied to every query.
type Params struct {
	MaxResults      int
	ExcludedDomains []string
	NotBefore       time.Time
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, params Params) ([]research.SearchHit, error)
}

// Retriever applies Params to a Provider and never lets a failure escape:
// errors, panics and timeouts become an empty hit list plus a log line.
type Retriever struct {
	Provider Provider
	Params   Params
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewRetriever(p Provider, params Params) *Retriever {
	return &Retriever{Provider: p, Params: params, Logger: slog.Default()}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) (hits []research.SearchHit, err error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("provider", r.Provider.Name(), "query", query)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Search provider panicked", "panic", fmt.Sprint(rec))
			hits, err = []research.SearchHit{}, nil
		}
	}()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	raw, searchErr := r.Provider.Search(ctx, query, r.Params)
	if searchErr != nil {
		log.Error("Search failed", "error", searchErr)
		return []research.SearchHit{}, nil
	}

	hits = r.Params.Apply(raw)
	log.Info("Search successful", "count", len(hits), "dropped", len(raw)-len(hits))
	return hits, nil
}

// Apply enforces the exclusion set, the lookback window and the result cap
// on hits a provider returned. Order is preserved.
func (p Params) Apply(hits []research.SearchHit) []research.SearchHit {
	out := make([]research.SearchHit, 0, len(hits))
	for _, h := range hits {
		if p.MaxResults > 0 && len(out) >= p.MaxResults {
			break
		}
		if p.excluded(h.URL) {
			continue
		}
		if !p.NotBefore.IsZero() {
			if published, ok := parseDate(h.PublishedDate); ok && published.Before(p.NotBefore) {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

func (p Params) excluded(rawURL string) bool {
	if len(p.ExcludedDomains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.ExcludedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	time.DateOnly,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
