package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

type fakeProvider struct {
	hits   []research.SearchHit
	err    error
	panics bool
	wait   bool
	got    Params
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, _ string, params Params) ([]research.SearchHit, error) {
	f.got = params
	if f.panics {
		panic("provider exploded")
	}
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

func TestParamsApply(t *testing.T) {
	notBefore := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	hits := []research.SearchHit{
		{URL: "https://example.com/a", PublishedDate: "2023-04-01T00:00:00.000Z"},
		{URL: "https://www.reddit.com/r/x", PublishedDate: "2023-01-01"},
		{URL: "https://old.example.org/b", PublishedDate: "2019-12-31"},
		{URL: "https://notreddit.com/c"},
		{URL: "https://example.net/d", PublishedDate: "sometime last year"},
		{URL: "https://example.io/e", PublishedDate: "2024-02-02"},
	}

	tests := []struct {
		name   string
		params Params
		want   []string
	}{
		{
			name:   "No constraints",
			params: Params{},
			want:   []string{"https://example.com/a", "https://www.reddit.com/r/x", "https://old.example.org/b", "https://notreddit.com/c", "https://example.net/d", "https://example.io/e"},
		},
		{
			name:   "Excluded domain matches subdomains only",
			params: Params{ExcludedDomains: []string{"reddit.com"}},
			want:   []string{"https://example.com/a", "https://old.example.org/b", "https://notreddit.com/c", "https://example.net/d", "https://example.io/e"},
		},
		{
			name:   "Lookback drops old dated hits and keeps undated ones",
			params: Params{NotBefore: notBefore},
			want:   []string{"https://example.com/a", "https://www.reddit.com/r/x", "https://notreddit.com/c", "https://example.net/d", "https://example.io/e"},
		},
		{
			name:   "Cap applies after filtering",
			params: Params{MaxResults: 3, ExcludedDomains: []string{"reddit.com"}, NotBefore: notBefore},
			want:   []string{"https://example.com/a", "https://notreddit.com/c", "https://example.net/d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, h := range tt.params.Apply(hits) {
				got = append(got, h.URL)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetrieverPassesParams(t *testing.T) {
	p := &fakeProvider{hits: []research.SearchHit{{URL: "https://a.com"}, {URL: "https://b.com"}}}
	params := Params{MaxResults: 1, ExcludedDomains: []string{"x.com"}}
	r := NewRetriever(p, params)

	hits, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, params, p.got)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://a.com", hits[0].URL)
}

func TestRetrieverNeverFails(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		timeout  time.Duration
	}{
		{"provider error", &fakeProvider{err: errors.New("503")}, 0},
		{"provider panic", &fakeProvider{panics: true}, 0},
		{"provider timeout", &fakeProvider{wait: true}, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(tt.provider, Params{})
			r.Timeout = tt.timeout

			hits, err := r.Retrieve(context.Background(), "q")
			require.NoError(t, err)
			assert.NotNil(t, hits)
			assert.Empty(t, hits)
		})
	}
}
