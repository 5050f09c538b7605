package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExa(url string) *Exa {
	e := NewExa("test-key", time.Second)
	e.BaseURL = url
	e.RetryDelay = time.Millisecond
	return e
}

func TestExaSearch(t *testing.T) {
	var got exaSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.com", "title": "A", "text": "full text", "publishedDate": "2023-01-02T00:00:00.000Z", "score": 0.8},
			{"url": "https://b.com", "title": "", "highlights": ["first", "second"]},
			{"url": "https://c.com", "title": "C"}
		]}`))
	}))
	defer srv.Close()

	params := Params{
		MaxResults:      20,
		ExcludedDomains: []string{"reddit.com"},
		NotBefore:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	hits, err := newTestExa(srv.URL).Search(context.Background(), "fusion power", params)
	require.NoError(t, err)

	assert.Equal(t, "fusion power", got.Query)
	assert.Equal(t, "auto", got.Type)
	assert.Equal(t, 20, got.NumResults)
	assert.Equal(t, []string{"reddit.com"}, got.ExcludeDomains)
	assert.Equal(t, "2020-01-01T00:00:00.000Z", got.StartPublishedDate)
	assert.Equal(t, "2020-01-01T00:00:00.000Z", got.StartCrawlDate)
	assert.True(t, got.Contents.Text)

	require.Len(t, hits, 3)
	assert.Equal(t, "full text", hits[0].Content)
	require.NotNil(t, hits[0].Score)
	assert.InDelta(t, 0.8, *hits[0].Score, 1e-9)
	assert.Equal(t, "No title", hits[1].Title)
	assert.Equal(t, "first\nsecond", hits[1].Content)
	assert.Equal(t, "No content available", hits[2].Content)
}

func TestExaRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"url": "https://a.com", "title": "A", "text": "t"}]}`))
	}))
	defer srv.Close()

	hits, err := newTestExa(srv.URL).Search(context.Background(), "q", Params{MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExaErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestExa(srv.URL).Search(context.Background(), "q", Params{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"results": [`))
		}))
		defer srv.Close()

		_, err := newTestExa(srv.URL).Search(context.Background(), "q", Params{})
		require.Error(t, err)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewExa("", time.Second).Search(context.Background(), "q", Params{})
		require.Error(t, err)
	})
}
