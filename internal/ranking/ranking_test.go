package ranking

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidates() []models.SearchResult {
	return []models.SearchResult{
		{Title: "Cable A", Price: 9.99, URL: "https://www.amazon.com/dp/A", Source: "amazon"},
		{Title: "Cable B", Price: 7.50, URL: "https://www.ebay.com/itm/B", Source: "ebay"},
	}
}

func TestHTTPRanker_Rank(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"top_products": [{"title": "Cable B", "price": 7.5, "url": "https://www.ebay.com/itm/B", "source": "ebay"}],
			"reasoning": "cheapest with good reviews",
			"price_analysis": {"average": 8.75},
			"alternatives": []
		}`))
	}))
	defer server.Close()

	r := NewHTTPRanker(server.URL, "secret", time.Second, testLogger())
	analysis, err := r.Rank(context.Background(), Request{
		Query:      "usb c cable",
		PriceRange: &PriceRange{Max: 20},
		Products:   candidates(),
	})
	require.NoError(t, err)

	assert.Equal(t, "usb c cable", got.Query)
	assert.Len(t, got.Products, 2)
	assert.Equal(t, 20.0, got.PriceRange.Max)

	require.Len(t, analysis.TopProducts, 1)
	assert.Equal(t, "Cable B", analysis.TopProducts[0].Title)
	assert.JSONEq(t, `"cheapest with good reviews"`, string(analysis.Reasoning))
	assert.JSONEq(t, `{"average": 8.75}`, string(analysis.PriceAnalysis))
}

func TestHTTPRanker_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"top_products": []}`))
	}))
	defer server.Close()

	r := NewHTTPRanker(server.URL, "", time.Second, testLogger())
	_, err := r.Rank(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
}

func TestHTTPRanker_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"top_products": "not a list"`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				w.Write([]byte(`{}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			r := NewHTTPRanker(server.URL, "", 50*time.Millisecond, testLogger())
			analysis, err := r.Rank(context.Background(), Request{Query: "q", Products: candidates()})
			assert.ErrorIs(t, err, ErrOracle)
			assert.Nil(t, analysis)
		})
	}
}

func TestNoop(t *testing.T) {
	analysis, err := Noop{}.Rank(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, analysis)
}
