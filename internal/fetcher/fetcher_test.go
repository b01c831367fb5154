package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubLoader struct {
	html  string
	err   error
	calls int
}

func (s *stubLoader) Load(ctx context.Context, url string) (string, error) {
	s.calls++
	return s.html, s.err
}

func TestFetcher_Fetch(t *testing.T) {
	loader := &stubLoader{html: `<html><head><meta name="description" content="A great widget"></head><body><h1>Widget</h1><span>$19.99</span></body></html>`}
	f := New(loader, parser.NewDispatcher(), testLogger())

	product, err := f.Fetch(context.Background(), "https://shop.example.com/widget")

	require.NoError(t, err)
	assert.Equal(t, "Widget", product.Name)
	assert.Equal(t, 19.99, product.Price)
	assert.Equal(t, "Unknown", product.Store)
	assert.Equal(t, "https://shop.example.com/widget", product.URL)
	assert.Equal(t, 1, loader.calls)
}

func TestFetcher_InvalidURL(t *testing.T) {
	loader := &stubLoader{}
	f := New(loader, parser.NewDispatcher(), testLogger())

	for _, raw := range []string{"", "   ", "ftp://example.com/file", "not a url", "https://", "://x"} {
		t.Run(raw, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), raw)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}

	assert.Zero(t, loader.calls)
}

func TestFetcher_LoaderErrorIsFetchFailed(t *testing.T) {
	cause := errors.New("connection refused")
	f := New(&stubLoader{err: cause}, parser.NewDispatcher(), testLogger())

	product, err := f.Fetch(context.Background(), "https://www.amazon.com/dp/B0")

	assert.Nil(t, product)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPLoader_Load(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html><body><h1>Hello</h1></body></html>"))
	}))
	defer server.Close()

	loader := NewHTTPLoader(DefaultOptions())
	html, err := loader.Load(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Hello</h1>")
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
}

func TestHTTPLoader_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := New(NewHTTPLoader(DefaultOptions()), parser.NewDispatcher(), testLogger())
	product, err := f.Fetch(context.Background(), server.URL+"/missing")

	assert.Nil(t, product)
	require.ErrorIs(t, err, ErrFetchFailed)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestHTTPLoader_BodyLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "at limit", size: 1024},
		{name: "over limit", size: 1025, wantErr: true},
		{name: "far over limit", size: 4096, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(strings.Repeat("a", tt.size)))
			}))
			defer server.Close()

			loader := NewHTTPLoader(Options{MaxBodyBytes: 1024})
			html, err := loader.Load(context.Background(), server.URL)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBodyTooLarge)
				assert.Empty(t, html)
				return
			}
			require.NoError(t, err)
			assert.Len(t, html, tt.size)
		})
	}
}

func TestFetcher_OversizedPageIsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><h1>" + strings.Repeat("x", 2048) + "</h1></html>"))
	}))
	defer server.Close()

	f := New(NewHTTPLoader(Options{MaxBodyBytes: 512}), parser.NewDispatcher(), testLogger())
	product, err := f.Fetch(context.Background(), server.URL+"/item")

	assert.Nil(t, product)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestHTTPLoader_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	loader := NewHTTPLoader(Options{Timeout: 50 * time.Millisecond})
	_, err := loader.Load(context.Background(), server.URL)

	assert.Error(t, err)
}

func TestHTTPLoader_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPLoader(DefaultOptions()).Load(ctx, server.URL)

	assert.ErrorIs(t, err, context.Canceled)
}
