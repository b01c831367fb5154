package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scheduler"
	"github.com/maltedev/price-tracker/internal/search"
	"github.com/maltedev/price-tracker/internal/tracker"
)

type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) Track(ctx context.Context, rawURL string) (*tracker.TrackResult, error) {
	args := m.Called(ctx, rawURL)
	result, _ := args.Get(0).(*tracker.TrackResult)
	return result, args.Error(1)
}

func (m *MockProductService) ListTracked(ctx context.Context) ([]*models.Product, error) {
	args := m.Called(ctx)
	products, _ := args.Get(0).([]*models.Product)
	return products, args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*search.Response)
	return resp, args.Error(1)
}

type stubOutbox struct {
	stats database.RelayStats
	err   error
}

func (s stubOutbox) Stats(ctx context.Context) (database.RelayStats, error) {
	return s.stats, s.err
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubRefresher struct {
	running bool
	last    *scheduler.RunStats
}

func (s *stubRefresher) TryStart(ctx context.Context) error {
	if s.running {
		return scheduler.ErrRunInProgress
	}
	return nil
}

func (s *stubRefresher) LastRun() *scheduler.RunStats { return s.last }

// blockingTracker holds the refresh run open until release is closed.
type blockingTracker struct {
	release chan struct{}
}

func (b *blockingTracker) ListTracked(ctx context.Context) ([]*models.Product, error) {
	<-b.release
	return nil, nil
}

func (b *blockingTracker) Track(ctx context.Context, rawURL string) (*tracker.TrackResult, error) {
	return nil, errors.New("unexpected track")
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error { return nil }
func (nopLimiter) Record(error)                   {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	products *MockProductService
	searcher *MockSearcher
	handler  http.Handler
}

func newTestServer(outbox OutboxStats, refresher Refresher) *testServer {
	return newTestServerWithDB(nil, outbox, refresher)
}

func newTestServerWithDB(db Pinger, outbox OutboxStats, refresher Refresher) *testServer {
	ts := &testServer{
		products: new(MockProductService),
		searcher: new(MockSearcher),
	}
	h := NewHandlers(ts.products, ts.searcher, db, outbox, refresher, testLogger())
	ts.handler = NewRouter(h, RouterConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}, testLogger())
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestRoot(t *testing.T) {
	ts := newTestServer(nil, nil)

	rec := ts.do(http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Price Tracker API is running")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantCode   int
		wantStatus string
	}{
		{name: "no relay", outbox: nil, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "healthy relay", outbox: stubOutbox{stats: database.RelayStats{Pending: 3}}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "backlog", outbox: stubOutbox{stats: database.RelayStats{Pending: 5000}}, wantCode: http.StatusOK, wantStatus: "warning"},
		{name: "dead letters", outbox: stubOutbox{stats: database.RelayStats{DeadLetter: 500}}, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
		{name: "outbox error", outbox: stubOutbox{err: errors.New("db down")}, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(tt.outbox, nil)

			rec := ts.do(http.MethodGet, "/health", "")

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]interface{}
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestHealth_Database(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		ts := newTestServerWithDB(stubPinger{}, stubOutbox{}, nil)

		rec := ts.do(http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "ok", body["database"])
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := newTestServerWithDB(stubPinger{err: errors.New("connection refused")}, stubOutbox{}, nil)

		rec := ts.do(http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, "unreachable", body["database"])
	})
}

func TestTrackProduct_Created(t *testing.T) {
	ts := newTestServer(nil, nil)
	url := "https://www.amazon.com/dp/B0TEST"
	product := &models.Product{ID: 7, Name: "Test Widget", Price: 19.99, Currency: "USD", Store: "Amazon", URL: url}
	ts.products.On("Track", mock.Anything, url).Return(&tracker.TrackResult{ID: 7, Product: product}, nil)

	rec := ts.do(http.MethodPost, "/api/products", fmt.Sprintf(`{"url": %q}`, url))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		ID      int64           `json:"id"`
		Product *models.Product `json:"product"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, int64(7), body.ID)
	assert.Equal(t, "Test Widget", body.Product.Name)
	assert.Nil(t, body.Product.ImageURL)
	ts.products.AssertExpectations(t)
}

func TestTrackProduct_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "invalid url", err: fmt.Errorf("%w: unsupported scheme", tracker.ErrInvalidURL), wantCode: http.StatusBadRequest},
		{name: "fetch failed", err: fmt.Errorf("%w: status 404", tracker.ErrFetchFailed), wantCode: http.StatusBadGateway},
		{name: "missing fields", err: &tracker.MissingFieldsError{Fields: []string{"name"}}, wantCode: http.StatusUnprocessableEntity},
		{name: "storage", err: fmt.Errorf("%w: disk full", tracker.ErrStorage), wantCode: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil, nil)
			ts.products.On("Track", mock.Anything, "https://shop.example.com/x").Return(nil, tt.err)

			rec := ts.do(http.MethodPost, "/api/products", `{"url": "https://shop.example.com/x"}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body ErrorResponse
			decodeBody(t, rec, &body)
			assert.NotEmpty(t, body.Error)
			if tt.wantCode == http.StatusUnprocessableEntity {
				assert.Equal(t, []string{"name"}, body.Fields)
			}
		})
	}
}

func TestTrackProduct_BadRequests(t *testing.T) {
	ts := newTestServer(nil, nil)

	for _, body := range []string{`not json`, `{}`, `{"url": ""}`} {
		rec := ts.do(http.MethodPost, "/api/products", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	ts.products.AssertNotCalled(t, "Track", mock.Anything, mock.Anything)
}

func TestListProducts(t *testing.T) {
	ts := newTestServer(nil, nil)
	products := []*models.Product{
		{ID: 2, Name: "Newer", URL: "https://www.ebay.com/itm/2"},
		{ID: 1, Name: "Older", URL: "https://www.amazon.com/dp/1"},
	}
	ts.products.On("ListTracked", mock.Anything).Return(products, nil)

	rec := ts.do(http.MethodGet, "/api/products", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Products []*models.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Products, 2)
	assert.Equal(t, "Newer", body.Products[0].Name)
}

func TestListProducts_EmptyIsArray(t *testing.T) {
	ts := newTestServer(nil, nil)
	ts.products.On("ListTracked", mock.Anything).Return(nil, nil)

	rec := ts.do(http.MethodGet, "/api/products", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products": []}`, rec.Body.String())
}

func TestListProducts_StorageError(t *testing.T) {
	ts := newTestServer(nil, nil)
	ts.products.On("ListTracked", mock.Anything).Return(nil, tracker.ErrStorage)

	rec := ts.do(http.MethodGet, "/api/products", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(nil, nil)
	resp := &search.Response{
		RequestID: "req-1",
		Query:     "usb cable",
		Products:  []models.SearchResult{{Title: "Cable", Price: 9.99, URL: "https://www.amazon.com/dp/A", Source: "amazon"}},
	}
	ts.searcher.On("Search", mock.Anything, mock.MatchedBy(func(req search.Request) bool {
		return req.Query == "usb cable" && req.PriceRange != nil && req.PriceRange.Max == 20 &&
			len(req.Categories) == 1 && req.Categories[0] == "electronics"
	})).Return(resp, nil)

	rec := ts.do(http.MethodPost, "/api/search",
		`{"query": "usb cable", "price_range": {"min": 0, "max": 20}, "categories": ["electronics"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body search.Response
	decodeBody(t, rec, &body)
	assert.Equal(t, "req-1", body.RequestID)
	assert.False(t, body.Ranked)
	assert.Len(t, body.Products, 1)
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "empty query", err: search.ErrEmptyQuery, wantCode: http.StatusBadRequest},
		{name: "bad range", err: fmt.Errorf("%w: min 5 max 1", search.ErrInvalidPriceRange), wantCode: http.StatusBadRequest},
		{name: "all sites failed", err: fmt.Errorf("%w: blocked", search.ErrAllSitesFailed), wantCode: http.StatusBadGateway},
		{name: "unknown", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil, nil)
			ts.searcher.On("Search", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := ts.do(http.MethodPost, "/api/search", `{"query": "x"}`)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRefreshEndpoints(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(nil, nil)
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/refresh", "").Code)
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/refresh", "").Code)
	})

	t.Run("trigger", func(t *testing.T) {
		ts := newTestServer(nil, &stubRefresher{})

		rec := ts.do(http.MethodPost, "/api/refresh", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("concurrent triggers start one run", func(t *testing.T) {
		block := make(chan struct{})
		ft := &blockingTracker{release: block}
		refresher := scheduler.New(ft, nopLimiter{}, scheduler.Config{}, testLogger())
		ts := newTestServer(nil, refresher)

		codes := make(chan int, 4)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				codes <- ts.do(http.MethodPost, "/api/refresh", "").Code
			}()
		}
		wg.Wait()
		close(codes)
		close(block)

		counts := map[int]int{}
		for code := range codes {
			counts[code]++
		}
		assert.Equal(t, 1, counts[http.StatusAccepted])
		assert.Equal(t, 3, counts[http.StatusConflict])

		require.Eventually(t, func() bool { return refresher.LastRun() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("already running", func(t *testing.T) {
		ts := newTestServer(nil, &stubRefresher{running: true})
		assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/refresh", "").Code)
	})

	t.Run("last run", func(t *testing.T) {
		ts := newTestServer(nil, &stubRefresher{last: &scheduler.RunStats{Total: 3, Refreshed: 2, Failed: 1}})

		rec := ts.do(http.MethodGet, "/api/refresh", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var stats scheduler.RunStats
		decodeBody(t, rec, &stats)
		assert.Equal(t, 2, stats.Refreshed)
	})
}

func TestCORS(t *testing.T) {
	ts := newTestServer(nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
