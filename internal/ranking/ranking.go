package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

var (
	ErrNotConfigured = errors.New("ranking oracle not configured")
	ErrOracle        = errors.New("ranking oracle failed")
)

const maxResponseBytes = 1 << 20

// Ranker orders search candidates for a shopping query.
type Ranker interface {
	Rank(ctx context.Context, req Request) (*Analysis, error)
}

type PriceRange struct {
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

type Request struct {
	Query      string                `json:"query"`
	PriceRange *PriceRange           `json:"price_range,omitempty"`
	Categories []string              `json:"categories,omitempty"`
	Products   []models.SearchResult `json:"products"`
}

// Analysis is the oracle's verdict. Only TopProducts has a fixed shape; the
// remaining fields are passed through to clients as returned.
type Analysis struct {
	TopProducts   []models.SearchResult `json:"top_products"`
	Reasoning     json.RawMessage       `json:"reasoning,omitempty"`
	PriceAnalysis json.RawMessage       `json:"price_analysis,omitempty"`
	Alternatives  json.RawMessage       `json:"alternatives,omitempty"`
}

// Noop is used when no oracle endpoint is configured.
type Noop struct{}

func (Noop) Rank(ctx context.Context, req Request) (*Analysis, error) {
	return nil, ErrNotConfigured
}

type HTTPRanker struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPRanker(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPRanker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRanker{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "ranking"),
	}
}

func (r *HTTPRanker) Rank(ctx context.Context, req Request) (*Analysis, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrOracle, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracle, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrOracle, resp.StatusCode)
	}

	var analysis Analysis
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrOracle, err)
	}

	r.logger.Debug("ranked candidates",
		"query", req.Query,
		"candidates", len(req.Products),
		"top", len(analysis.TopProducts),
		"duration", time.Since(start))

	return &analysis, nil
}
