package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/parser"
)

var (
	ErrInvalidURL   = errors.New("invalid product URL")
	ErrFetchFailed  = errors.New("fetch failed")
	ErrBlocked      = errors.New("blocked by anti-bot page")
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// StatusError reports a non-2xx response from the retailer.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// PageLoader retrieves the raw HTML of a page.
type PageLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// Fetcher performs a single page load and hands the body to the dispatcher.
// It never retries; callers decide whether a failure is worth another attempt.
type Fetcher struct {
	loader     PageLoader
	dispatcher *parser.Dispatcher
	logger     *slog.Logger
}

func New(loader PageLoader, dispatcher *parser.Dispatcher, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		loader:     loader,
		dispatcher: dispatcher,
		logger:     logger.With("component", "fetcher"),
	}
}

// Fetch returns the extracted product for rawURL. Any network or HTTP
// failure is reported as ErrFetchFailed and no partial record is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.Product, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	html, err := f.loader.Load(ctx, rawURL)
	if err != nil {
		f.logger.Warn("page load failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	product := f.dispatcher.Extract(rawURL, html)

	f.logger.Debug("product extracted",
		"url", rawURL,
		"store", product.Store,
		"name", product.Name,
		"price", product.Price,
	)

	return product, nil
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return nil
}
