package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/price-tracker/internal/fetcher"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/storage"
)

// The failure classes a caller can distinguish with errors.Is.
var (
	ErrInvalidURL    = fetcher.ErrInvalidURL
	ErrFetchFailed   = fetcher.ErrFetchFailed
	ErrMissingFields = errors.New("required fields missing")
	ErrStorage       = storage.ErrStorage
)

// MissingFieldsError lists the required fields extraction left empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingFields, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error {
	return ErrMissingFields
}

// ProductFetcher loads and extracts a single product page.
type ProductFetcher interface {
	Fetch(ctx context.Context, url string) (*models.Product, error)
}

type TrackResult struct {
	ID      int64           `json:"id"`
	Product *models.Product `json:"product"`
}

// Tracker runs the fetch, validate and persist pipeline for one URL.
type Tracker struct {
	fetcher ProductFetcher
	store   storage.Store
	logger  *slog.Logger
}

func New(f ProductFetcher, store storage.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		fetcher: f,
		store:   store,
		logger:  logger.With("component", "tracker"),
	}
}

// Track fetches rawURL, checks the extracted record is complete and upserts
// it. Nothing is written unless every step succeeds.
func (t *Tracker) Track(ctx context.Context, rawURL string) (*TrackResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := fetcher.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	product, err := t.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if product == nil {
		return nil, fmt.Errorf("%w: no product extracted", ErrFetchFailed)
	}

	product.URL = rawURL
	product.Normalize()

	if missing := product.MissingFields(); len(missing) > 0 {
		t.logger.Warn("extracted product incomplete", "url", rawURL, "missing", missing)
		return nil, &MissingFieldsError{Fields: missing}
	}

	id, err := t.store.Upsert(ctx, product)
	if err != nil {
		t.logger.Error("failed to store product", "url", rawURL, "error", err)
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	product.ID = id

	t.logger.Info("product tracked",
		"id", id,
		"url", rawURL,
		"store", product.Store,
		"price", product.Price,
		"currency", product.Currency,
	)

	return &TrackResult{ID: id, Product: product}, nil
}

// ListTracked returns every stored product, most recently scraped first.
func (t *Tracker) ListTracked(ctx context.Context) ([]*models.Product, error) {
	products, err := t.store.ListAll(ctx)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return products, nil
}
