package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// ErrStorage wraps every failure surfaced by a Store backend.
var ErrStorage = errors.New("storage failure")

// Store persists product records keyed by URL.
//
// Upsert inserts a new row or fully replaces the row sharing the same URL,
// stamps ScrapedAt at write time and returns the row id. The row id of an
// existing URL is preserved across replaces. ListAll returns every record,
// most recently scraped first with ties broken by descending id.
type Store interface {
	Upsert(ctx context.Context, product *models.Product) (int64, error)
	ListAll(ctx context.Context) ([]*models.Product, error)
	Close() error
}

// Clock returns the write timestamp; swapped out in tests.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
