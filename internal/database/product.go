package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/storage"
)

// ProductPublisher records a domain event for a product inside the same
// transaction that wrote it.
type ProductPublisher interface {
	PublishProductTracked(ctx context.Context, tx pgx.Tx, product *models.Product) error
}

// ProductStore is the PostgreSQL storage.Store backend.
type ProductStore struct {
	db        *DB
	publisher ProductPublisher
}

// NewProductStore returns a store over db. publisher may be nil, in which
// case no outbox events are written.
func NewProductStore(db *DB, publisher ProductPublisher) *ProductStore {
	return &ProductStore{db: db, publisher: publisher}
}

func (s *ProductStore) Upsert(ctx context.Context, p *models.Product) (int64, error) {
	if p == nil || p.URL == "" {
		return 0, fmt.Errorf("%w: product url is required", storage.ErrStorage)
	}

	query := `
		INSERT INTO products (name, price, currency, description, image_url, store, url, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			description = EXCLUDED.description,
			image_url = EXCLUDED.image_url,
			store = EXCLUDED.store,
			scraped_at = EXCLUDED.scraped_at
		RETURNING id, scraped_at`

	written := p.Clone()
	scrapedAt := time.Now().UTC()

	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query,
			written.Name, written.Price, written.Currency, written.Description,
			written.ImageURL, written.Store, written.URL, scrapedAt,
		).Scan(&written.ID, &written.ScrapedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}

		if s.publisher != nil {
			if err := s.publisher.PublishProductTracked(ctx, tx, written); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrStorage, err)
	}

	p.ID = written.ID
	p.ScrapedAt = written.ScrapedAt.UTC()
	return written.ID, nil
}

func (s *ProductStore) ListAll(ctx context.Context) ([]*models.Product, error) {
	query := `
		SELECT id, name, price, currency, description, image_url, store, url, scraped_at
		FROM products
		ORDER BY scraped_at DESC, id DESC`

	rows, err := s.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query products: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	products := []*models.Product{}
	for rows.Next() {
		p := &models.Product{}
		err := rows.Scan(
			&p.ID, &p.Name, &p.Price, &p.Currency, &p.Description,
			&p.ImageURL, &p.Store, &p.URL, &p.ScrapedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan product: %v", storage.ErrStorage, err)
		}
		p.ScrapedAt = p.ScrapedAt.UTC()
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating rows: %v", storage.ErrStorage, err)
	}

	return products, nil
}

// Close releases the pool.
func (s *ProductStore) Close() error {
	s.db.Close()
	return nil
}
