package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/maltedev/price-tracker/internal/models"
)

// productRow is the GORM mapping of the products table.
type productRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"not null"`
	Price       float64   `gorm:"not null;default:0"`
	Currency    string    `gorm:"size:3;not null;default:USD"`
	Description string    `gorm:"not null"`
	ImageURL    *string   `gorm:"column:image_url"`
	Store       string    `gorm:"not null"`
	URL         string    `gorm:"uniqueIndex;not null"`
	ScrapedAt   time.Time `gorm:"index;not null"`
}

func (productRow) TableName() string {
	return "products"
}

func rowFromProduct(p *models.Product) productRow {
	return productRow{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Currency:    p.Currency,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Store:       p.Store,
		URL:         p.URL,
		ScrapedAt:   p.ScrapedAt,
	}
}

func (r productRow) toProduct() *models.Product {
	return &models.Product{
		ID:          r.ID,
		Name:        r.Name,
		Price:       r.Price,
		Currency:    r.Currency,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		Store:       r.Store,
		URL:         r.URL,
		ScrapedAt:   r.ScrapedAt.UTC(),
	}
}

// SQLiteStore is the default local backend.
type SQLiteStore struct {
	db  *gorm.DB
	now Clock
}

// OpenSQLite opens (and migrates) the database at path. Use ":memory:" for
// a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", ErrStorage, path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	// single writer; also keeps ":memory:" pinned to one connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&productRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorage, err)
	}

	return &SQLiteStore{db: db, now: utcNow}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, product *models.Product) (int64, error) {
	if product == nil || product.URL == "" {
		return 0, fmt.Errorf("%w: product url is required", ErrStorage)
	}

	row := rowFromProduct(product)
	row.ScrapedAt = s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing productRow
		err := tx.Select("id").Where("url = ?", row.URL).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.ID = 0
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		row.ID = existing.ID
		// Save writes every column, including zero values.
		return tx.Save(&row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert %s: %v", ErrStorage, product.URL, err)
	}

	product.ID = row.ID
	product.ScrapedAt = row.ScrapedAt
	return row.ID, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*models.Product, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Order("scraped_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list products: %v", ErrStorage, err)
	}

	products := make([]*models.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toProduct())
	}
	return products, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return sqlDB.Close()
}
