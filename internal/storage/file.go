package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/maltedev/price-tracker/internal/models"
)

type fileSnapshot struct {
	NextID   int64                      `json:"next_id"`
	Products map[string]*models.Product `json:"products"`
}

// FileStore keeps every product in a single JSON document, rewritten
// atomically on each upsert.
type FileStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	nextID   int64
	filename string
	now      Clock
}

func OpenFile(filename string) (*FileStore, error) {
	fs := &FileStore{
		products: make(map[string]*models.Product),
		nextID:   1,
		filename: filename,
		now:      utcNow,
	}

	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: load %s: %v", ErrStorage, filename, err)
	}

	return fs, nil
}

func (fs *FileStore) Upsert(ctx context.Context, product *models.Product) (int64, error) {
	if product == nil || product.URL == "" {
		return 0, fmt.Errorf("%w: product url is required", ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	record := product.Clone()
	record.ScrapedAt = fs.now()

	previous, exists := fs.products[record.URL]
	allocated := false
	if exists {
		record.ID = previous.ID
	} else {
		record.ID = fs.nextID
		fs.nextID++
		allocated = true
	}

	fs.products[record.URL] = record
	if err := fs.save(); err != nil {
		if exists {
			fs.products[record.URL] = previous
		} else {
			delete(fs.products, record.URL)
		}
		if allocated {
			fs.nextID--
		}
		return 0, fmt.Errorf("%w: save %s: %v", ErrStorage, fs.filename, err)
	}

	product.ID = record.ID
	product.ScrapedAt = record.ScrapedAt
	return record.ID, nil
}

func (fs *FileStore) ListAll(ctx context.Context) ([]*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	fs.mu.RLock()
	products := make([]*models.Product, 0, len(fs.products))
	for _, p := range fs.products {
		products = append(products, p.Clone())
	}
	fs.mu.RUnlock()

	sort.Slice(products, func(i, j int) bool {
		if !products[i].ScrapedAt.Equal(products[j].ScrapedAt) {
			return products[i].ScrapedAt.After(products[j].ScrapedAt)
		}
		return products[i].ID > products[j].ID
	})

	return products, nil
}

func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fileSnapshot{
		NextID:   fs.nextID,
		Products: fs.products,
	}, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	if snapshot.Products != nil {
		fs.products = snapshot.Products
	}
	for _, p := range fs.products {
		if p.ID >= snapshot.NextID {
			snapshot.NextID = p.ID + 1
		}
	}
	if snapshot.NextID > fs.nextID {
		fs.nextID = snapshot.NextID
	}

	return nil
}
