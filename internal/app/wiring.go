// Package app builds the components shared by the binaries from config.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/events"
	"github.com/maltedev/price-tracker/internal/fetcher"
	"github.com/maltedev/price-tracker/internal/storage"
)

// Loader is a page loader that may hold resources.
type Loader interface {
	fetcher.PageLoader
	Close() error
}

type httpLoader struct {
	*fetcher.HTTPLoader
}

func (httpLoader) Close() error { return nil }

// NewLoader returns the page loader selected by FETCH_MODE.
func NewLoader(cfg *config.Config, logger *slog.Logger) (Loader, error) {
	switch cfg.Fetch.Mode {
	case "browser":
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.AcceptLanguage = cfg.Browser.AcceptLanguage
		opts.TimezoneID = cfg.Browser.TimezoneID
		opts.Locale = cfg.Browser.Locale
		opts.ProxyServer = cfg.Browser.ProxyServer
		if cfg.Fetch.UserAgent != "" {
			opts.UserAgent = cfg.Fetch.UserAgent
		}

		b, err := browser.New(opts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		return b, nil
	default:
		return httpLoader{fetcher.NewHTTPLoader(fetcher.Options{
			Timeout:        cfg.Fetch.Timeout,
			UserAgent:      cfg.Fetch.UserAgent,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		})}, nil
	}
}

// Store is the opened product store. DB is set for the postgres backend so
// callers can run the outbox relay against it.
type Store struct {
	storage.Store
	DB     *database.DB
	Outbox *database.OutboxRepository
}

// OpenStore opens the backend selected by STORAGE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare schema: %w", err)
		}

		outbox := database.NewOutboxRepository(db)
		publisher := events.NewPublisher(outbox, cfg.Redis.Stream, logger)
		logger.Info("using postgres store", "host", cfg.Database.Host)

		return &Store{
			Store:  database.NewProductStore(db, publisher),
			DB:     db,
			Outbox: outbox,
		}, nil
	case "file":
		fs, err := storage.OpenFile(cfg.Storage.FilePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using file store", "path", cfg.Storage.FilePath)
		return &Store{Store: fs}, nil
	default:
		s, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.Storage.SQLitePath)
		return &Store{Store: s}, nil
	}
}
