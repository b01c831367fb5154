package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/api"
	"github.com/maltedev/price-tracker/internal/app"
	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/fetcher"
	"github.com/maltedev/price-tracker/internal/logger"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/ranking"
	"github.com/maltedev/price-tracker/internal/ratelimit"
	"github.com/maltedev/price-tracker/internal/scheduler"
	"github.com/maltedev/price-tracker/internal/search"
	"github.com/maltedev/price-tracker/internal/tracker"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file loaded", "error", envErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := app.NewLoader(cfg, log)
	if err != nil {
		log.Error("failed to create page loader", "error", err)
		os.Exit(1)
	}
	defer loader.Close()

	store, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open product store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	var outboxStats api.OutboxStats
	if store.Outbox != nil && redisClient != nil {
		relay := database.NewRelay(store.Outbox, redisClient, log, database.RelayConfig{
			PollInterval: cfg.Redis.RelayPollInterval,
			BatchSize:    cfg.Redis.RelayBatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
		outboxStats = relay
	} else if store.Outbox != nil {
		log.Warn("REDIS_ADDR not set, outbox events will accumulate until a relay runs")
	}

	var searchCache cache.Cache
	if redisClient != nil {
		searchCache = cache.NewRedisCache(redisClient, cache.DefaultPrefix)
	} else {
		mem := cache.NewMemoryCache(cfg.Search.CacheTTL, 1000)
		searchCache = mem
		go sweepCache(ctx, mem, cfg.Search.CacheTTL)
	}

	var ranker ranking.Ranker = ranking.Noop{}
	if cfg.Ranking.URL != "" {
		ranker = ranking.NewHTTPRanker(cfg.Ranking.URL, cfg.Ranking.APIKey, cfg.Ranking.Timeout, log)
	} else {
		log.Info("RANKING_URL not set, search results are returned unranked")
	}

	searchService, err := search.New(loader, ranker, searchCache, search.Config{
		Sites:             cfg.Search.Sites,
		Concurrency:       cfg.Search.Concurrency,
		SiteTimeout:       cfg.Search.SiteTimeout,
		MaxResultsPerSite: cfg.Search.MaxResultsPerSite,
		CacheTTL:          cfg.Search.CacheTTL,
		RankingTimeout:    cfg.Ranking.Timeout,
	}, log)
	if err != nil {
		log.Error("failed to configure search", "error", err)
		os.Exit(1)
	}

	productFetcher := fetcher.New(loader, parser.NewDispatcher(), log)
	productTracker := tracker.New(productFetcher, store, log)

	refresher := scheduler.New(productTracker,
		ratelimit.NewAdaptiveRateLimiter(cfg.Refresh.RateLimitMin, cfg.Refresh.RateLimitMax),
		scheduler.Config{
			Schedule:    cfg.Refresh.Schedule,
			Concurrency: cfg.Refresh.Concurrency,
		}, log)
	if err := refresher.Start(ctx); err != nil {
		log.Error("failed to start refresher", "error", err)
		os.Exit(1)
	}

	var dbPinger api.Pinger
	if store.DB != nil {
		dbPinger = store.DB
	}

	handlers := api.NewHandlers(productTracker, searchService, dbPinger, outboxStats, refresher, log)

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(handlers, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
		}, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"fetch_mode", cfg.Fetch.Mode,
		"storage", cfg.Storage.Backend,
		"search_sites", cfg.Search.Sites)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	refresher.Stop()
	log.Info("server stopped")
}

func sweepCache(ctx context.Context, c *cache.MemoryCache, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.DeleteExpired()
		}
	}
}
