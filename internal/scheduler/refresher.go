package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/tracker"
)

var ErrRunInProgress = errors.New("refresh already running")

type Tracker interface {
	Track(ctx context.Context, rawURL string) (*tracker.TrackResult, error)
	ListTracked(ctx context.Context) ([]*models.Product, error)
}

// Limiter spaces outbound fetches and adapts to their outcome.
type Limiter interface {
	Wait(ctx context.Context) error
	Record(err error)
}

type Config struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduled runs; RunOnce still works.
	Schedule    string
	Concurrency int
}

type RunStats struct {
	Total        int           `json:"total"`
	Refreshed    int           `json:"refreshed"`
	Failed       int           `json:"failed"`
	PriceChanges int           `json:"price_changes"`
	Duration     time.Duration `json:"duration"`
}

// Refresher re-tracks every stored product on a cron schedule.
type Refresher struct {
	tracker     Tracker
	limiter     Limiter
	schedule    string
	concurrency int
	logger      *slog.Logger

	cron    *cron.Cron
	running atomic.Bool

	mu   sync.Mutex
	last *RunStats
}

func New(t Tracker, limiter Limiter, cfg Config, logger *slog.Logger) *Refresher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Refresher{
		tracker:     t,
		limiter:     limiter,
		schedule:    cfg.Schedule,
		concurrency: cfg.Concurrency,
		logger:      logger.With("component", "refresher"),
	}
}

// Start registers the scheduled run and returns immediately. Runs stop when
// ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	if r.schedule == "" {
		r.logger.Info("refresh schedule not set, background refresh disabled")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			r.logger.Error("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh %q: %w", r.schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	r.logger.Info("refresh scheduled", "schedule", r.schedule, "concurrency", r.concurrency)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce refreshes every tracked product. Individual failures are logged
// and counted; only a failure to list the products fails the run.
func (r *Refresher) RunOnce(ctx context.Context) (*RunStats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	return r.run(ctx)
}

// TryStart claims the run slot before returning and refreshes in the
// background. Concurrent callers get ErrRunInProgress.
func (r *Refresher) TryStart(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	go func() {
		defer r.running.Store(false)
		if _, err := r.run(ctx); err != nil {
			r.logger.Error("manual refresh failed", "error", err)
		}
	}()
	return nil
}

func (r *Refresher) run(ctx context.Context) (*RunStats, error) {
	start := time.Now()
	products, err := r.tracker.ListTracked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked products: %w", err)
	}

	stats := &RunStats{Total: len(products)}
	if len(products) == 0 {
		r.logger.Info("no tracked products to refresh")
		r.setLast(stats)
		return stats, nil
	}

	r.logger.Info("refresh started", "products", len(products))

	var refreshed, failed, changed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, p := range products {
		p := p
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}

			result, err := r.tracker.Track(gctx, p.URL)
			r.limiter.Record(err)
			if err != nil {
				failed.Add(1)
				r.logger.Warn("refresh failed", "url", p.URL, "error", err)
				return nil
			}

			refreshed.Add(1)
			if r.logPriceChange(p, result.Product) {
				changed.Add(1)
			}
			return nil
		})
	}

	// only context cancellation is propagated
	runErr := g.Wait()

	stats.Refreshed = int(refreshed.Load())
	stats.Failed = int(failed.Load())
	stats.PriceChanges = int(changed.Load())
	stats.Duration = time.Since(start)
	r.setLast(stats)

	r.logger.Info("refresh completed",
		"total", stats.Total,
		"refreshed", stats.Refreshed,
		"failed", stats.Failed,
		"price_changes", stats.PriceChanges,
		"duration", stats.Duration)

	if runErr != nil {
		return stats, fmt.Errorf("refresh interrupted: %w", runErr)
	}
	return stats, nil
}

func (r *Refresher) Running() bool {
	return r.running.Load()
}

// LastRun returns the stats of the most recent completed run, or nil.
func (r *Refresher) LastRun() *RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	s := *r.last
	return &s
}

func (r *Refresher) setLast(stats *RunStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *stats
	r.last = &s
}

// logPriceChange reports whether a known price moved. Unknown prices (0) on
// either side are not treated as a change.
func (r *Refresher) logPriceChange(before, after *models.Product) bool {
	if after == nil || before.Price == 0 || after.Price == 0 || before.Price == after.Price {
		return false
	}

	change := after.Price - before.Price
	r.logger.Info("price changed",
		"url", after.URL,
		"name", after.Name,
		"old_price", before.Price,
		"new_price", after.Price,
		"change_percent", fmt.Sprintf("%.1f", change/before.Price*100))
	return true
}
