package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/price-tracker/internal/app"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/fetcher"
	"github.com/maltedev/price-tracker/internal/logger"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/queue"
	"github.com/maltedev/price-tracker/internal/ratelimit"
	"github.com/maltedev/price-tracker/internal/tracker"
)

// extractFunc turns one URL into a product record.
type extractFunc func(ctx context.Context, rawURL string) (*models.Product, error)

type limiter interface {
	Wait(ctx context.Context) error
	Record(err error)
}

func main() {
	var (
		urls       = flag.String("urls", "", "Comma-separated list of product URLs")
		inputFile  = flag.String("file", "", "File containing product URLs (one per line, # comments)")
		persist    = flag.Bool("store", false, "Persist results to the configured product store")
		workers    = flag.Int("workers", 2, "Number of concurrent fetches")
		maxRetries = flag.Int("retries", 1, "Retries per URL after a fetch failure")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// results go to stdout, logs to stderr
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	taskQueue := queue.NewInMemoryQueue()
	defer taskQueue.Close()

	if err := loadTasks(taskQueue, *urls, *inputFile); err != nil {
		log.Error("failed to load tasks", "error", err)
		os.Exit(1)
	}

	if taskQueue.Size() == 0 {
		fmt.Fprintln(os.Stderr, "No URLs to process. Use -urls or -file.")
		flag.Usage()
		os.Exit(1)
	}

	loader, err := app.NewLoader(cfg, log)
	if err != nil {
		log.Error("failed to create page loader", "error", err)
		os.Exit(1)
	}
	defer loader.Close()

	productFetcher := fetcher.New(loader, parser.NewDispatcher(), log)
	extract := extractFunc(productFetcher.Fetch)

	if *persist {
		store, err := app.OpenStore(ctx, cfg, log)
		if err != nil {
			log.Error("failed to open product store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		t := tracker.New(productFetcher, store, log)
		extract = func(ctx context.Context, rawURL string) (*models.Product, error) {
			result, err := t.Track(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			return result.Product, nil
		}
	}

	rateLimiter := ratelimit.NewAdaptiveRateLimiter(cfg.Refresh.RateLimitMin, cfg.Refresh.RateLimitMax)

	log.Info("starting extraction", "tasks", taskQueue.Size(), "workers", *workers, "store", *persist)
	start := time.Now()

	ok, failed := run(ctx, taskQueue, extract, rateLimiter, os.Stdout, *workers, *maxRetries, log)

	log.Info("extraction completed", "succeeded", ok, "failed", failed, "duration", time.Since(start))
	if failed > 0 {
		os.Exit(2)
	}
}

// run drains q with the given number of workers and writes one JSON result
// per task to out. Fetch failures are re-queued up to maxRetries times.
func run(ctx context.Context, q *queue.InMemoryQueue, extract extractFunc, rl limiter, out io.Writer, workers, maxRetries int, log *slog.Logger) (int, int) {
	if workers < 1 {
		workers = 1
	}

	var (
		outstanding atomic.Int64
		succeeded   atomic.Int64
		failed      atomic.Int64
		outMu       sync.Mutex
		wg          sync.WaitGroup
	)
	outstanding.Store(int64(q.Size()))
	enc := json.NewEncoder(out)

	emit := func(result models.ScrapeResult) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := enc.Encode(result); err != nil {
			log.Error("failed to write result", "error", err)
		}
	}

	finish := func() {
		if outstanding.Add(-1) == 0 {
			q.Close()
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Pop(ctx)
				if err != nil {
					return
				}

				if err := rl.Wait(ctx); err != nil {
					return
				}

				product, err := extract(ctx, task.URL)
				rl.Record(err)

				if err != nil {
					if retryable(err) && task.Retries < maxRetries && ctx.Err() == nil {
						task.Retries++
						// retries go behind fresh work
						task.Priority--
						if q.Push(task) == nil {
							log.Info("retrying", "url", task.URL, "retry", task.Retries)
							continue
						}
					}

					log.Warn("extraction failed", "url", task.URL, "error", err)
					failed.Add(1)
					emit(models.ScrapeResult{Error: &models.Error{
						Code:    errorCode(err),
						Message: err.Error(),
						Time:    time.Now().UTC(),
						URL:     task.URL,
					}})
					finish()
					continue
				}

				succeeded.Add(1)
				emit(models.ScrapeResult{Product: product, Success: true})
				finish()
			}
		}()
	}

	wg.Wait()
	return int(succeeded.Load()), int(failed.Load())
}

func retryable(err error) bool {
	return errors.Is(err, tracker.ErrFetchFailed) && !errors.Is(err, tracker.ErrInvalidURL)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, tracker.ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, fetcher.ErrBlocked):
		return "blocked"
	case errors.Is(err, tracker.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, tracker.ErrStorage):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

func loadTasks(q queue.Queue, urls, inputFile string) error {
	var items []string

	if urls != "" {
		items = append(items, strings.Split(urls, ",")...)
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				items = append(items, line)
			}
		}
	}

	seen := make(map[string]bool)
	var tasks []*queue.Task
	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true

		tasks = append(tasks, &queue.Task{
			ID:  fmt.Sprintf("task-%d", i),
			URL: item,
		})
	}

	return queue.PushBatch(q, tasks)
}
