package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/novalattasya/mixscrap/database"
	"github.com/novalattasya/mixscrap/internal/cache"
	"github.com/novalattasya/mixscrap/internal/config"
	"github.com/novalattasya/mixscrap/internal/crawl"
	"github.com/novalattasya/mixscrap/internal/fetch"
	"github.com/novalattasya/mixscrap/internal/notify"
	"github.com/novalattasya/mixscrap/internal/source"
	"github.com/novalattasya/mixscrap/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("[Fatal] Failed to load config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[Fatal] Invalid config: %v", err)
		return 1
	}

	log.Printf("[Main] Starting mixscrap, start url: %s", cfg.StartURL)

	st, err := database.Open(cfg)
	if err != nil {
		log.Printf("[Fatal] Failed to initialize datastore: %v", err)
		return 1
	}
	defer st.Close()

	skipCache, err := cache.New(cfg.RedisURL, 0)
	if err != nil {
		// The cache is an optimization; a dead redis never blocks the run.
		log.Printf("[Main] Skip-cache disabled: %v", err)
		skipCache = nil
	}
	defer skipCache.Close()

	client := fetch.NewClient(cfg.RequestTimeout, fetch.Policy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
	})
	crawler := crawl.New(
		source.NewAPISource(client),
		st,
		skipCache,
		notify.New(cfg.NotifyURL),
		crawl.Options{
			Concurrency:  cfg.Concurrency,
			PageDelay:    cfg.PageDelay,
			ChapterDelay: cfg.ChapterDelay,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[Shutdown] Received shutdown signal, stopping...")
		cancel()
	}()

	runID, err := st.BeginRun(ctx)
	if err != nil {
		log.Printf("[Fatal] Failed to open run: %v", err)
		return 1
	}

	if err := crawler.Run(ctx, cfg.StartURL); err != nil {
		log.Printf("[Fatal] Run failed: %v", err)
		endRun(st, runID, store.RunError, err.Error())
		return 1
	}

	endRun(st, runID, store.RunOK, "Finished crawling successfully")
	log.Println("[Main] All done")
	return 0
}

// endRun closes the ledger row on a background context so a cancelled run
// still gets its final status written.
func endRun(st store.Store, runID int64, status, details string) {
	if err := st.EndRun(context.Background(), runID, status, details); err != nil &&
		!errors.Is(err, context.Canceled) {
		log.Printf("[Main] Failed to close run %d: %v", runID, err)
	}
}
