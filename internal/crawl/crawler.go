// Package crawl is the incremental mirror engine: it walks the upstream
// listing page by page, fans each page's entries out to a bounded worker
// pool, diffs every entry's remote chapters against the store, and ingests
// only what is missing.
package crawl

import (
	"context"
	"log"
	"time"

	"github.com/novalattasya/mixscrap/internal/cache"
	"github.com/novalattasya/mixscrap/internal/notify"
	"github.com/novalattasya/mixscrap/internal/source"
	"github.com/novalattasya/mixscrap/internal/store"
)

const (
	defaultConcurrency  = 3
	defaultPageDelay    = 300 * time.Millisecond
	defaultChapterDelay = 120 * time.Millisecond
)

// Options tune the crawler. Zero values fall back to defaults.
type Options struct {
	// Concurrency caps how many entries are synchronized at once.
	Concurrency int
	// PageDelay is the politeness pause between listing pages.
	PageDelay time.Duration
	// ChapterDelay is the pause between chapter fetches within one entry.
	ChapterDelay time.Duration
}

// Crawler drives one sync run against a Source and a Store. Cache and
// notifier are optional; nil disables them.
type Crawler struct {
	source   source.Source
	store    store.Store
	cache    *cache.LatestChapterCache
	notifier *notify.Notifier

	concurrency  int
	pageDelay    time.Duration
	chapterDelay time.Duration
}

// New builds a crawler.
func New(src source.Source, st store.Store, c *cache.LatestChapterCache, n *notify.Notifier, opts Options) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PageDelay <= 0 {
		opts.PageDelay = defaultPageDelay
	}
	if opts.ChapterDelay <= 0 {
		opts.ChapterDelay = defaultChapterDelay
	}
	return &Crawler{
		source:       src,
		store:        st,
		cache:        c,
		notifier:     n,
		concurrency:  opts.Concurrency,
		pageDelay:    opts.PageDelay,
		chapterDelay: opts.ChapterDelay,
	}
}

// Run walks the whole listing from startURL. Per-entry failures are caught
// at the pool boundary and logged; only a listing fetch failure (or context
// cancellation) propagates and fails the run.
func (c *Crawler) Run(ctx context.Context, startURL string) error {
	first := true
	err := WalkPages(ctx, c.source, startURL, func(items []source.ListingItem) error {
		if !first {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		first = false

		// One pool per page: Wait drains the whole batch before the
		// walker asks for the next page.
		pool := NewWorkerPool(ctx, c.concurrency)
		pool.Start()
		for _, item := range items {
			item := item
			pool.Submit(func(ctx context.Context) error {
				if err := c.SyncEntry(ctx, item); err != nil {
					log.Printf("[Crawler] Failed to sync entry %s: %v", item.Param, err)
					return err
				}
				return nil
			})
		}
		pool.Wait()
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	log.Println("[Crawler] Finished scanning all pages")
	return nil
}
