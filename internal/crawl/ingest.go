package crawl

import (
	"context"
	"log"

	"github.com/novalattasya/mixscrap/internal/store"
)

// IngestChapter persists one chapter and its ordered pages. The chapter
// insert is insert-if-absent backed by the (entry, param) uniqueness
// constraint: if a concurrent sync already wrote it, the loser observes
// Inserted=false and skips, never an error. Pages are written sequentially
// in upstream order with 1-based idx; a failure partway leaves the chapter
// with a prefix of its pages, an accepted partial state.
func (c *Crawler) IngestChapter(ctx context.Context, entryParam string, ch *store.Chapter) error {
	res, err := c.store.InsertChapterIfAbsent(ctx, ch.EntryID, ch)
	if err != nil {
		return err
	}
	if !res.Inserted {
		log.Printf("[Ingest] Chapter already present, skipping: %s/%s", entryParam, ch.Param)
		return nil
	}

	if ch.DetailURL == "" {
		log.Printf("[Ingest] No detail_url for chapter %s/%s, saved without pages", entryParam, ch.Param)
		return nil
	}

	urls, err := c.source.ChapterPages(ctx, ch.DetailURL)
	if err != nil {
		return err
	}
	if urls == nil {
		// Malformed page list; the chapter row stays with zero pages.
		log.Printf("[Ingest] Chapter detail not a list for %s/%s", entryParam, ch.Param)
		return nil
	}

	for i, url := range urls {
		if _, err := c.store.InsertPageIfAbsent(ctx, res.ID, i+1, url); err != nil {
			return err
		}
	}

	log.Printf("[Ingest] Saved chapter %s/%s with %d page(s)", entryParam, ch.Param, len(urls))
	c.notifier.NotifyNewChapter(entryParam, ch.Param, ch.Label)
	return nil
}
