package crawl

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/novalattasya/mixscrap/internal/source"
	"github.com/novalattasya/mixscrap/internal/store"
)

// SyncEntry brings one catalog entry up to date: fetch its detail, refresh
// the persisted metadata, diff the remote chapter list against what the
// store already holds, and ingest the missing chapters oldest first.
//
// Oldest-first ordering is a guarantee, not a preference: if the process
// dies mid-entry, the chapters already written form a contiguous oldest
// prefix of the upstream list, never a scattered subset.
func (c *Crawler) SyncEntry(ctx context.Context, item source.ListingItem) error {
	if item.DetailURL == "" {
		log.Printf("[Syncer] No detail_url for %s, skipping", item.Param)
		return nil
	}

	if c.cache.Unchanged(ctx, item.Param, item.LatestChapter) {
		log.Printf("[Syncer] %s unchanged since last sync, skipping", item.Param)
		return nil
	}

	detail, err := c.source.EntryDetail(ctx, item.DetailURL)
	if err != nil {
		return err
	}
	if detail == nil {
		log.Printf("[Syncer] Empty detail for %s, skipping", item.Param)
		return nil
	}

	// Prefer the detail response's own param over the listing item's.
	param := detail.Param
	if param == "" {
		param = item.Param
	}

	entry := &store.CatalogEntry{
		Param:     param,
		Title:     firstNonEmpty(detail.Title, item.Title),
		Thumbnail: firstNonEmpty(detail.Thumbnail, item.Thumbnail),
		Synopsis:  firstNonEmpty(detail.Synopsis, item.Description),
		Genres:    detail.Genres,
	}

	// Metadata is refreshed on every sync; upstream fields can change.
	res, err := c.store.UpsertEntry(ctx, entry)
	if err != nil {
		return err
	}
	if res.Created {
		log.Printf("[Syncer] New entry: %s (%q)", param, entry.Title)
		c.notifier.NotifyNewEntry(param, entry.Title)
	}

	known, err := c.store.ListChapters(ctx, res.ID)
	if err != nil {
		return err
	}
	knownParams := make(map[string]struct{}, len(known))
	for _, ch := range known {
		knownParams[ch.Param] = struct{}{}
	}

	// Position 0 is the newest remote chapter; seq = total - position, so
	// the newest always carries the highest seq no matter how many
	// chapters existed before.
	remote := detail.Chapters
	total := len(remote)
	missing := make([]store.Chapter, 0)
	for i, rc := range remote {
		if _, ok := knownParams[rc.Param]; ok {
			continue
		}
		missing = append(missing, store.Chapter{
			EntryID:     res.ID,
			Label:       rc.Label,
			Param:       rc.Param,
			ReleaseDate: rc.ReleaseDate,
			DetailURL:   rc.DetailURL,
			Seq:         total - i,
		})
	}

	if len(missing) == 0 {
		log.Printf("[Syncer] No new chapters for %s (known: %d)", param, len(known))
		c.recordLatest(ctx, param, remote)
		return nil
	}

	log.Printf("[Syncer] Found %d new chapter(s) for %s", len(missing), param)
	sort.Slice(missing, func(i, j int) bool { return missing[i].Seq < missing[j].Seq })

	for i := range missing {
		if err := c.IngestChapter(ctx, param, &missing[i]); err != nil {
			return err
		}
		// Bound request rate against this entry's upstream host.
		if i < len(missing)-1 {
			select {
			case <-time.After(c.chapterDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	c.recordLatest(ctx, param, remote)
	return nil
}

// recordLatest writes the entry's newest chapter param through to the
// skip-cache once the entry is fully synced.
func (c *Crawler) recordLatest(ctx context.Context, param string, remote []source.RemoteChapter) {
	if len(remote) == 0 {
		return
	}
	c.cache.Record(ctx, param, remote[0].Param)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
