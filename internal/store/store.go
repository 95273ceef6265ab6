package store

import (
	"context"
	"time"
)

// Run statuses recorded by the run ledger.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunError   = "error"
)

// MaxRunDetails bounds the failure detail stored with a run row.
const MaxRunDetails = 2000

// CatalogEntry is one series in the mirrored catalog. Param is the natural
// key and is stable across syncs; every other field is refreshed on each
// sighting.
type CatalogEntry struct {
	ID        int64
	Param     string
	Title     string
	Thumbnail string
	Synopsis  string
	Genres    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chapter is one release under an entry, unique by (entry, param) and
// immutable once written. Seq ranks chapters by upstream recency: higher
// means newer.
type Chapter struct {
	ID          int64
	EntryID     int64
	Label       string
	Param       string
	ReleaseDate string
	DetailURL   string
	Seq         int
	CreatedAt   time.Time
}

// Page is one image of a chapter, unique by (chapter, idx). Idx is 1-based
// and matches the order of the upstream page list.
type Page struct {
	ID        int64
	ChapterID int64
	Idx       int
	URL       string
}

// Run is one execution of the crawl engine.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Details    string
}

// UpsertResult reports what UpsertEntry did.
type UpsertResult struct {
	ID      int64
	Created bool
}

// InsertResult reports whether an insert-if-absent actually wrote a row.
// A duplicate key yields Inserted=false, never an error.
type InsertResult struct {
	ID       int64
	Inserted bool
}

// Store is the persistence contract shared by every backend. The engine is
// constructed against this interface once at startup and never branches on
// backend identity afterwards. Conflict resolution lives here: concurrent
// duplicate inserts must resolve to exactly one row, with losers observing
// Inserted=false.
type Store interface {
	// FindEntry returns the entry with the given param, or nil when absent.
	FindEntry(ctx context.Context, param string) (*CatalogEntry, error)

	// UpsertEntry creates the entry if absent, otherwise overwrites its
	// mutable fields and bumps updated_at. Never errors on conflict.
	UpsertEntry(ctx context.Context, e *CatalogEntry) (UpsertResult, error)

	// ListChapters returns the entry's chapters ordered newest first (seq
	// descending).
	ListChapters(ctx context.Context, entryID int64) ([]Chapter, error)

	// InsertChapterIfAbsent writes the chapter unless (entry, param)
	// already exists.
	InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *Chapter) (InsertResult, error)

	// InsertPageIfAbsent writes one page unless (chapter, idx) already
	// exists.
	InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, url string) (bool, error)

	// BeginRun opens a run row with status "running".
	BeginRun(ctx context.Context) (int64, error)

	// EndRun closes the run with the final status and a detail string,
	// truncated to MaxRunDetails.
	EndRun(ctx context.Context, runID int64, status, details string) error

	// Read surface for the catalog API.
	ListEntries(ctx context.Context, offset, limit int) ([]CatalogEntry, int64, error)
	ListPages(ctx context.Context, chapterID int64) ([]Page, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// TruncateDetails clamps run failure detail to MaxRunDetails bytes so a deep
// stack never grows the runs relation unbounded.
func TruncateDetails(s string) string {
	if len(s) > MaxRunDetails {
		return s[:MaxRunDetails]
	}
	return s
}
