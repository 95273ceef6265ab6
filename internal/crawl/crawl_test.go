package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novalattasya/mixscrap/internal/source"
	"github.com/novalattasya/mixscrap/internal/store"
)

// fakeSource serves canned listing/detail/page responses.
type fakeSource struct {
	mu       sync.Mutex
	listings map[string]*source.ListingPage
	details  map[string]*source.EntryDetail
	pages    map[string][]string
	errs     map[string]error

	listCalls   int
	detailCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: make(map[string]*source.ListingPage),
		details:  make(map[string]*source.EntryDetail),
		pages:    make(map[string][]string),
		errs:     make(map[string]error),
	}
}

func (f *fakeSource) ListPage(ctx context.Context, url string) (*source.ListingPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	page, ok := f.listings[url]
	if !ok {
		return &source.ListingPage{}, nil
	}
	return page, nil
}

func (f *fakeSource) EntryDetail(ctx context.Context, url string) (*source.EntryDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.details[url], nil
}

func (f *fakeSource) ChapterPages(ctx context.Context, url string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.pages[url], nil
}

// memStore is an in-memory Store honoring the insert-if-absent contract.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	entries  map[string]*store.CatalogEntry
	chapters map[int64][]store.Chapter
	pages    map[int64][]store.Page
	runs     []store.Run

	// chapter params in the order they were inserted, for ordering asserts
	insertOrder []string
}

func newMemStore() *memStore {
	return &memStore{
		entries:  make(map[string]*store.CatalogEntry),
		chapters: make(map[int64][]store.Chapter),
		pages:    make(map[int64][]store.Page),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) FindEntry(ctx context.Context, param string) (*store.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[param]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) UpsertEntry(ctx context.Context, e *store.CatalogEntry) (store.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[e.Param]; ok {
		existing.Title = e.Title
		existing.Thumbnail = e.Thumbnail
		existing.Synopsis = e.Synopsis
		existing.Genres = e.Genres
		existing.UpdatedAt = time.Now()
		return store.UpsertResult{ID: existing.ID, Created: false}, nil
	}
	cp := *e
	cp.ID = m.id()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.entries[e.Param] = &cp
	return store.UpsertResult{ID: cp.ID, Created: true}, nil
}

func (m *memStore) ListChapters(ctx context.Context, entryID int64) ([]store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chs := append([]store.Chapter(nil), m.chapters[entryID]...)
	for i := 0; i < len(chs); i++ {
		for j := i + 1; j < len(chs); j++ {
			if chs[j].Seq > chs[i].Seq {
				chs[i], chs[j] = chs[j], chs[i]
			}
		}
	}
	return chs, nil
}

func (m *memStore) InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *store.Chapter) (store.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.chapters[entryID] {
		if existing.Param == ch.Param {
			return store.InsertResult{ID: existing.ID, Inserted: false}, nil
		}
	}
	cp := *ch
	cp.ID = m.id()
	cp.EntryID = entryID
	m.chapters[entryID] = append(m.chapters[entryID], cp)
	m.insertOrder = append(m.insertOrder, ch.Param)
	return store.InsertResult{ID: cp.ID, Inserted: true}, nil
}

func (m *memStore) InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages[chapterID] {
		if p.Idx == idx {
			return false, nil
		}
	}
	m.pages[chapterID] = append(m.pages[chapterID], store.Page{
		ID: m.id(), ChapterID: chapterID, Idx: idx, URL: url,
	})
	return true, nil
}

func (m *memStore) BeginRun(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.runs = append(m.runs, store.Run{ID: id, StartedAt: time.Now(), Status: store.RunRunning})
	return id, nil
}

func (m *memStore) EndRun(ctx context.Context, runID int64, status, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			now := time.Now()
			m.runs[i].FinishedAt = &now
			m.runs[i].Status = status
			m.runs[i].Details = store.TruncateDetails(details)
		}
	}
	return nil
}

func (m *memStore) ListEntries(ctx context.Context, offset, limit int) ([]store.CatalogEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.CatalogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out, int64(len(out)), nil
}

func (m *memStore) ListPages(ctx context.Context, chapterID int64) ([]store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Page(nil), m.pages[chapterID]...), nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Run(nil), m.runs...), nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) countChapters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, chs := range m.chapters {
		n += len(chs)
	}
	return n
}

func (m *memStore) countPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ps := range m.pages {
		n += len(ps)
	}
	return n
}

func (m *memStore) chapterByParam(entryID int64, param string) *store.Chapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.chapters[entryID] {
		if ch.Param == param {
			cp := ch
			return &cp
		}
	}
	return nil
}

func testCrawler(src source.Source, st store.Store) *Crawler {
	return New(src, st, nil, nil, Options{
		Concurrency:  2,
		PageDelay:    time.Millisecond,
		ChapterDelay: time.Millisecond,
	})
}

// ---- Pagination walker ----

func TestWalkPages_FollowsNextUntilExhausted(t *testing.T) {
	src := newFakeSource()
	src.listings["p1"] = &source.ListingPage{Items: []source.ListingItem{{Param: "a"}}, NextPage: "p2"}
	src.listings["p2"] = &source.ListingPage{Items: []source.ListingItem{{Param: "b"}}, NextPage: "p3"}
	src.listings["p3"] = &source.ListingPage{Items: []source.ListingItem{{Param: "c"}}}

	var pages [][]source.ListingItem
	err := WalkPages(context.Background(), src, "p1", func(items []source.ListingItem) error {
		pages = append(pages, items)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "a", pages[0][0].Param)
	assert.Equal(t, "c", pages[2][0].Param)
}

func TestWalkPages_MissingDataStopsWithoutError(t *testing.T) {
	src := newFakeSource()
	src.listings["p1"] = &source.ListingPage{Items: []source.ListingItem{{Param: "a"}}, NextPage: "p2"}
	// p2 has no data field: nil Items

	calls := 0
	err := WalkPages(context.Background(), src, "p1", func(items []source.ListingItem) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWalkPages_ListingFetchErrorPropagates(t *testing.T) {
	src := newFakeSource()
	src.errs["p1"] = errors.New("upstream down")

	err := WalkPages(context.Background(), src, "p1", func(items []source.ListingItem) error {
		t.Fatal("callback should not run")
		return nil
	})

	assert.ErrorContains(t, err, "upstream down")
}

func TestWalkPages_EmptyPageContinues(t *testing.T) {
	src := newFakeSource()
	src.listings["p1"] = &source.ListingPage{Items: []source.ListingItem{}, NextPage: "p2"}
	src.listings["p2"] = &source.ListingPage{Items: []source.ListingItem{{Param: "a"}}}

	calls := 0
	err := WalkPages(context.Background(), src, "p1", func(items []source.ListingItem) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// ---- End-to-end sync ----

func narutoSource() *fakeSource {
	src := newFakeSource()
	src.listings["start"] = &source.ListingPage{
		Items: []source.ListingItem{{
			Param:     "naruto",
			Title:     "Naruto",
			DetailURL: "detail/naruto",
		}},
	}
	src.details["detail/naruto"] = &source.EntryDetail{
		Param:    "naruto",
		Title:    "Naruto",
		Synopsis: "A ninja story",
		Genres:   []string{"action", "shounen"},
		Chapters: []source.RemoteChapter{
			{Label: "Chapter 2", Param: "c2", DetailURL: "ch/c2"},
			{Label: "Chapter 1", Param: "c1", DetailURL: "ch/c1"},
		},
	}
	src.pages["ch/c1"] = []string{"a", "b", "c"}
	src.pages["ch/c2"] = []string{"x", "y"}
	return src
}

func TestCrawler_EndToEnd(t *testing.T) {
	src := narutoSource()
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err)

	entry, err := st.FindEntry(context.Background(), "naruto")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Naruto", entry.Title)
	assert.Equal(t, []string{"action", "shounen"}, entry.Genres)

	// Newest-first remote list of length 2: c2 gets seq 2, c1 gets seq 1.
	c1 := st.chapterByParam(entry.ID, "c1")
	c2 := st.chapterByParam(entry.ID, "c2")
	require.NotNil(t, c1)
	require.NotNil(t, c2)
	assert.Equal(t, 1, c1.Seq)
	assert.Equal(t, 2, c2.Seq)

	// Ingestion is oldest first.
	assert.Equal(t, []string{"c1", "c2"}, st.insertOrder)

	// Pages persisted in response order with contiguous 1-based idx.
	pages, err := st.ListPages(context.Background(), c1.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, i+1, pages[i].Idx)
		assert.Equal(t, want, pages[i].URL)
	}
}

func TestCrawler_SecondRunIsNoOp(t *testing.T) {
	src := narutoSource()
	st := newMemStore()
	crawler := testCrawler(src, st)

	require.NoError(t, crawler.Run(context.Background(), "start"))
	chapters := st.countChapters()
	pages := st.countPages()

	require.NoError(t, crawler.Run(context.Background(), "start"))

	assert.Equal(t, chapters, st.countChapters(), "no new chapter rows on re-run")
	assert.Equal(t, pages, st.countPages(), "no new page rows on re-run")
}

func TestCrawler_NewestKeepsMaxSeqAfterBackfill(t *testing.T) {
	src := newFakeSource()
	src.listings["start"] = &source.ListingPage{
		Items: []source.ListingItem{{Param: "op", Title: "One Piece", DetailURL: "detail/op"}},
	}
	src.details["detail/op"] = &source.EntryDetail{
		Param:    "op",
		Title:    "One Piece",
		Chapters: []source.RemoteChapter{{Label: "Chapter 2", Param: "c2", DetailURL: "ch/c2"}},
	}
	st := newMemStore()
	crawler := testCrawler(src, st)
	require.NoError(t, crawler.Run(context.Background(), "start"))

	// Upstream later exposes the full history plus a new chapter.
	src.mu.Lock()
	src.details["detail/op"].Chapters = []source.RemoteChapter{
		{Label: "Chapter 3", Param: "c3", DetailURL: "ch/c3"},
		{Label: "Chapter 2", Param: "c2", DetailURL: "ch/c2"},
		{Label: "Chapter 1", Param: "c1", DetailURL: "ch/c1"},
	}
	src.mu.Unlock()
	require.NoError(t, crawler.Run(context.Background(), "start"))

	entry, err := st.FindEntry(context.Background(), "op")
	require.NoError(t, err)
	require.NotNil(t, entry)

	chapters, err := st.ListChapters(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 3)

	// Newest first by seq, and the newest chapter holds the maximum.
	assert.Equal(t, "c3", chapters[0].Param)
	assert.Equal(t, 3, chapters[0].Seq)
	assert.Equal(t, "c1", chapters[2].Param)
	assert.Equal(t, 1, chapters[2].Seq)
}

func TestCrawler_EntryFailureDoesNotAbortSiblings(t *testing.T) {
	src := narutoSource()
	src.listings["start"].Items = append(src.listings["start"].Items, source.ListingItem{
		Param: "broken", Title: "Broken", DetailURL: "detail/broken",
	})
	src.errs["detail/broken"] = errors.New("detail fetch failed")
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err, "per-entry failures stay inside the pool")

	entry, err := st.FindEntry(context.Background(), "naruto")
	require.NoError(t, err)
	assert.NotNil(t, entry, "healthy sibling still synced")
}

func TestCrawler_EmptyDetailSkipsEntry(t *testing.T) {
	src := newFakeSource()
	src.listings["start"] = &source.ListingPage{
		Items: []source.ListingItem{{Param: "ghost", DetailURL: "detail/ghost"}},
	}
	// detail/ghost has no canned detail: nil response
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err)

	entry, err := st.FindEntry(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCrawler_RefreshesMetadataOnResync(t *testing.T) {
	src := narutoSource()
	st := newMemStore()
	crawler := testCrawler(src, st)
	require.NoError(t, crawler.Run(context.Background(), "start"))

	src.mu.Lock()
	src.details["detail/naruto"].Synopsis = "Now with a new synopsis"
	src.mu.Unlock()
	require.NoError(t, crawler.Run(context.Background(), "start"))

	entry, err := st.FindEntry(context.Background(), "naruto")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Now with a new synopsis", entry.Synopsis)
}

func TestCrawler_MalformedPageListLeavesChapterEmpty(t *testing.T) {
	src := narutoSource()
	delete(src.pages, "ch/c2") // chapter detail not a list: nil pages
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err)

	entry, err := st.FindEntry(context.Background(), "naruto")
	require.NoError(t, err)
	require.NotNil(t, entry)

	c2 := st.chapterByParam(entry.ID, "c2")
	require.NotNil(t, c2, "chapter row persisted even without pages")
	pages, err := st.ListPages(context.Background(), c2.ID)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestCrawler_FallsBackToListingFields(t *testing.T) {
	src := newFakeSource()
	src.listings["start"] = &source.ListingPage{
		Items: []source.ListingItem{{
			Param:       "solo",
			Title:       "Listing Title",
			Description: "listing synopsis",
			Thumbnail:   "listing.jpg",
			DetailURL:   "detail/solo",
		}},
	}
	src.details["detail/solo"] = &source.EntryDetail{
		Chapters: []source.RemoteChapter{},
	}
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err)

	entry, err := st.FindEntry(context.Background(), "solo")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Listing Title", entry.Title)
	assert.Equal(t, "listing synopsis", entry.Synopsis)
	assert.Equal(t, "listing.jpg", entry.Thumbnail)
}

func TestCrawler_ManyEntriesAcrossPages(t *testing.T) {
	src := newFakeSource()
	var items []source.ListingItem
	for i := 0; i < 6; i++ {
		param := fmt.Sprintf("e%d", i)
		items = append(items, source.ListingItem{Param: param, Title: param, DetailURL: "detail/" + param})
		src.details["detail/"+param] = &source.EntryDetail{
			Param:    param,
			Title:    param,
			Chapters: []source.RemoteChapter{{Label: "Chapter 1", Param: param + "-c1", DetailURL: "ch/" + param}},
		}
		src.pages["ch/"+param] = []string{"u1", "u2"}
	}
	src.listings["start"] = &source.ListingPage{Items: items[:3], NextPage: "next"}
	src.listings["next"] = &source.ListingPage{Items: items[3:]}
	st := newMemStore()

	err := testCrawler(src, st).Run(context.Background(), "start")
	require.NoError(t, err)

	assert.Equal(t, 6, st.countChapters())
	assert.Equal(t, 12, st.countPages())
}
