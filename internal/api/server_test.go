package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novalattasya/mixscrap/internal/store"
)

type stubStore struct {
	entries  []store.CatalogEntry
	chapters map[int64][]store.Chapter
	pages    map[int64][]store.Page
	runs     []store.Run
}

func (s *stubStore) FindEntry(ctx context.Context, param string) (*store.CatalogEntry, error) {
	for i := range s.entries {
		if s.entries[i].Param == param {
			return &s.entries[i], nil
		}
	}
	return nil, nil
}

func (s *stubStore) UpsertEntry(ctx context.Context, e *store.CatalogEntry) (store.UpsertResult, error) {
	return store.UpsertResult{}, nil
}

func (s *stubStore) ListChapters(ctx context.Context, entryID int64) ([]store.Chapter, error) {
	return s.chapters[entryID], nil
}

func (s *stubStore) InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *store.Chapter) (store.InsertResult, error) {
	return store.InsertResult{}, nil
}

func (s *stubStore) InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, url string) (bool, error) {
	return false, nil
}

func (s *stubStore) BeginRun(ctx context.Context) (int64, error) { return 0, nil }

func (s *stubStore) EndRun(ctx context.Context, runID int64, status, details string) error {
	return nil
}

func (s *stubStore) ListEntries(ctx context.Context, offset, limit int) ([]store.CatalogEntry, int64, error) {
	return s.entries, int64(len(s.entries)), nil
}

func (s *stubStore) ListPages(ctx context.Context, chapterID int64) ([]store.Page, error) {
	return s.pages[chapterID], nil
}

func (s *stubStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	return s.runs, nil
}

func (s *stubStore) Close() error { return nil }

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	st := &stubStore{
		entries: []store.CatalogEntry{
			{ID: 1, Param: "naruto", Title: "Naruto", Genres: []string{"action"}},
		},
		chapters: map[int64][]store.Chapter{
			1: {
				{ID: 10, EntryID: 1, Label: "Chapter 2", Param: "c2", Seq: 2},
				{ID: 11, EntryID: 1, Label: "Chapter 1", Param: "c1", Seq: 1},
			},
		},
		pages: map[int64][]store.Page{
			11: {
				{ID: 100, ChapterID: 11, Idx: 1, URL: "a"},
				{ID: 101, ChapterID: 11, Idx: 2, URL: "b"},
			},
		},
	}
	return NewServer(st).Router()
}

func doGet(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestListEntries(t *testing.T) {
	router := testRouter()

	w, body := doGet(t, router, "/api/entries")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "naruto", data[0].(map[string]interface{})["param"])
}

func TestGetEntry(t *testing.T) {
	router := testRouter()

	w, body := doGet(t, router, "/api/entries/naruto")

	assert.Equal(t, http.StatusOK, w.Code)
	chapters := body["chapters"].([]interface{})
	require.Len(t, chapters, 2)
	// Newest first, straight from the store's seq ordering.
	assert.Equal(t, "c2", chapters[0].(map[string]interface{})["param"])
}

func TestGetEntry_NotFound(t *testing.T) {
	router := testRouter()

	w, _ := doGet(t, router, "/api/entries/missing")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetChapterPages(t *testing.T) {
	router := testRouter()

	w, body := doGet(t, router, "/api/entries/naruto/chapters/c1")

	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "a", data[0])
	assert.Equal(t, "b", data[1])
}

func TestGetChapterPages_UnknownChapter(t *testing.T) {
	router := testRouter()

	w, _ := doGet(t, router, "/api/entries/naruto/chapters/c99")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
