package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SupabaseStore talks to a managed Supabase project through its PostgREST
// endpoint. Uniqueness constraints live in the hosted schema; duplicate
// inserts are resolved server-side via the ignore-duplicates preference, so
// this backend honors the same insert-if-absent contract as the local ones.
type SupabaseStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// supabase row payloads (snake_case column names in the hosted schema).

type sbEntry struct {
	ID        int64    `json:"id,omitempty"`
	Param     string   `json:"param"`
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail"`
	Synopsis  string   `json:"synopsis"`
	Genres    []string `json:"genres"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

type sbChapter struct {
	ID          int64  `json:"id,omitempty"`
	EntryID     int64  `json:"entry_id"`
	Label       string `json:"label"`
	Param       string `json:"param"`
	ReleaseDate string `json:"release_date"`
	DetailURL   string `json:"detail_url"`
	Seq         int    `json:"seq"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type sbPage struct {
	ID        int64  `json:"id,omitempty"`
	ChapterID int64  `json:"chapter_id"`
	Idx       int    `json:"idx"`
	URL       string `json:"url"`
}

type sbRun struct {
	ID         int64   `json:"id,omitempty"`
	StartedAt  string  `json:"started_at,omitempty"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Status     string  `json:"status,omitempty"`
	Details    string  `json:"details,omitempty"`
}

// OpenSupabase creates the remote backend and verifies the credentials with
// a probe select against the entries relation.
func OpenSupabase(projectURL, apiKey string) (*SupabaseStore, error) {
	s := &SupabaseStore{
		baseURL:    strings.TrimRight(projectURL, "/") + "/rest/v1",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	if err := s.rest(context.Background(), http.MethodGet, "/entries?select=id&limit=1", nil, nil, nil); err != nil {
		return nil, fmt.Errorf("verify supabase connection: %w", err)
	}
	return s, nil
}

func (s *SupabaseStore) FindEntry(ctx context.Context, param string) (*CatalogEntry, error) {
	var rows []sbEntry
	path := "/entries?param=eq." + url.QueryEscape(param) + "&limit=1"
	if err := s.rest(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("find entry %s: %w", param, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return entryFromSupabase(&rows[0]), nil
}

func (s *SupabaseStore) UpsertEntry(ctx context.Context, e *CatalogEntry) (UpsertResult, error) {
	existing, err := s.FindEntry(ctx, e.Param)
	if err != nil {
		return UpsertResult{}, err
	}

	payload := sbEntry{
		Param:     e.Param,
		Title:     e.Title,
		Thumbnail: e.Thumbnail,
		Synopsis:  e.Synopsis,
		Genres:    e.Genres,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	headers := map[string]string{
		"Prefer": "resolution=merge-duplicates,return=representation",
	}
	var rows []sbEntry
	if err := s.rest(ctx, http.MethodPost, "/entries?on_conflict=param", headers, []sbEntry{payload}, &rows); err != nil {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: %w", e.Param, err)
	}
	if len(rows) == 0 {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: empty representation", e.Param)
	}
	return UpsertResult{ID: rows[0].ID, Created: existing == nil}, nil
}

func (s *SupabaseStore) ListChapters(ctx context.Context, entryID int64) ([]Chapter, error) {
	var rows []sbChapter
	path := fmt.Sprintf("/chapters?entry_id=eq.%d&order=seq.desc", entryID)
	if err := s.rest(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}

	out := make([]Chapter, 0, len(rows))
	for _, r := range rows {
		out = append(out, Chapter{
			ID:          r.ID,
			EntryID:     r.EntryID,
			Label:       r.Label,
			Param:       r.Param,
			ReleaseDate: r.ReleaseDate,
			DetailURL:   r.DetailURL,
			Seq:         r.Seq,
		})
	}
	return out, nil
}

func (s *SupabaseStore) InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *Chapter) (InsertResult, error) {
	payload := sbChapter{
		EntryID:     entryID,
		Label:       ch.Label,
		Param:       ch.Param,
		ReleaseDate: ch.ReleaseDate,
		DetailURL:   ch.DetailURL,
		Seq:         ch.Seq,
	}
	headers := map[string]string{
		"Prefer": "resolution=ignore-duplicates,return=representation",
	}
	var rows []sbChapter
	path := "/chapters?on_conflict=entry_id,param"
	if err := s.rest(ctx, http.MethodPost, path, headers, []sbChapter{payload}, &rows); err != nil {
		return InsertResult{}, fmt.Errorf("insert chapter %s: %w", ch.Param, err)
	}

	if len(rows) == 0 {
		// Duplicate was ignored server-side; look up the winner.
		var winners []sbChapter
		find := fmt.Sprintf("/chapters?entry_id=eq.%d&param=eq.%s&limit=1", entryID, url.QueryEscape(ch.Param))
		if err := s.rest(ctx, http.MethodGet, find, nil, nil, &winners); err != nil {
			return InsertResult{}, fmt.Errorf("find chapter %s: %w", ch.Param, err)
		}
		if len(winners) == 0 {
			return InsertResult{}, fmt.Errorf("chapter %s neither inserted nor found", ch.Param)
		}
		return InsertResult{ID: winners[0].ID, Inserted: false}, nil
	}
	return InsertResult{ID: rows[0].ID, Inserted: true}, nil
}

func (s *SupabaseStore) InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, pageURL string) (bool, error) {
	payload := sbPage{ChapterID: chapterID, Idx: idx, URL: pageURL}
	headers := map[string]string{
		"Prefer": "resolution=ignore-duplicates,return=representation",
	}
	var rows []sbPage
	path := "/pages?on_conflict=chapter_id,idx"
	if err := s.rest(ctx, http.MethodPost, path, headers, []sbPage{payload}, &rows); err != nil {
		return false, fmt.Errorf("insert page %d: %w", idx, err)
	}
	return len(rows) > 0, nil
}

func (s *SupabaseStore) BeginRun(ctx context.Context) (int64, error) {
	headers := map[string]string{"Prefer": "return=representation"}
	var rows []sbRun
	if err := s.rest(ctx, http.MethodPost, "/runs", headers, []sbRun{{Status: RunRunning}}, &rows); err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("begin run: empty representation")
	}
	return rows[0].ID, nil
}

func (s *SupabaseStore) EndRun(ctx context.Context, runID int64, status, details string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	patch := sbRun{FinishedAt: &now, Status: status, Details: TruncateDetails(details)}
	path := fmt.Sprintf("/runs?id=eq.%d", runID)
	if err := s.rest(ctx, http.MethodPatch, path, nil, patch, nil); err != nil {
		return fmt.Errorf("end run %d: %w", runID, err)
	}
	return nil
}

func (s *SupabaseStore) ListEntries(ctx context.Context, offset, limit int) ([]CatalogEntry, int64, error) {
	headers := map[string]string{
		"Prefer": "count=exact",
		"Range":  fmt.Sprintf("%d-%d", offset, offset+limit-1),
	}
	var rows []sbEntry
	total, err := s.restWithCount(ctx, "/entries?order=updated_at.desc", headers, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}

	out := make([]CatalogEntry, 0, len(rows))
	for i := range rows {
		out = append(out, *entryFromSupabase(&rows[i]))
	}
	return out, total, nil
}

func (s *SupabaseStore) ListPages(ctx context.Context, chapterID int64) ([]Page, error) {
	var rows []sbPage
	path := fmt.Sprintf("/pages?chapter_id=eq.%d&order=idx.asc", chapterID)
	if err := s.rest(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	out := make([]Page, 0, len(rows))
	for _, r := range rows {
		out = append(out, Page{ID: r.ID, ChapterID: r.ChapterID, Idx: r.Idx, URL: r.URL})
	}
	return out, nil
}

func (s *SupabaseStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var rows []sbRun
	path := fmt.Sprintf("/runs?order=id.desc&limit=%d", limit)
	if err := s.rest(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		run := Run{ID: r.ID, Status: r.Status, Details: r.Details}
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			run.StartedAt = t
		}
		if r.FinishedAt != nil {
			if t, err := time.Parse(time.RFC3339, *r.FinishedAt); err == nil {
				run.FinishedAt = &t
			}
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *SupabaseStore) Close() error { return nil }

// rest performs one PostgREST call, decoding the response into out when
// non-nil.
func (s *SupabaseStore) rest(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	resp, err := s.do(ctx, method, path, headers, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// restWithCount is rest for range queries; it also returns the total row
// count reported by the Content-Range header.
func (s *SupabaseStore) restWithCount(ctx context.Context, path string, headers map[string]string, out interface{}) (int64, error) {
	resp, err := s.do(ctx, http.MethodGet, path, headers, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}

	// Content-Range looks like "0-49/123"; the figure after the slash is
	// the exact count.
	var total int64
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				total = n
			}
		}
	}
	return total, nil
}

func (s *SupabaseStore) do(ctx context.Context, method, path string, headers map[string]string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

func entryFromSupabase(r *sbEntry) *CatalogEntry {
	e := &CatalogEntry{
		ID:        r.ID,
		Param:     r.Param,
		Title:     r.Title,
		Thumbnail: r.Thumbnail,
		Synopsis:  r.Synopsis,
		Genres:    r.Genres,
	}
	if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		e.UpdatedAt = t
	}
	return e
}
