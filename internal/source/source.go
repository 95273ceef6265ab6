// Package source defines the upstream catalog collaborator. The engine never
// parses site markup itself; it speaks to an extraction service that exposes
// the catalog as JSON: a paginated listing, per-entry detail with the chapter
// list, and per-chapter ordered page URLs.
package source

import (
	"context"
	"encoding/json"
)

// ListingItem is one catalog entry as it appears on a listing page.
// LatestChapter is the upstream's newest chapter param for the entry, used
// by the skip-cache to detect unchanged entries without a detail fetch.
type ListingItem struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Thumbnail     string `json:"thumbnail"`
	Param         string `json:"param"`
	LatestChapter string `json:"latest_chapter"`
	DetailURL     string `json:"detail_url"`
}

// ListingPage is one paginated batch of catalog entries. Items is nil when
// the response carried no data field or a non-array one; the walker treats
// that as the end of the branch, not an error.
type ListingPage struct {
	Items    []ListingItem
	NextPage string
}

// RemoteChapter is one chapter as reported by the entry detail response.
type RemoteChapter struct {
	Label       string `json:"chapter"`
	Param       string `json:"param"`
	ReleaseDate string `json:"release"`
	DetailURL   string `json:"detail_url"`
}

// EntryDetail is the structured metadata for one entry. Chapters arrive
// newest first.
type EntryDetail struct {
	Param     string          `json:"param"`
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail"`
	Synopsis  string          `json:"synopsis"`
	Genres    []string        `json:"genre"`
	Chapters  []RemoteChapter `json:"chapters"`
}

// Source is the extraction collaborator the crawl engine runs against.
type Source interface {
	// ListPage fetches one listing page. A missing or non-array data field
	// yields a page with nil Items.
	ListPage(ctx context.Context, url string) (*ListingPage, error)

	// EntryDetail fetches one entry's metadata and chapter list. A null or
	// absent data object yields (nil, nil): skip the entry.
	EntryDetail(ctx context.Context, url string) (*EntryDetail, error)

	// ChapterPages fetches a chapter's ordered page URLs. A non-array data
	// field yields (nil, nil): leave the chapter with zero pages.
	ChapterPages(ctx context.Context, url string) ([]string, error)
}

// Fetcher is the JSON GET capability the API source needs; satisfied by
// *fetch.Client.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, result interface{}) error
}

type apiSource struct {
	client Fetcher
}

// NewAPISource returns a Source backed by the extraction service's JSON API.
func NewAPISource(client Fetcher) Source {
	return &apiSource{client: client}
}

// listingEnvelope keeps data raw so a missing or non-array field can be told
// apart from an empty page.
type listingEnvelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage string          `json:"next_page"`
}

func (s *apiSource) ListPage(ctx context.Context, url string) (*ListingPage, error) {
	var env listingEnvelope
	if err := s.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}

	page := &ListingPage{NextPage: env.NextPage}
	if len(env.Data) == 0 {
		return page, nil
	}
	var items []ListingItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		// Not a list; hand back nil Items and let the walker stop.
		return page, nil
	}
	page.Items = items
	return page, nil
}

func (s *apiSource) EntryDetail(ctx context.Context, url string) (*EntryDetail, error) {
	var env struct {
		Data *EntryDetail `json:"data"`
	}
	if err := s.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (s *apiSource) ChapterPages(ctx context.Context, url string) ([]string, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := s.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal(env.Data, &urls); err != nil {
		return nil, nil
	}
	return urls, nil
}
