package source

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedFetcher feeds fixed JSON bodies keyed by URL.
type cannedFetcher struct {
	bodies map[string]string
}

func (f *cannedFetcher) GetJSON(ctx context.Context, url string, result interface{}) error {
	return json.Unmarshal([]byte(f.bodies[url]), result)
}

func TestListPage_Shapes(t *testing.T) {
	src := NewAPISource(&cannedFetcher{bodies: map[string]string{
		"full":     `{"data":[{"title":"Naruto","param":"naruto","detail_url":"d"}],"next_page":"p2"}`,
		"empty":    `{"data":[],"next_page":null}`,
		"missing":  `{"next_page":"p2"}`,
		"notarray": `{"data":{"oops":true}}`,
		"nulldata": `{"data":null}`,
	}})
	ctx := context.Background()

	page, err := src.ListPage(ctx, "full")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "naruto", page.Items[0].Param)
	assert.Equal(t, "p2", page.NextPage)

	page, err = src.ListPage(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, page.Items, "empty list is a valid page")
	assert.Empty(t, page.Items)

	for _, url := range []string{"missing", "notarray", "nulldata"} {
		page, err = src.ListPage(ctx, url)
		require.NoError(t, err)
		assert.Nil(t, page.Items, "%s should yield nil items", url)
	}
}

func TestEntryDetail_NullData(t *testing.T) {
	src := NewAPISource(&cannedFetcher{bodies: map[string]string{
		"ok":   `{"data":{"param":"naruto","title":"Naruto","genre":["action"],"chapters":[{"chapter":"Chapter 1","param":"c1","detail_url":"d"}]}}`,
		"null": `{"data":null}`,
	}})
	ctx := context.Background()

	detail, err := src.EntryDetail(ctx, "ok")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "naruto", detail.Param)
	assert.Equal(t, []string{"action"}, detail.Genres)
	require.Len(t, detail.Chapters, 1)
	assert.Equal(t, "c1", detail.Chapters[0].Param)

	detail, err = src.EntryDetail(ctx, "null")
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestChapterPages_Shapes(t *testing.T) {
	src := NewAPISource(&cannedFetcher{bodies: map[string]string{
		"ok":       `{"data":["a","b","c"]}`,
		"notarray": `{"data":{"oops":true}}`,
		"missing":  `{}`,
	}})
	ctx := context.Background()

	urls, err := src.ChapterPages(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, urls)

	for _, url := range []string{"notarray", "missing"} {
		urls, err = src.ChapterPages(ctx, url)
		require.NoError(t, err)
		assert.Nil(t, urls)
	}
}
