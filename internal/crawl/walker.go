package crawl

import (
	"context"
	"log"

	"github.com/novalattasya/mixscrap/internal/source"
)

// WalkPages follows the listing's next_page pointers from startURL until the
// pointer runs out, handing each page's items to onPage. A page whose data
// field is missing or not a list ends the walk without error. A listing
// fetch failure is the one error that propagates: it terminates the whole
// run.
func WalkPages(ctx context.Context, src source.Source, startURL string, onPage func(items []source.ListingItem) error) error {
	url := startURL
	for url != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Printf("[Walker] Fetching listing page: %s", url)
		page, err := src.ListPage(ctx, url)
		if err != nil {
			return err
		}
		if page.Items == nil {
			log.Printf("[Walker] No data field at %s, stopping", url)
			return nil
		}

		if err := onPage(page.Items); err != nil {
			return err
		}

		url = page.NextPage
	}
	return nil
}
