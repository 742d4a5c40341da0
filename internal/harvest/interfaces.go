package harvest

import "context"

// Fetcher retrieves listing pages and item payloads from the source site.
// Implementations live outside the orchestration core; the runner only
// depends on this contract.
type Fetcher interface {
	// FetchPage returns the item keys listed at the given page offset.
	// Returns ErrEndOfData when the offset is past the last page.
	FetchPage(ctx context.Context, offset int) (Page, error)
	// FetchItem retrieves and extracts a single item by key.
	FetchItem(ctx context.Context, key string) (Record, error)
}
