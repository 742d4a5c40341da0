package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/cache"
	"github.com/beautydex/harvester/internal/catalog"
	"github.com/beautydex/harvester/internal/checkpoint"
	"github.com/beautydex/harvester/internal/harvest"
)

type fakeFetcher struct {
	pages    map[int]harvest.Page
	items    map[string]harvest.Record
	itemErrs map[string]error
	pageErr  error
	// pageErrAfter fails page fetches once this many calls succeeded;
	// zero disables.
	pageErrAfter int

	pageOffsets []int
	fetchedKeys []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, offset int) (harvest.Page, error) {
	f.pageOffsets = append(f.pageOffsets, offset)
	if f.pageErr != nil {
		return harvest.Page{}, f.pageErr
	}
	if f.pageErrAfter > 0 && len(f.pageOffsets) > f.pageErrAfter {
		return harvest.Page{}, errors.New("listing unreachable")
	}
	page, ok := f.pages[offset]
	if !ok {
		return harvest.Page{}, harvest.ErrEndOfData
	}
	return page, nil
}

func (f *fakeFetcher) FetchItem(_ context.Context, key string) (harvest.Record, error) {
	f.fetchedKeys = append(f.fetchedKeys, key)
	if err, ok := f.itemErrs[key]; ok {
		return harvest.Record{}, err
	}
	record, ok := f.items[key]
	if !ok {
		return harvest.Record{}, errors.New("unknown key")
	}
	record.Timestamp = time.Now().UTC()
	return record, nil
}

func testSpec(t *testing.T) harvest.JobSpec {
	t.Helper()
	dir := t.TempDir()
	return harvest.JobSpec{
		StartOffset:    0,
		PageCount:      10,
		BatchSize:      100,
		Threshold:      90,
		OutputDir:      filepath.Join(dir, "out"),
		CheckpointPath: filepath.Join(dir, "checkpoint.json"),
		CachePath:      filepath.Join(dir, "cache.json"),
	}
}

func openCache(t *testing.T, spec harvest.JobSpec) *cache.Store {
	t.Helper()
	return cache.Open(spec.CachePath, 10, zap.NewNop())
}

func readBatch(t *testing.T, spec harvest.JobSpec, index int) []harvest.Record {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(spec.OutputDir, "batch_"+string(rune('0'+index))+".json"))
	require.NoError(t, err)
	var records []harvest.Record
	require.NoError(t, json.Unmarshal(raw, &records))
	return records
}

func TestRunEndToEnd(t *testing.T) {
	spec := testSpec(t)
	cat := catalog.New([]catalog.Item{{Brand: "Acme", Name: "Shampoo", Category: "hair"}})
	fetcher := &fakeFetcher{
		pages: map[int]harvest.Page{
			0: {Offset: 0, Keys: []string{"https://example.com/items/acme-shampoo-x"}},
		},
		items: map[string]harvest.Record{
			"https://example.com/items/acme-shampoo-x": {
				FullName: "Acme Shampoo X",
				Brand:    "Acme",
				Name:     "Shampoo X",
				Key:      "https://example.com/items/acme-shampoo-x",
			},
		},
	}
	store := openCache(t, spec)

	runner := NewRunner("job-1", spec, fetcher, cat, store, zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, harvest.JobStatusSucceeded, runner.Status())

	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, 1, summary.PageCount)
	assert.Equal(t, 1, summary.ItemCount)
	assert.Equal(t, 1, summary.MatchedCount)
	assert.Equal(t, 0, summary.EndOffset)

	records := readBatch(t, spec, 1)
	require.Len(t, records, 1)
	assert.True(t, records[0].Matched)
	assert.Equal(t, "Acme Shampoo", records[0].MatchedName)
	assert.Equal(t, "hair", records[0].Category)

	_, statErr := os.Stat(filepath.Join(spec.OutputDir, SummaryFileName))
	assert.NoError(t, statErr, "summary file written on success")

	reloaded := openCache(t, spec)
	entry, ok := reloaded.Get(records[0].Key)
	require.True(t, ok, "record cached for future runs")
	assert.True(t, entry.Matched)
}

func TestRunResumesAfterCheckpoint(t *testing.T) {
	spec := testSpec(t)
	checkpoints := checkpoint.NewStore(spec.CheckpointPath, zap.NewNop())
	state := checkpoint.NewState(4)
	state.ItemCount = 12
	state.PageCount = 5
	require.NoError(t, checkpoints.Save(state))

	fetcher := &fakeFetcher{}
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), openCache(t, spec), zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, fetcher.pageOffsets)
	assert.Equal(t, 5, fetcher.pageOffsets[0], "resume starts one past the last completed offset")
	assert.Equal(t, 12, summary.ItemCount, "checkpointed counters carry over")
}

func TestCachedMatchedItemSkipsFetch(t *testing.T) {
	spec := testSpec(t)
	key := "https://example.com/items/known"
	store := openCache(t, spec)
	store.Put(harvest.Record{
		Key:         key,
		FullName:    "Acme Conditioner",
		Matched:     true,
		MatchedName: "Acme Conditioner",
	})

	fetcher := &fakeFetcher{
		pages: map[int]harvest.Page{0: {Offset: 0, Keys: []string{key}}},
	}
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), store, zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, fetcher.fetchedKeys, "matched cache hit never refetches")
	assert.Equal(t, 1, summary.ItemCount)
	assert.Equal(t, 0, summary.MatchedCount, "previously matched items are not recounted")

	records := readBatch(t, spec, 1)
	require.Len(t, records, 1)
	assert.Equal(t, key, records[0].Key)
}

func TestCachedUnmatchedItemPromoted(t *testing.T) {
	spec := testSpec(t)
	key := "https://example.com/items/latecomer"
	store := openCache(t, spec)
	store.Put(harvest.Record{Key: key, FullName: "Acme Face Cream"})

	cat := catalog.New([]catalog.Item{{Brand: "Acme", Name: "Face Cream"}})
	fetcher := &fakeFetcher{
		pages: map[int]harvest.Page{0: {Offset: 0, Keys: []string{key}}},
	}
	runner := NewRunner("job-1", spec, fetcher, cat, store, zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, fetcher.fetchedKeys, "promotion re-scores the cached name only")
	assert.Equal(t, 1, summary.MatchedCount)

	records := readBatch(t, spec, 1)
	require.Len(t, records, 1)
	assert.True(t, records[0].Matched)
	assert.Equal(t, "Acme Face Cream", records[0].MatchedName)

	entry, ok := openCache(t, spec).Get(key)
	require.True(t, ok)
	assert.True(t, entry.Matched, "promotion persists in the cache")
}

func TestCachedUnmatchedItemStaysOutOfBatch(t *testing.T) {
	spec := testSpec(t)
	key := "https://example.com/items/unknown"
	store := openCache(t, spec)
	store.Put(harvest.Record{Key: key, FullName: "Completely Unrelated Thing"})

	cat := catalog.New([]catalog.Item{{Brand: "Acme", Name: "Shampoo"}})
	fetcher := &fakeFetcher{
		pages: map[int]harvest.Page{0: {Offset: 0, Keys: []string{key}}},
	}
	runner := NewRunner("job-1", spec, fetcher, cat, store, zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ItemCount, "skipped items still count as processed")
	assert.Equal(t, 0, summary.MatchedCount)
	_, statErr := os.Stat(filepath.Join(spec.OutputDir, "batch_1.json"))
	assert.True(t, os.IsNotExist(statErr), "still-unmatched cache hits are not re-emitted")
}

func TestItemFetchErrorRecorded(t *testing.T) {
	spec := testSpec(t)
	key := "https://example.com/items/broken"
	fetcher := &fakeFetcher{
		pages:    map[int]harvest.Page{0: {Offset: 0, Keys: []string{key}}},
		itemErrs: map[string]error{key: errors.New("connection reset")},
	}
	store := openCache(t, spec)
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), store, zap.NewNop())
	summary, err := runner.Run(context.Background())
	require.NoError(t, err, "a single bad item does not fail the job")

	assert.Equal(t, 1, summary.ItemCount)
	records := readBatch(t, spec, 1)
	require.Len(t, records, 1)
	assert.Equal(t, "connection reset", records[0].Error)

	entry, ok := openCache(t, spec).Get(key)
	require.True(t, ok, "error records are cached to avoid refetch loops")
	assert.Equal(t, "connection reset", entry.Error)
}

func TestPageFetchErrorFailsJob(t *testing.T) {
	spec := testSpec(t)
	fetcher := &fakeFetcher{pageErr: errors.New("listing unreachable")}
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), openCache(t, spec), zap.NewNop())

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, harvest.JobStatusFailed, runner.Status())
	_, statErr := os.Stat(filepath.Join(spec.OutputDir, SummaryFileName))
	assert.True(t, os.IsNotExist(statErr), "no summary for a failed job")
}

func TestRetryAfterFirstPageFailureCoversFullWindow(t *testing.T) {
	spec := testSpec(t)
	spec.StartOffset = 5
	spec.PageCount = 3

	failing := &fakeFetcher{pageErr: errors.New("listing unreachable")}
	first := NewRunner("job-1", spec, failing, catalog.New(nil), openCache(t, spec), zap.NewNop())
	_, err := first.Run(context.Background())
	require.Error(t, err)

	pages := map[int]harvest.Page{}
	items := map[string]harvest.Record{}
	for offset := 5; offset <= 7; offset++ {
		key := fmt.Sprintf("https://example.com/items/p%d", offset)
		pages[offset] = harvest.Page{Offset: offset, Keys: []string{key}}
		items[key] = harvest.Record{Key: key, FullName: fmt.Sprintf("Item %d", offset)}
	}
	healthy := &fakeFetcher{pages: pages, items: items}
	second := NewRunner("job-1", spec, healthy, catalog.New(nil), openCache(t, spec), zap.NewNop())
	summary, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{5, 6, 7}, healthy.pageOffsets,
		"a retry of a window that never completed a page starts at the window's first page")
	assert.Equal(t, 3, summary.PageCount)
	assert.Equal(t, 3, summary.ItemCount)
	assert.Equal(t, 7, summary.EndOffset)
}

func TestRetryAfterMidWindowFailureResumesNextPage(t *testing.T) {
	spec := testSpec(t)
	spec.PageCount = 2

	key := "https://example.com/items/a"
	flaky := &fakeFetcher{
		pages: map[int]harvest.Page{0: {Offset: 0, Keys: []string{key}}},
		items: map[string]harvest.Record{key: {Key: key, FullName: "A"}},
	}
	first := NewRunner("job-1", spec, flaky, catalog.New(nil), openCache(t, spec), zap.NewNop())
	flaky.pageErrAfter = 1
	_, err := first.Run(context.Background())
	require.Error(t, err, "second page of the window fails")

	keyB := "https://example.com/items/b"
	healthy := &fakeFetcher{
		pages: map[int]harvest.Page{
			0: {Offset: 0, Keys: []string{key}},
			1: {Offset: 1, Keys: []string{keyB}},
		},
		items: map[string]harvest.Record{keyB: {Key: keyB, FullName: "B"}},
	}
	second := NewRunner("job-1", spec, healthy, catalog.New(nil), openCache(t, spec), zap.NewNop())
	summary, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, healthy.pageOffsets, "the completed page is not re-fetched")
	assert.Equal(t, 2, summary.PageCount, "counters carry across the retry")
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, 1, summary.EndOffset)
}

func TestCheckpointWrittenPerPage(t *testing.T) {
	spec := testSpec(t)
	fetcher := &fakeFetcher{
		pages: map[int]harvest.Page{
			0: {Offset: 0, Keys: []string{"https://example.com/items/a"}},
			1: {Offset: 1, Keys: []string{"https://example.com/items/b"}},
		},
		items: map[string]harvest.Record{
			"https://example.com/items/a": {Key: "https://example.com/items/a", FullName: "A"},
			"https://example.com/items/b": {Key: "https://example.com/items/b", FullName: "B"},
		},
	}
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), openCache(t, spec), zap.NewNop())
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	loaded := checkpoint.NewStore(spec.CheckpointPath, zap.NewNop()).Load()
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.LastOffset)
	assert.Equal(t, 2, loaded.PageCount)
	assert.True(t, loaded.Processed("https://example.com/items/a"))
	assert.True(t, loaded.Processed("https://example.com/items/b"))
}

func TestInterruptedRunKeepsCheckpoint(t *testing.T) {
	spec := testSpec(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	runner := NewRunner("job-1", spec, fetcher, catalog.New(nil), openCache(t, spec), zap.NewNop())
	_, err := runner.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, harvest.JobStatusFailed, runner.Status())
	assert.Empty(t, fetcher.pageOffsets, "cancelled context stops before fetching")
}
