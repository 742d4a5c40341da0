// Package job runs one bounded harvest window: fetch pages, match items
// against the reference catalog, and persist batches, cache, and checkpoint.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/batch"
	"github.com/beautydex/harvester/internal/cache"
	"github.com/beautydex/harvester/internal/catalog"
	"github.com/beautydex/harvester/internal/checkpoint"
	"github.com/beautydex/harvester/internal/fuzzy"
	"github.com/beautydex/harvester/internal/harvest"
	"github.com/beautydex/harvester/internal/metrics"
)

// SummaryFileName is the per-job completion report consumed by the
// orchestrator after the process exits.
const SummaryFileName = "crawl_summary.json"

// Runner executes a single JobSpec to completion.
type Runner struct {
	jobID       string
	spec        harvest.JobSpec
	fetcher     harvest.Fetcher
	cat         *catalog.Catalog
	store       *cache.Store
	checkpoints *checkpoint.Store
	logger      *zap.Logger

	status harvest.JobStatus
}

// NewRunner wires a Runner from its collaborators. The cache store is shared
// state on disk but owned exclusively by this process while it runs.
func NewRunner(jobID string, spec harvest.JobSpec, fetcher harvest.Fetcher, cat *catalog.Catalog, store *cache.Store, logger *zap.Logger) *Runner {
	return &Runner{
		jobID:       jobID,
		spec:        spec,
		fetcher:     fetcher,
		cat:         cat,
		store:       store,
		checkpoints: checkpoint.NewStore(spec.CheckpointPath, logger),
		logger:      logger,
		status:      harvest.JobStatusCreated,
	}
}

// Status reports the runner's lifecycle state.
func (r *Runner) Status() harvest.JobStatus {
	return r.status
}

// Run processes the job's page window. Progress is checkpointed after every
// page, so a crashed or interrupted job resumes at the page after the last
// one it completed. On a clean finish the summary is also written to
// SummaryFileName inside the output directory.
func (r *Runner) Run(ctx context.Context) (harvest.JobSummary, error) {
	r.status = harvest.JobStatusRunning

	state := r.checkpoints.Load()
	offset := checkpoint.ResumeOffset(state, r.spec.StartOffset)
	if state == nil {
		// Seed one before the window: no page has completed yet, so a
		// checkpoint persisted before the first page finishes must still
		// resume at the first page.
		state = checkpoint.NewState(r.spec.StartOffset - 1)
	}

	writer, err := batch.NewWriter(r.spec.OutputDir, r.spec.BatchSize, state.BatchCount, r.logger)
	if err != nil {
		return r.fail(fmt.Errorf("init batch writer: %w", err))
	}

	r.logger.Info("job started",
		zap.String("job_id", r.jobID),
		zap.Int("start_offset", r.spec.StartOffset),
		zap.Int("resume_offset", offset),
		zap.Int("page_count", r.spec.PageCount),
	)

	endOffset := r.spec.StartOffset + r.spec.PageCount
	for ; offset < endOffset; offset++ {
		if err := ctx.Err(); err != nil {
			r.finalize(writer, state)
			return r.fail(fmt.Errorf("job interrupted: %w", err))
		}

		page, err := r.fetcher.FetchPage(ctx, offset)
		if errors.Is(err, harvest.ErrEndOfData) {
			r.logger.Info("no more pages", zap.Int("offset", offset))
			break
		}
		if err != nil {
			r.finalize(writer, state)
			return r.fail(fmt.Errorf("fetch page %d: %w", offset, err))
		}
		metrics.ObservePage()

		for _, key := range page.Keys {
			if state.Processed(key) {
				continue
			}
			matched := r.processItem(ctx, key, writer)
			state.MarkProcessed(key)
			state.ItemCount++
			if matched {
				state.MatchedCount++
			}
		}

		state.LastOffset = offset
		state.PageCount++
		state.BatchCount = writer.BatchCount()
		if err := r.checkpoints.Save(state); err != nil {
			r.logger.Error("checkpoint save failed", zap.Int("offset", offset), zap.Error(err))
		}
	}

	r.finalize(writer, state)

	summary := harvest.JobSummary{
		JobID:        r.jobID,
		StartOffset:  r.spec.StartOffset,
		PageCount:    state.PageCount,
		ItemCount:    state.ItemCount,
		MatchedCount: state.MatchedCount,
		EndOffset:    state.LastOffset,
		Timestamp:    time.Now().UTC(),
		OutputDir:    r.spec.OutputDir,
	}
	if err := r.writeSummary(summary); err != nil {
		return r.fail(err)
	}

	r.status = harvest.JobStatusSucceeded
	metrics.ObserveJob(string(r.status))
	r.logger.Info("job finished",
		zap.String("job_id", r.jobID),
		zap.Int("pages", summary.PageCount),
		zap.Int("items", summary.ItemCount),
		zap.Int("matched", summary.MatchedCount),
	)
	return summary, nil
}

// processItem applies the cache decision tree to one item key and reports
// whether the item newly matched the catalog this job.
func (r *Runner) processItem(ctx context.Context, key string, writer *batch.Writer) bool {
	cached, ok := r.store.Get(key)
	if ok {
		if cached.Matched {
			// Already matched on a previous run: reuse without refetching.
			writer.Append(cached)
			metrics.ObserveItem("cached")
			return false
		}
		// Unmatched entries get another chance in case the reference catalog
		// grew since they were cached. The name is re-scored without a fetch.
		result := fuzzy.Match(cached.FullName, r.cat, r.spec.Threshold)
		if !result.IsMatch {
			return false
		}
		cached.Matched = true
		cached.MatchedName = result.MatchedName
		if category, found := r.cat.LookupCategory(result.MatchedName); found {
			cached.Category = category
		}
		r.store.Put(cached)
		writer.Append(cached)
		metrics.ObserveItem("promoted")
		r.logger.Debug("cached item promoted to matched",
			zap.String("key", key),
			zap.String("matched_name", result.MatchedName),
			zap.Float64("score", result.Score),
		)
		return true
	}

	record, err := r.fetcher.FetchItem(ctx, key)
	if err != nil {
		r.logger.Warn("item fetch failed", zap.String("key", key), zap.Error(err))
		record = harvest.Record{
			Key:       key,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
		r.store.Put(record)
		writer.Append(record)
		metrics.ObserveItem("error")
		return false
	}

	result := fuzzy.Match(record.FullName, r.cat, r.spec.Threshold)
	record.Matched = result.IsMatch
	record.MatchedName = result.MatchedName
	if result.IsMatch {
		if category, found := r.cat.LookupCategory(result.MatchedName); found {
			record.Category = category
		}
	}
	r.store.Put(record)
	writer.Append(record)
	metrics.ObserveItem("fetched")
	return result.IsMatch
}

// finalize flushes the partial batch and the cache, then records the final
// batch count so a resumed job keeps numbering.
func (r *Runner) finalize(writer *batch.Writer, state *checkpoint.State) {
	writer.Flush()
	state.BatchCount = writer.BatchCount()
	if err := r.checkpoints.Save(state); err != nil {
		r.logger.Error("final checkpoint save failed", zap.Error(err))
	}
	r.store.Flush(true)
}

func (r *Runner) writeSummary(summary harvest.JobSummary) error {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job summary: %w", err)
	}
	path := filepath.Join(r.spec.OutputDir, SummaryFileName)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write job summary: %w", err)
	}
	return nil
}

func (r *Runner) fail(err error) (harvest.JobSummary, error) {
	r.status = harvest.JobStatusFailed
	metrics.ObserveJob(string(r.status))
	return harvest.JobSummary{}, err
}
