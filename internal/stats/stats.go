// Package stats accumulates per-job summaries into run-level totals.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
)

// Snapshot is the JSON shape of the global stats file. Totals survive
// orchestrator restarts; the summaries list preserves per-job detail.
type Snapshot struct {
	TotalPages   int                  `json:"total_pages"`
	TotalItems   int                  `json:"total_items"`
	MatchedItems int                  `json:"matched_items"`
	TotalJobs    int                  `json:"total_jobs"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Summaries    []harvest.JobSummary `json:"job_summaries"`
}

// FinalSummary is written once when a harvest run completes.
type FinalSummary struct {
	TotalPages     int     `json:"total_pages"`
	TotalItems     int     `json:"total_items"`
	MatchedItems   int     `json:"matched_items"`
	MatchedPercent float64 `json:"matched_percent"`
	TotalJobs      int     `json:"total_jobs"`
	CompletedAt    string  `json:"completed_at"`
}

// Tracker owns the global stats file. Safe for concurrent snapshot reads
// while the orchestrator applies job results.
type Tracker struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	snap Snapshot
}

// NewTracker loads existing totals from path, starting empty when the file
// is absent or unreadable.
func NewTracker(path string, logger *zap.Logger) *Tracker {
	t := &Tracker{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("global stats load failed, starting empty", zap.String("path", path), zap.Error(err))
		}
		return t
	}
	if err := json.Unmarshal(raw, &t.snap); err != nil {
		logger.Error("global stats corrupt, starting empty", zap.String("path", path), zap.Error(err))
		t.snap = Snapshot{}
		return t
	}
	logger.Info("global stats loaded",
		zap.String("path", path),
		zap.Int("total_jobs", t.snap.TotalJobs),
		zap.Int("total_items", t.snap.TotalItems),
	)
	return t
}

// ApplyJob folds one completed job into the totals and persists the file.
// Persistence failures are logged; the in-memory totals stay authoritative
// for the rest of the run.
func (t *Tracker) ApplyJob(summary harvest.JobSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.TotalPages += summary.PageCount
	t.snap.TotalItems += summary.ItemCount
	t.snap.MatchedItems += summary.MatchedCount
	t.snap.TotalJobs++
	t.snap.Summaries = append(t.snap.Summaries, summary)

	if err := t.save(); err != nil {
		t.logger.Error("global stats save failed", zap.String("path", t.path), zap.Error(err))
	}
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.snap
	out.Summaries = append([]harvest.JobSummary(nil), t.snap.Summaries...)
	return out
}

// LastEndOffset reports the end offset of the most recently applied job, for
// resuming a run across orchestrator restarts. ok is false when no job has
// completed yet.
func (t *Tracker) LastEndOffset() (offset int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.snap.Summaries) == 0 {
		return 0, false
	}
	return t.snap.Summaries[len(t.snap.Summaries)-1].EndOffset, true
}

// WriteFinalSummary emits the end-of-run report to the given path.
func (t *Tracker) WriteFinalSummary(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	final := FinalSummary{
		TotalPages:   t.snap.TotalPages,
		TotalItems:   t.snap.TotalItems,
		MatchedItems: t.snap.MatchedItems,
		TotalJobs:    t.snap.TotalJobs,
		CompletedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if t.snap.TotalItems > 0 {
		final.MatchedPercent = 100 * float64(t.snap.MatchedItems) / float64(t.snap.TotalItems)
	}

	payload, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal final summary: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write final summary: %w", err)
	}
	return nil
}

// save persists the snapshot atomically. Caller holds the lock.
func (t *Tracker) save() error {
	t.snap.UpdatedAt = time.Now().UTC()
	payload, err := json.MarshalIndent(t.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal global stats: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace stats file: %w", err)
	}
	return nil
}
