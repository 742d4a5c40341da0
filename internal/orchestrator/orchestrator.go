// Package orchestrator schedules bounded harvest jobs across a page range
// and survives restarts by resuming from persisted run state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
	"github.com/beautydex/harvester/internal/job"
	"github.com/beautydex/harvester/internal/stats"
)

// SummarySink receives completed job summaries for off-process storage.
// Sink failures never fail the run.
type SummarySink interface {
	Store(ctx context.Context, summary harvest.JobSummary) error
}

// Config sets the shape of one harvest run.
type Config struct {
	StartOffset int           `mapstructure:"start_offset"`
	TotalPages  int           `mapstructure:"total_pages"`
	PagesPerJob int           `mapstructure:"pages_per_job"`
	BatchSize   int           `mapstructure:"batch_size"`
	Threshold   int           `mapstructure:"threshold"`
	WorkDir     string        `mapstructure:"work_dir"`
	JobPause    time.Duration `mapstructure:"job_pause"`
}

// Orchestrator drives the run: admit, launch, collect, repeat. Jobs run
// strictly one at a time.
type Orchestrator struct {
	cfg      Config
	launcher Launcher
	tracker  *stats.Tracker
	retry    *RetryPolicy
	logger   *zap.Logger

	signals *Signals
	gate    *ResourceGate
	sink    SummarySink
}

// New wires an Orchestrator. signals, gate, and sink may be nil; the
// corresponding behavior is skipped.
func New(cfg Config, launcher Launcher, tracker *stats.Tracker, retry *RetryPolicy, logger *zap.Logger) *Orchestrator {
	if cfg.PagesPerJob <= 0 {
		cfg.PagesPerJob = 20
	}
	return &Orchestrator{
		cfg:      cfg,
		launcher: launcher,
		tracker:  tracker,
		retry:    retry,
		logger:   logger,
	}
}

// WithSignals attaches operator signal handling.
func (o *Orchestrator) WithSignals(s *Signals) *Orchestrator {
	o.signals = s
	return o
}

// WithResourceGate attaches host resource admission control.
func (o *Orchestrator) WithResourceGate(g *ResourceGate) *Orchestrator {
	o.gate = g
	return o
}

// WithSummarySink attaches off-process summary storage.
func (o *Orchestrator) WithSummarySink(sink SummarySink) *Orchestrator {
	o.sink = sink
	return o
}

// Run walks the page range [StartOffset, TotalPages) in PagesPerJob windows,
// one child job per window. A window that keeps failing after its retry
// budget aborts the run; a window that comes up short of pages means the
// source is exhausted and ends the run cleanly. The final summary is written
// either way.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := o.cfg.StartOffset
	if last, ok := o.tracker.LastEndOffset(); ok && last+1 > start {
		start = last + 1
		o.logger.Info("resuming from previous run", zap.Int("start_offset", start))
	}

	if err := os.MkdirAll(o.cfg.WorkDir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	exhausted := false
	for start < o.cfg.TotalPages {
		if o.shutdownRequested() {
			o.logger.Info("stopping before next job on shutdown request")
			break
		}
		if o.signals != nil {
			o.signals.WaitWhilePaused(ctx, time.Second)
		}
		if o.gate != nil {
			if err := o.gate.Wait(ctx); err != nil {
				return fmt.Errorf("wait for resources: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		window := o.cfg.PagesPerJob
		if remaining := o.cfg.TotalPages - start; remaining < window {
			window = remaining
		}

		summary, err := o.runWindow(ctx, start, window)
		if err != nil {
			if o.shutdownRequested() {
				// The child saw the same signal and checkpointed; the window
				// is retried on the next run.
				o.logger.Info("window interrupted by shutdown", zap.Int("start_offset", start))
				break
			}
			return err
		}

		o.tracker.ApplyJob(summary)
		if o.sink != nil {
			if err := o.sink.Store(ctx, summary); err != nil {
				o.logger.Warn("summary sink store failed", zap.String("job_id", summary.JobID), zap.Error(err))
			}
		}

		if summary.PageCount < window {
			o.logger.Info("source exhausted before window end",
				zap.Int("start_offset", start),
				zap.Int("pages", summary.PageCount),
			)
			exhausted = true
			break
		}

		start = summary.EndOffset + 1
		if start < o.cfg.TotalPages {
			o.pause(ctx)
		}
	}

	finalPath := filepath.Join(o.cfg.WorkDir, "final_summary.json")
	if err := o.tracker.WriteFinalSummary(finalPath); err != nil {
		o.logger.Error("final summary write failed", zap.String("path", finalPath), zap.Error(err))
	}

	snap := o.tracker.Snapshot()
	o.logger.Info("run finished",
		zap.Int("total_jobs", snap.TotalJobs),
		zap.Int("total_pages", snap.TotalPages),
		zap.Int("total_items", snap.TotalItems),
		zap.Int("matched_items", snap.MatchedItems),
		zap.Bool("source_exhausted", exhausted),
	)
	return nil
}

// runWindow launches one job for the window, retrying the identical window
// on failure until the retry budget is spent.
func (o *Orchestrator) runWindow(ctx context.Context, start, window int) (harvest.JobSummary, error) {
	jobNum := o.tracker.Snapshot().TotalJobs + 1
	spec := o.jobSpec(jobNum, start, window)
	jobID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		err := o.launcher.Launch(ctx, jobID, spec)
		if err == nil {
			summary, readErr := readJobSummary(spec.OutputDir)
			if readErr == nil {
				return summary, nil
			}
			err = readErr
		}

		if o.shutdownRequested() || ctx.Err() != nil || !o.retry.ShouldRetry(attempt+1) {
			return harvest.JobSummary{}, fmt.Errorf("window at offset %d failed: %w", start, err)
		}

		delay := o.retry.Backoff(attempt)
		o.logger.Warn("job failed, retrying window",
			zap.String("job_id", jobID),
			zap.Int("start_offset", start),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return harvest.JobSummary{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (o *Orchestrator) jobSpec(jobNum, start, window int) harvest.JobSpec {
	dir := filepath.Join(o.cfg.WorkDir, fmt.Sprintf("job_%d_%s", jobNum, time.Now().UTC().Format("20060102T150405")))
	return harvest.JobSpec{
		StartOffset:    start,
		PageCount:      window,
		BatchSize:      o.cfg.BatchSize,
		Threshold:      o.cfg.Threshold,
		OutputDir:      dir,
		CheckpointPath: filepath.Join(dir, "checkpoint.json"),
		CachePath:      filepath.Join(o.cfg.WorkDir, "cache.json"),
	}
}

func (o *Orchestrator) shutdownRequested() bool {
	return o.signals != nil && o.signals.ShutdownRequested()
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.cfg.JobPause <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(o.cfg.JobPause):
	}
}

// readJobSummary loads the report a finished job left in its output dir.
func readJobSummary(dir string) (harvest.JobSummary, error) {
	raw, err := os.ReadFile(filepath.Join(dir, job.SummaryFileName))
	if err != nil {
		return harvest.JobSummary{}, fmt.Errorf("read job summary: %w", err)
	}
	var summary harvest.JobSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return harvest.JobSummary{}, fmt.Errorf("parse job summary: %w", err)
	}
	return summary, nil
}
