// Package main runs a single harvest job in its own process. The
// orchestrator launches one of these per page window; process exit reclaims
// whatever the job accumulated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/cache"
	"github.com/beautydex/harvester/internal/catalog"
	"github.com/beautydex/harvester/internal/config"
	"github.com/beautydex/harvester/internal/fetch"
	"github.com/beautydex/harvester/internal/harvest"
	"github.com/beautydex/harvester/internal/job"
	"github.com/beautydex/harvester/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	jobID := flag.String("job-id", "", "Job identifier assigned by the orchestrator")
	startOffset := flag.Int("start-offset", 0, "First page offset of this job's window")
	pageCount := flag.Int("page-count", 0, "Number of pages in this job's window")
	outputDir := flag.String("output-dir", "", "Directory for batches, checkpoint, and summary")
	checkpointPath := flag.String("checkpoint", "", "Checkpoint file path")
	cachePath := flag.String("cache", "", "Shared deduplication cache file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *pageCount <= 0 {
		fmt.Fprintln(os.Stderr, "--page-count must be > 0")
		os.Exit(1)
	}
	if *outputDir == "" {
		fmt.Fprintln(os.Stderr, "--output-dir is required")
		os.Exit(1)
	}
	if *jobID == "" {
		*jobID = uuid.NewString()
	}
	if *checkpointPath == "" {
		*checkpointPath = filepath.Join(*outputDir, "checkpoint.json")
	}

	logger, closeLog, err := logging.NewJobLogger(cfg.Logging.Development, filepath.Join(*outputDir, "harvest.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger = logger.With(zap.String("job_id", *jobID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *cachePath == "" {
		*cachePath = cfg.Cache.Path
	}
	if *cachePath == "" {
		*cachePath = filepath.Join(cfg.Harvest.WorkDir, "cache.json")
	}

	spec := harvest.JobSpec{
		StartOffset:    *startOffset,
		PageCount:      *pageCount,
		BatchSize:      cfg.Harvest.BatchSize,
		Threshold:      cfg.Harvest.Threshold,
		OutputDir:      *outputDir,
		CheckpointPath: *checkpointPath,
		CachePath:      *cachePath,
		ReferencePath:  cfg.Reference.Path,
	}

	cat, err := catalog.Load(spec.ReferencePath, logger)
	if err != nil {
		logger.Error("reference data load failed", zap.Error(err))
		os.Exit(1)
	}
	store := cache.Open(spec.CachePath, cfg.Cache.SaveFrequency, logger.Named("cache"))

	fetcher, err := fetch.New(cfg.Source, logger.Named("fetch"))
	if err != nil {
		logger.Error("fetcher init failed", zap.Error(err))
		os.Exit(1)
	}

	runner := job.NewRunner(*jobID, spec, fetcher, cat, store, logger.Named("runner"))
	if _, err := runner.Run(ctx); err != nil {
		logger.Error("job failed", zap.Error(err))
		os.Exit(1)
	}
}
