// Package main runs the harvest orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/api"
	"github.com/beautydex/harvester/internal/catalog"
	"github.com/beautydex/harvester/internal/config"
	"github.com/beautydex/harvester/internal/logging"
	"github.com/beautydex/harvester/internal/orchestrator"
	"github.com/beautydex/harvester/internal/stats"
	"github.com/beautydex/harvester/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// A broken reference file fails every job the same way, so refuse to
	// schedule anything until it is fixed.
	if _, err := catalog.Load(cfg.Reference.Path, logger); err != nil {
		var formatErr *catalog.FormatError
		if errors.As(err, &formatErr) {
			logger.Error("reference data is malformed, refusing to start", zap.Error(formatErr))
		} else {
			logger.Error("reference data load failed", zap.Error(err))
		}
		os.Exit(1)
	}

	tracker := stats.NewTracker(filepath.Join(cfg.Harvest.WorkDir, "global_stats.json"), logger.Named("stats"))
	signals := orchestrator.NewSignals(logger.Named("signals"))
	gate := orchestrator.NewResourceGate(cfg.Resources, logger.Named("resources"))
	retry := orchestrator.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	launcher := orchestrator.NewExecLauncher(cfg.Job.Binary, *cfgPath, logger.Named("launcher"))

	o := orchestrator.New(cfg.Harvest, launcher, tracker, retry, logger.Named("orchestrator")).
		WithSignals(signals).
		WithResourceGate(gate)

	if cfg.DB.DSN != "" {
		sink, err := postgres.NewSummaryStore(context.Background(), cfg.DB)
		if err != nil {
			logger.Warn("postgres summary store unavailable, continuing without it", zap.Error(err))
		} else {
			defer sink.Close()
			o.WithSummarySink(sink)
		}
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		apiServer := api.NewServer(tracker, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	runErr := o.Run(context.Background())

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}

	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		os.Exit(1)
	}
}
