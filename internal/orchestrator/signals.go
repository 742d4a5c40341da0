package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Signals tracks operator intent delivered via process signals. SIGINT and
// SIGTERM request shutdown after the current job; SIGUSR1 toggles a pause
// that takes effect at the next job boundary.
type Signals struct {
	logger   *zap.Logger
	shutdown atomic.Bool
	paused   atomic.Bool
}

// NewSignals installs the handlers and starts watching.
func NewSignals(logger *zap.Logger) *Signals {
	s := &Signals{logger: logger}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR1:
				paused := !s.paused.Load()
				s.paused.Store(paused)
				s.logger.Info("pause toggled", zap.Bool("paused", paused))
			default:
				s.shutdown.Store(true)
				s.logger.Info("shutdown requested, finishing current job", zap.String("signal", sig.String()))
			}
		}
	}()
	return s
}

// ShutdownRequested reports whether the run should stop at the next job
// boundary.
func (s *Signals) ShutdownRequested() bool {
	return s.shutdown.Load()
}

// Paused reports the current pause state.
func (s *Signals) Paused() bool {
	return s.paused.Load()
}

// WaitWhilePaused blocks while paused, re-checking on an interval. It
// returns early when shutdown is requested or the context ends.
func (s *Signals) WaitWhilePaused(ctx context.Context, interval time.Duration) {
	for s.Paused() && !s.ShutdownRequested() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
