package orchestrator

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// ResourceLimits bounds host usage before a new job is admitted.
type ResourceLimits struct {
	MaxMemoryPercent float64       `mapstructure:"max_memory_percent"`
	MaxDiskPercent   float64       `mapstructure:"max_disk_percent"`
	DiskPath         string        `mapstructure:"disk_path"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
}

// ResourceGate blocks job admission while the host is over its memory or
// disk ceiling. Usage is re-sampled every CheckInterval until it drops.
type ResourceGate struct {
	limits ResourceLimits
	logger *zap.Logger

	memoryPercent func() (float64, error)
	diskPercent   func(path string) (float64, error)
}

// NewResourceGate builds a gate backed by live host metrics.
func NewResourceGate(limits ResourceLimits, logger *zap.Logger) *ResourceGate {
	if limits.CheckInterval <= 0 {
		limits.CheckInterval = 30 * time.Second
	}
	if limits.DiskPath == "" {
		limits.DiskPath = "/"
	}
	return &ResourceGate{
		limits: limits,
		logger: logger,
		memoryPercent: func() (float64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		diskPercent: func(path string) (float64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.UsedPercent, nil
		},
	}
}

// Wait blocks until host usage is under both ceilings or the context ends.
// Sampling errors are logged and treated as under-limit so a broken metrics
// source never stalls the run.
func (g *ResourceGate) Wait(ctx context.Context) error {
	for {
		if ok := g.underLimits(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.limits.CheckInterval):
		}
	}
}

func (g *ResourceGate) underLimits() bool {
	ok := true

	if g.limits.MaxMemoryPercent > 0 {
		used, err := g.memoryPercent()
		switch {
		case err != nil:
			g.logger.Warn("memory sample failed, skipping check", zap.Error(err))
		case used > g.limits.MaxMemoryPercent:
			g.logger.Info("memory over ceiling, delaying next job",
				zap.Float64("used_percent", used),
				zap.Float64("limit_percent", g.limits.MaxMemoryPercent),
			)
			ok = false
		}
	}

	if g.limits.MaxDiskPercent > 0 {
		used, err := g.diskPercent(g.limits.DiskPath)
		switch {
		case err != nil:
			g.logger.Warn("disk sample failed, skipping check", zap.Error(err))
		case used > g.limits.MaxDiskPercent:
			g.logger.Info("disk over ceiling, delaying next job",
				zap.String("path", g.limits.DiskPath),
				zap.Float64("used_percent", used),
				zap.Float64("limit_percent", g.limits.MaxDiskPercent),
			)
			ok = false
		}
	}

	return ok
}
