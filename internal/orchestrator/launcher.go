package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
)

// Launcher runs one job to completion and reports whether it exited cleanly.
type Launcher interface {
	Launch(ctx context.Context, jobID string, spec harvest.JobSpec) error
}

// ExecLauncher runs each job as a child process of the job binary. Process
// isolation bounds the memory footprint of a long run: whatever a job leaks,
// the OS reclaims at exit.
type ExecLauncher struct {
	binary     string
	configPath string
	logger     *zap.Logger
}

// NewExecLauncher builds a launcher for the given job binary and shared
// config file.
func NewExecLauncher(binary, configPath string, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{binary: binary, configPath: configPath, logger: logger}
}

// Launch starts the job process and waits for it. The context is
// deliberately not used to kill the child: terminal-delivered signals reach
// the whole process group, and the job handles them itself by finishing the
// current page and checkpointing before exit.
func (l *ExecLauncher) Launch(_ context.Context, jobID string, spec harvest.JobSpec) error {
	args := []string{
		"--job-id", jobID,
		"--start-offset", strconv.Itoa(spec.StartOffset),
		"--page-count", strconv.Itoa(spec.PageCount),
		"--output-dir", spec.OutputDir,
		"--checkpoint", spec.CheckpointPath,
	}
	if spec.CachePath != "" {
		args = append(args, "--cache", spec.CachePath)
	}
	if l.configPath != "" {
		args = append(args, "--config", l.configPath)
	}

	cmd := exec.Command(l.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	l.logger.Info("launching job process",
		zap.String("job_id", jobID),
		zap.String("binary", l.binary),
		zap.Int("start_offset", spec.StartOffset),
		zap.Int("page_count", spec.PageCount),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("job process %s: %w", jobID, err)
	}
	return nil
}
