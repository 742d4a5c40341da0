// Package batch buffers extracted records and flushes them to immutable
// output files.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
	"github.com/beautydex/harvester/internal/metrics"
)

// Writer accumulates records and writes one file per full batch. Batch
// files are never rewritten; the index in the filename is strictly
// increasing within the writer's output directory.
type Writer struct {
	dir        string
	batchSize  int
	logger     *zap.Logger
	buffer     []harvest.Record
	batchCount int
}

// NewWriter creates the output directory and a Writer scoped to it.
// batchCount seeds the file index, letting a resumed job continue numbering
// where its checkpoint left off.
func NewWriter(dir string, batchSize, batchCount int, logger *zap.Logger) (*Writer, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &Writer{
		dir:        dir,
		batchSize:  batchSize,
		logger:     logger,
		buffer:     make([]harvest.Record, 0, batchSize),
		batchCount: batchCount,
	}, nil
}

// Append buffers a record, flushing automatically when the buffer fills.
func (w *Writer) Append(record harvest.Record) {
	w.buffer = append(w.buffer, record)
	if len(w.buffer) >= w.batchSize {
		w.Flush()
	}
}

// Flush writes the buffered records as one immutable file and clears the
// buffer. On write failure it retries once to an emergency filename in the
// same directory; if that also fails, the buffer is dropped from batch
// output (the records remain in the cache) and the job proceeds. Returns
// the written path, empty when there was nothing to write or both writes
// failed.
func (w *Writer) Flush() string {
	if len(w.buffer) == 0 {
		return ""
	}

	// The index is consumed only once a file lands on disk, so a failed
	// flush leaves no gap in the sequence.
	index := w.batchCount + 1
	payload, err := json.MarshalIndent(w.buffer, "", "  ")
	if err != nil {
		w.logger.Error("batch marshal failed, records lost from batch output",
			zap.Int("batch", index),
			zap.Int("records", len(w.buffer)),
			zap.Error(err),
		)
		w.buffer = w.buffer[:0]
		return ""
	}

	path := filepath.Join(w.dir, fmt.Sprintf("batch_%d.json", index))
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		w.logger.Error("batch write failed, retrying to emergency path",
			zap.String("path", path),
			zap.Error(err),
		)
		path = filepath.Join(w.dir, fmt.Sprintf("batch_%d_emergency.json", index))
		if err := os.WriteFile(path, payload, 0o600); err != nil {
			w.logger.Error("emergency batch write failed, records lost from batch output",
				zap.String("path", path),
				zap.Int("records", len(w.buffer)),
				zap.Error(err),
			)
			w.buffer = w.buffer[:0]
			return ""
		}
	}

	w.batchCount = index
	w.logger.Info("batch flushed",
		zap.String("path", path),
		zap.Int("batch", index),
		zap.Int("records", len(w.buffer)),
	)
	metrics.ObserveBatchFlush()
	w.buffer = w.buffer[:0]
	return path
}

// BatchCount reports how many batch files have been written so far.
func (w *Writer) BatchCount() int {
	return w.batchCount
}

// Buffered reports the number of records waiting for the next flush.
func (w *Writer) Buffered() int {
	return len(w.buffer)
}
