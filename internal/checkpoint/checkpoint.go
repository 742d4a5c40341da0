// Package checkpoint persists per-job crawl progress for crash recovery.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion tags the on-disk format. Files with an unknown version are
// rejected on load rather than silently defaulted.
const SchemaVersion = 1

// State is the durable record of one job's progress. lastOffset is
// monotonically non-decreasing within a job's lifetime.
type State struct {
	SchemaVersion int                 `json:"schema_version"`
	ProcessedKeys map[string]struct{} `json:"-"`
	ItemCount     int                 `json:"item_count"`
	MatchedCount  int                 `json:"matched_count"`
	PageCount     int                 `json:"page_count"`
	BatchCount    int                 `json:"batch_count"`
	LastOffset    int                 `json:"last_offset"`
	Timestamp     time.Time           `json:"timestamp"`

	// Keys is the serialized form of ProcessedKeys.
	Keys []string `json:"processed_keys"`
}

// NewState returns an empty state positioned at the given offset.
func NewState(lastOffset int) *State {
	return &State{
		SchemaVersion: SchemaVersion,
		ProcessedKeys: make(map[string]struct{}),
		LastOffset:    lastOffset,
	}
}

// MarkProcessed records a resource key as seen this job.
func (s *State) MarkProcessed(key string) {
	if s.ProcessedKeys == nil {
		s.ProcessedKeys = make(map[string]struct{})
	}
	s.ProcessedKeys[key] = struct{}{}
}

// Processed reports whether a key was already seen this job.
func (s *State) Processed(key string) bool {
	_, ok := s.ProcessedKeys[key]
	return ok
}

// Store reads and writes checkpoint files for a single job.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore builds a Store for the given path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load returns the persisted state, or nil when the file is absent,
// unreadable, or carries an unknown schema version. Load never fails the
// caller: a nil state means "start of job".
func (c *Store) Load() *State {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Error("checkpoint read failed, starting fresh", zap.String("path", c.path), zap.Error(err))
		}
		return nil
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		c.logger.Error("checkpoint corrupt, starting fresh", zap.String("path", c.path), zap.Error(err))
		return nil
	}
	if state.SchemaVersion != SchemaVersion {
		c.logger.Error("checkpoint schema version unknown, starting fresh",
			zap.String("path", c.path),
			zap.Int("version", state.SchemaVersion),
		)
		return nil
	}

	state.ProcessedKeys = make(map[string]struct{}, len(state.Keys))
	for _, key := range state.Keys {
		state.ProcessedKeys[key] = struct{}{}
	}
	state.Keys = nil

	c.logger.Info("checkpoint loaded",
		zap.String("path", c.path),
		zap.Int("last_offset", state.LastOffset),
		zap.Int("page_count", state.PageCount),
		zap.Int("item_count", state.ItemCount),
	)
	return &state
}

// Save writes the state atomically, first copying any existing file to a
// .bak suffix. The backup is best-effort; a failed backup is logged and the
// save proceeds.
func (c *Store) Save(state *State) error {
	if existing, err := os.ReadFile(c.path); err == nil {
		if err := os.WriteFile(c.path+".bak", existing, 0o600); err != nil {
			c.logger.Warn("checkpoint backup failed", zap.String("path", c.path), zap.Error(err))
		}
	}

	state.SchemaVersion = SchemaVersion
	state.Timestamp = time.Now().UTC()
	state.Keys = make([]string, 0, len(state.ProcessedKeys))
	for key := range state.ProcessedKeys {
		state.Keys = append(state.Keys, key)
	}

	payload, err := json.Marshal(state)
	state.Keys = nil
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}

// ResumeOffset computes where the next fetch should begin: one past the last
// processed offset when a state exists, otherwise the job's configured start.
func ResumeOffset(state *State, startOffset int) int {
	if state == nil {
		return startOffset
	}
	return state.LastOffset + 1
}
