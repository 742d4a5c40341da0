// Package cache implements the durable deduplication store shared by all
// batch jobs.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
	"github.com/beautydex/harvester/internal/metrics"
)

// Stat counters persist every statsFlushInterval hits so they survive a
// crash between insert-driven flushes.
const statsFlushInterval = 50

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size              int     `json:"size"`
	MatchedCount      int     `json:"matched_count"`
	UnmatchedCount    int     `json:"unmatched_count"`
	Hits              int     `json:"hits"`
	MatchedHits       int     `json:"matched_hits"`
	UnmatchedHits     int     `json:"unmatched_hits"`
	Misses            int     `json:"misses"`
	HitRatio          float64 `json:"hit_ratio"`
	EffectiveHitRatio float64 `json:"effective_hit_ratio"`
}

// document is the on-disk shape of the cache file.
type document struct {
	Entries       map[string]harvest.Record `json:"entries"`
	Hits          int                       `json:"hits"`
	MatchedHits   int                       `json:"matched_hits"`
	UnmatchedHits int                       `json:"unmatched_hits"`
	Misses        int                       `json:"misses"`
}

// Store is a file-backed key→record map with hit/miss instrumentation.
// It is owned by a single job process at a time; jobs never run
// concurrently, so no locking is needed.
type Store struct {
	path          string
	saveFrequency int
	logger        *zap.Logger

	entries       map[string]harvest.Record
	hits          int
	matchedHits   int
	unmatchedHits int
	misses        int

	additionsSinceFlush int
}

// Open loads the cache from disk, degrading to an empty in-memory store on
// any load failure.
func Open(path string, saveFrequency int, logger *zap.Logger) *Store {
	s := &Store{
		path:          path,
		saveFrequency: saveFrequency,
		logger:        logger,
		entries:       make(map[string]harvest.Record),
	}
	s.load()
	return s
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no cache file found, starting empty", zap.String("path", s.path))
		} else {
			s.logger.Error("cache load failed, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Error("cache file corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
		return
	}
	if doc.Entries != nil {
		s.entries = doc.Entries
	}
	s.hits = doc.Hits
	s.matchedHits = doc.MatchedHits
	s.unmatchedHits = doc.UnmatchedHits
	s.misses = doc.Misses

	s.logger.Info("cache loaded",
		zap.String("path", s.path),
		zap.Int("entries", len(s.entries)),
		zap.Int("hits", s.hits),
		zap.Int("misses", s.misses),
	)
}

// Has reports whether a key is cached without touching the counters.
func (s *Store) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Get returns the entry for a key and records the lookup: a hit bumps the
// matched or unmatched hit counter, an absent key bumps misses.
func (s *Store) Get(key string) (harvest.Record, bool) {
	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		metrics.ObserveCacheMiss()
		return harvest.Record{}, false
	}

	s.hits++
	if entry.Matched {
		s.matchedHits++
		metrics.ObserveCacheHit("matched")
	} else {
		s.unmatchedHits++
		metrics.ObserveCacheHit("unmatched")
	}

	// Persist counters periodically so hit stats survive a crash even when
	// no inserts are happening.
	if s.hits%statsFlushInterval == 0 {
		s.Flush(true)
	}
	return entry, true
}

// Put inserts or overwrites an entry. An entry without a key is rejected:
// logged, never fatal.
func (s *Store) Put(entry harvest.Record) bool {
	if entry.Key == "" {
		s.logger.Warn("cache entry missing key, not cached", zap.String("full_name", entry.FullName))
		return false
	}
	s.entries[entry.Key] = entry
	s.additionsSinceFlush++
	s.Flush(false)
	return true
}

// Flush writes the store to disk when forced or when enough insertions have
// accumulated. The write goes to a temp file first and is renamed into
// place, so a crash mid-write never truncates the previous file. Failures
// are logged and reported, never fatal.
func (s *Store) Flush(force bool) bool {
	if !force && s.additionsSinceFlush < s.saveFrequency {
		return true
	}

	doc := document{
		Entries:       s.entries,
		Hits:          s.hits,
		MatchedHits:   s.matchedHits,
		UnmatchedHits: s.unmatchedHits,
		Misses:        s.misses,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("cache marshal failed", zap.Error(err))
		return false
	}

	if err := atomicWrite(s.path, payload); err != nil {
		s.logger.Error("cache flush failed", zap.String("path", s.path), zap.Error(err))
		return false
	}
	s.additionsSinceFlush = 0
	s.logger.Debug("cache flushed", zap.String("path", s.path), zap.Int("entries", len(s.entries)))
	return true
}

// Stats computes usage statistics including the matched-hit ratio, which
// estimates how much redundant fetching the cache avoided.
func (s *Store) Stats() Stats {
	matched := 0
	for _, entry := range s.entries {
		if entry.Matched {
			matched++
		}
	}

	st := Stats{
		Size:           len(s.entries),
		MatchedCount:   matched,
		UnmatchedCount: len(s.entries) - matched,
		Hits:           s.hits,
		MatchedHits:    s.matchedHits,
		UnmatchedHits:  s.unmatchedHits,
		Misses:         s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRatio = float64(s.hits) / float64(total)
		st.EffectiveHitRatio = float64(s.matchedHits) / float64(total)
	}
	return st
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	return len(s.entries)
}

func atomicWrite(path string, payload []byte) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
