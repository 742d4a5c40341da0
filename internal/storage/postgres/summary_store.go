// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beautydex/harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SummaryStoreConfig controls the Postgres connection pool used for job
// summary rows.
type SummaryStoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SummaryStore writes one row per completed job.
type SummaryStore struct {
	pool  execCloser
	table string
}

// NewSummaryStore creates a Postgres-backed SummaryStore using the provided
// config.
func NewSummaryStore(ctx context.Context, cfg SummaryStoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_summaries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SummaryStore{pool: pool, table: table}, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSummaryStoreWithPool(pool execCloser, table string) (*SummaryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_summaries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SummaryStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Store inserts a job summary row.
func (s *SummaryStore) Store(ctx context.Context, summary harvest.JobSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("summary store is not configured")
	}
	if summary.JobID == "" {
		return fmt.Errorf("job id is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	start_offset,
	page_count,
	item_count,
	matched_count,
	end_offset,
	output_dir,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		summary.JobID,
		summary.StartOffset,
		summary.PageCount,
		summary.ItemCount,
		summary.MatchedCount,
		summary.EndOffset,
		summary.OutputDir,
		summary.Timestamp,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job summary: %w", err)
	}
	return nil
}
