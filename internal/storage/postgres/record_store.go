// Package postgres persists crawl runs and their enriched job postings.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when a run has not been stored.
var ErrNotFound = errors.New("run not found")

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes runs and postings into Postgres.
type RecordStore struct {
	pool      pool
	table     string
	runsTable string
}

var _ crawler.RecordStore = (*RecordStore)(nil)

// postingColumns is the COPY column order used by StoreRun.
var postingColumns = []string{
	"run_id",
	"position",
	"search_role",
	"search_location",
	"date_of_job_post",
	"title",
	"job_location",
	"company_name",
	"job_link",
	"job_summary",
	"job_type",
	"job_qualifications",
	"job_description",
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.RunsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, runsTable string) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "job_postings"
	}
	if runsTable == "" {
		runsTable = "crawl_runs"
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &RecordStore{pool: p, table: table, runsTable: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the runs and postings tables when they do not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	queries         INTEGER NOT NULL,
	records         INTEGER NOT NULL,
	enriched        INTEGER NOT NULL,
	query_failures  INTEGER NOT NULL,
	page_failures   INTEGER NOT NULL,
	detail_failures INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id             TEXT NOT NULL REFERENCES %[1]s (run_id) ON DELETE CASCADE,
	position           INTEGER NOT NULL,
	search_role        TEXT NOT NULL,
	search_location    TEXT NOT NULL,
	date_of_job_post   TEXT NOT NULL,
	title              TEXT NOT NULL,
	job_location       TEXT NOT NULL,
	company_name       TEXT NOT NULL,
	job_link           TEXT NOT NULL,
	job_summary        TEXT NOT NULL,
	job_type           TEXT NOT NULL,
	job_qualifications TEXT[],
	job_description    TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
)`, s.runsTable, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// StoreRun upserts the run row and replaces its postings in one transaction.
func (s *RecordStore) StoreRun(ctx context.Context, result crawler.RunResult) error {
	if s == nil || s.pool == nil {
		return errors.New("record store is not configured")
	}
	if result.RunID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := s.storeRunTx(ctx, tx, result); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", result.RunID, err)
	}
	return nil
}

func (s *RecordStore) storeRunTx(ctx context.Context, tx pgx.Tx, result crawler.RunResult) error {
	sum := result.Summary()
	upsert := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	status,
	started_at,
	finished_at,
	queries,
	records,
	enriched,
	query_failures,
	page_failures,
	detail_failures
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	records = EXCLUDED.records,
	enriched = EXCLUDED.enriched,
	query_failures = EXCLUDED.query_failures,
	page_failures = EXCLUDED.page_failures,
	detail_failures = EXCLUDED.detail_failures`, s.runsTable)
	if _, err := tx.Exec(ctx, upsert,
		sum.RunID,
		sum.Status,
		sum.StartedAt,
		sum.FinishedAt,
		sum.Queries,
		sum.Records,
		sum.Enriched,
		sum.QueryFailures,
		sum.PageFailures,
		sum.DetailFailures,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.table), result.RunID); err != nil {
		return fmt.Errorf("clear postings: %w", err)
	}
	if len(result.Records) == 0 {
		return nil
	}

	records := result.Records
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, postingColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				result.RunID,
				i,
				rec.Summary.Search.Role,
				rec.Summary.Search.Location,
				rec.Summary.PostedDate,
				rec.Summary.Title,
				rec.Summary.Location,
				rec.Summary.Company,
				rec.Summary.DetailURL,
				rec.Summary.Snippet,
				rec.Detail.EmploymentType,
				rec.Detail.Qualifications,
				rec.Detail.Description,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy postings: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy postings: wrote %d of %d rows", n, len(records))
	}
	return nil
}

// LoadSummary reads a stored run row.
func (s *RecordStore) LoadSummary(ctx context.Context, runID string) (crawler.RunSummary, error) {
	query := fmt.Sprintf(`
SELECT run_id, status, started_at, finished_at, queries, records, enriched,
	query_failures, page_failures, detail_failures
FROM %s
WHERE run_id = $1`, s.runsTable)
	var sum crawler.RunSummary
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&sum.RunID,
		&sum.Status,
		&sum.StartedAt,
		&sum.FinishedAt,
		&sum.Queries,
		&sum.Records,
		&sum.Enriched,
		&sum.QueryFailures,
		&sum.PageFailures,
		&sum.DetailFailures,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.RunSummary{}, ErrNotFound
		}
		return crawler.RunSummary{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return sum, nil
}
