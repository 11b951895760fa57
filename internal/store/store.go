// Package store journals reservation runs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/booking"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS reservation_runs (
    run_id      TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    filled      TEXT[] NOT NULL DEFAULT '{}',
    skipped     TEXT[] NOT NULL DEFAULT '{}',
    artifacts   TEXT[] NOT NULL DEFAULT '{}',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS reservation_run_transitions (
    run_id     TEXT NOT NULL REFERENCES reservation_runs (run_id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    field      TEXT NOT NULL DEFAULT '',
    at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, seq)
);`

const sqlInsertRun = `
        INSERT INTO reservation_runs (run_id, state, error_kind, error, url, filled, skipped, artifacts, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (run_id) DO UPDATE SET
            state = EXCLUDED.state,
            error_kind = EXCLUDED.error_kind,
            error = EXCLUDED.error,
            url = EXCLUDED.url,
            filled = EXCLUDED.filled,
            skipped = EXCLUDED.skipped,
            artifacts = EXCLUDED.artifacts,
            finished_at = EXCLUDED.finished_at;
    `

const sqlRecentRuns = `
        SELECT run_id, state, error_kind, error, url, started_at, finished_at
        FROM reservation_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

var transitionColumns = []string{"run_id", "seq", "from_state", "to_state", "field", "at"}

// Store is a booking.Journal backed by PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ booking.Journal = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Open connects to databaseURL and prepares the schema. The returned close
// function releases the pool.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate creates the journal tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores the outcome and state trace of a run in one transaction.
func (s *Store) Record(ctx context.Context, res *booking.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		res.RunID, string(res.State), res.ErrorKind, res.Error, res.URL,
		nonNil(res.Filled), nonNil(res.Skipped), nonNil(res.Artifacts),
		res.StartedAt.UTC(), res.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	if len(res.Trace) > 0 {
		rows := make([][]any, len(res.Trace))
		for i, tr := range res.Trace {
			rows[i] = []any{res.RunID, i, string(tr.From), string(tr.To), tr.Field, tr.At.UTC()}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"reservation_run_transitions"}, transitionColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy transitions: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied transitions count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Recorded run", zap.String("run_id", res.RunID), zap.String("state", string(res.State)))
	return nil
}

// RunSummary is one row of the journal.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	State      string    `json:"state"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	URL        string    `json:"url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.State, &r.ErrorKind, &r.Error, &r.URL, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
