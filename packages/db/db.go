// Package db keeps a history of runs in SQLite so state carries over between
// invocations, such as the last outcome a recovery notification compares
// against.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	files       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS failures (
	run_id  INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	file    TEXT NOT NULL,
	name    TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS failures_run ON failures(run_id);
`

// Run is one recorded run.
type Run struct {
	ID        int64
	StartedAt time.Time
	Files     int
	Passed    int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Failures  []Failure
}

// Success reports whether no check failed.
func (r *Run) Success() bool {
	return r.Failed == 0
}

// Failure is one failed check of a run.
type Failure struct {
	File    string
	Name    string
	Message string
}

// Store is a run history backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history at path. A "sqlite://" or "sqlite:"
// prefix is accepted; ":memory:" keeps the history in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(path), "sqlite://"), "sqlite:")
	if dsn == "" {
		return nil, errors.New("empty history path")
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	// A single connection keeps :memory: databases alive across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run with its failures and sets its ID.
func (s *Store) Record(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, files, passed, failed, skipped, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UnixMilli(), run.Files, run.Passed, run.Failed, run.Skipped, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, f := range run.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, file, name, message) VALUES (?, ?, ?, ?)`,
			id, f.File, f.Name, f.Message); err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	run.ID = id
	return nil
}

// Last returns the most recent run, or nil when the history is empty.
func (s *Store) Last(ctx context.Context) (*Run, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// Recent returns up to n runs, newest first, with their failures.
func (s *Store) Recent(ctx context.Context, n int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, files, passed, failed, skipped, duration_ms FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run            Run
			started, durMs int64
		)
		if err := rows.Scan(&run.ID, &started, &run.Files, &run.Passed, &run.Failed, &run.Skipped, &durMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(started)
		run.Duration = time.Duration(durMs) * time.Millisecond
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, run := range runs {
		if run.Failures, err = s.failures(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) failures(ctx context.Context, runID int64) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file, name, message FROM failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.File, &f.Name, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
