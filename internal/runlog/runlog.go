// Package runlog records feed runs in the SQLite state database.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxErrorBytes = 4 * 1024

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record stores e and returns its id. A missing ID or CreatedAt is filled in.
func (l *Log) Record(ctx context.Context, e Entry) (string, error) {
	if e.Command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if e.Outcome == "" {
		return "", fmt.Errorf("outcome is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var name, lastError any
	if e.Name != "" {
		name = e.Name
	}
	if e.LastError != nil {
		lastError = truncate(*e.LastError, maxErrorBytes)
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO feed_runs(
  id, name, command, pid, payload_size, payload_blake3, capacity, timeout_ms,
  outcome, bytes_written, writes, waits, elapsed_ms, exit_code, last_error, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, name, e.Command, e.Pid, e.PayloadSize, e.PayloadBlake3, e.Capacity, e.Timeout.Milliseconds(),
		e.Outcome, e.BytesWritten, e.Writes, e.Waits, e.Elapsed.Milliseconds(), e.ExitCode, lastError,
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return e.ID, nil
}

const selectColumns = `
  id, name, command, pid, payload_size, payload_blake3, capacity, timeout_ms,
  outcome, bytes_written, writes, waits, elapsed_ms, exit_code, last_error, created_at`

// List returns up to limit runs, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `SELECT`+selectColumns+`
FROM feed_runs
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Get returns one run by id.
func (l *Log) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `SELECT`+selectColumns+`
FROM feed_runs
WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return e, nil
}

// Prune deletes runs created before cutoff and returns how many were removed.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM feed_runs WHERE created_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e          Entry
		name       sql.NullString
		pid        sql.NullInt64
		timeoutMS  int64
		elapsedMS  int64
		exitCode   sql.NullInt64
		lastError  sql.NullString
		createdAtS string
	)
	err := s.Scan(
		&e.ID, &name, &e.Command, &pid, &e.PayloadSize, &e.PayloadBlake3, &e.Capacity, &timeoutMS,
		&e.Outcome, &e.BytesWritten, &e.Writes, &e.Waits, &elapsedMS, &exitCode, &lastError, &createdAtS,
	)
	if err != nil {
		return nil, err
	}

	e.Name = name.String
	e.Pid = int(pid.Int64)
	e.Timeout = time.Duration(timeoutMS) * time.Millisecond
	e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if t, err := time.Parse(timeLayout, createdAtS); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
