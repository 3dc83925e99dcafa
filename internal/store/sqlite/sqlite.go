package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orpheus-engine/conductor/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_transitions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			state TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 0,
			pid INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_service ON service_transitions(service);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_at ON service_transitions(at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordTransition(ctx context.Context, rec store.Record) error {
	var lastErr sql.NullString
	if rec.LastError != "" {
		lastErr = sql.NullString{String: rec.LastError, Valid: true}
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_transitions(service, state, port, pid, last_error, at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		rec.Service, rec.State, rec.Port, rec.PID, lastErr, at.UTC())
	return err
}

func (s *DB) LastByService(ctx context.Context, service string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, state, port, pid, last_error, at
		FROM service_transitions
		WHERE service=?
		ORDER BY id DESC
		LIMIT 1;`, service)
	return scanRecord(row)
}

func (s *DB) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, state, port, pid, last_error, at
		FROM service_transitions
		ORDER BY id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0, limit)
	for rows.Next() {
		var r store.Record
		var lastErr sql.NullString
		if err := rows.Scan(&r.ID, &r.Service, &r.State, &r.Port, &r.PID, &lastErr, &r.At); err != nil {
			return nil, err
		}
		r.LastError = lastErr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_transitions WHERE at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (store.Record, error) {
	var r store.Record
	var lastErr sql.NullString
	if err := row.Scan(&r.ID, &r.Service, &r.State, &r.Port, &r.PID, &lastErr, &r.At); err != nil {
		return store.Record{}, err
	}
	r.LastError = lastErr.String
	return r, nil
}
