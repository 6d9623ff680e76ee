// Package sqlite persists interception call traces in a local sqlite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/glesdbg/glesdbg/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.CallStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts_unix_ns INTEGER NOT NULL,
			context_id INTEGER NOT NULL,
			function INTEGER NOT NULL,
			name TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			invocations INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_session_ts ON calls(session_id, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_name ON calls(name);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendCall(ctx context.Context, rec store.CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, session_id, ts_unix_ns, context_id, function, name, duration_ms, invocations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Timestamp.UnixNano(), rec.ContextID, rec.Function, rec.Name, rec.DurationMS, rec.Invocations,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (s *Store) RecentCalls(ctx context.Context, limit int) ([]store.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, session_id, ts_unix_ns, context_id, function, name, duration_ms, invocations
		 FROM calls ORDER BY ts_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var out []store.CallRecord
	for rows.Next() {
		var rec store.CallRecord
		var ns int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ns, &rec.ContextID, &rec.Function, &rec.Name, &rec.DurationMS, &rec.Invocations); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountCalls(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count call records: %w", err)
	}
	return n, nil
}
