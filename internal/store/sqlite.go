package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS chat_fingerprints (
	chat_id     TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

// SQLiteStore keeps fingerprints in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
// Pass ":memory:" for an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: ":memory:" is per-connection and writers would otherwise lock.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating chat_fingerprints table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetLast(ctx context.Context, chatID string) (string, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM chat_fingerprints WHERE chat_id = ?`, chatID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get fingerprint: %w", err)
	}
	return fp, true, nil
}

func (s *SQLiteStore) SetLast(ctx context.Context, chatID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_fingerprints (chat_id, fingerprint, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at`,
		chatID, fingerprint, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, fingerprint, updated_at FROM chat_fingerprints ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updated string
		if err := rows.Scan(&e.ChatID, &e.Fingerprint, &updated); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
