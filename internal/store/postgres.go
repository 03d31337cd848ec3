package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS chat_fingerprints (
	chat_id     TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore shares fingerprints between machines through a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create chat_fingerprints: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetLast(ctx context.Context, chatID string) (string, bool, error) {
	var fp string
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint FROM chat_fingerprints WHERE chat_id = $1`, chatID).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get fingerprint: %w", err)
	}
	return fp, true, nil
}

func (s *PostgresStore) SetLast(ctx context.Context, chatID, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_fingerprints (chat_id, fingerprint, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chat_id)
		DO UPDATE SET
			fingerprint = $2,
			updated_at = now()`,
		chatID, fingerprint)
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, fingerprint, updated_at FROM chat_fingerprints ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ChatID, &e.Fingerprint, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
