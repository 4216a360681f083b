// Package postgres provides a PostgreSQL backed statestore.Store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // database/sql driver
	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/statestore"
)

const createTableStmt = `
CREATE TABLE IF NOT EXISTS depflow_state (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a connection pool to the database identified by dsn and ensures
// the state table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection failed: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database failed: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state table failed: %w", err)
	}

	return &Store{
		db:     db,
		logger: zap.L().Named("statestore_postgres"),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string, dest any) error {
	var data []byte

	err := s.db.QueryRowContext(
		ctx,
		"SELECT value FROM depflow_state WHERE key = $1",
		key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return statestore.ErrNotFound
		}

		return err
	}

	return json.Unmarshal(data, dest)
}

func (s *Store) Put(ctx context.Context, key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO depflow_state (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, data,
	)

	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM depflow_state WHERE key = $1", key)
	return err
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT key FROM depflow_state WHERE key LIKE $1 || '%' ORDER BY key",
		prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}

		result = append(result, key)
	}

	return result, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
