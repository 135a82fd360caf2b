// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Every collection shares one records table keyed by (collection,
// record_id). A BIGSERIAL column preserves insertion order, and records are
// stored as JSON so the text written is the text read back.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/agentgate/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) List(collection string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT data FROM records WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

func (s *Store) Get(collection, id string) (json.RawMessage, error) {
	var data []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT data FROM records WHERE collection = $1 AND record_id = $2`,
		collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *Store) Append(collection, id string, record json.RawMessage) error {
	tag, err := s.pool.Exec(context.Background(),
		`INSERT INTO records (collection, record_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, record_id) DO NOTHING`,
		collection, id, []byte(record))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrConflict)
	}
	return nil
}

// Update locks the row for the duration of fn.
func (s *Store) Update(collection, id string, fn storage.UpdateFunc) error {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM records WHERE collection = $1 AND record_id = $2 FOR UPDATE`,
		collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}

	next, err := fn(json.RawMessage(data))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE records SET data = $3 WHERE collection = $1 AND record_id = $2`,
		collection, id, []byte(next)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
