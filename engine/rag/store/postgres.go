package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/pkg/logger"
)

// PGPool is the subset of *pgxpool.Pool the postgres store needs.
type PGPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps each document's records as one JSONB row.
type PostgresStore struct {
	pool  PGPool
	table string
}

func newPostgresStore(ctx context.Context, cfg *Config) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	s := NewPostgres(pool, cfg.Table)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool. An empty table name selects document_chunks.
func NewPostgres(pool PGPool, table string) *PostgresStore {
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{fallbackString(table, defaultTable)}.Sanitize(),
	}
}

// EnsureSchema creates the records table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	document_id TEXT PRIMARY KEY,
	chunks JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: ensure table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, documentID string, records []persist.Record) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	data, err := persist.Marshal(records)
	if err != nil {
		return fmt.Errorf("postgres: save %q: %w", documentID, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (document_id, chunks, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (document_id) DO UPDATE SET chunks = EXCLUDED.chunks, updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, documentID, string(data)); err != nil {
		return fmt.Errorf("postgres: save %q: %w", documentID, err)
	}
	logger.FromContext(ctx).Debug("Saved document records", "document_id", documentID, "records", len(records))
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, documentID string) ([]persist.Record, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT chunks FROM %s WHERE document_id = $1`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, documentID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: load %q: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: load %q: %w", documentID, err)
	}
	records, err := persist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("postgres: load %q: %w", documentID, err)
	}
	return records, nil
}

func (s *PostgresStore) Delete(ctx context.Context, documentID string) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, documentID); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", documentID, err)
	}
	return nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
