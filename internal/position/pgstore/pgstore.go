// Package pgstore keeps reading positions in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamborta/readaloud/internal/position"
	"github.com/jamborta/readaloud/internal/state"
)

// Schema creates the reading_positions table. Apply it with Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS reading_positions (
    book_id             TEXT PRIMARY KEY,
    kind                TEXT NOT NULL DEFAULT 'epub',
    chapter_index       INTEGER NOT NULL DEFAULT 0,
    chapter_chunk_index INTEGER NOT NULL DEFAULT 0,
    paragraph_index     INTEGER NOT NULL DEFAULT 0,
    total_paragraphs    INTEGER NOT NULL DEFAULT 0,
    last_modified_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is what the store needs from a connection. *pgxpool.Pool and
// *pgx.Conn both satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a position.Store backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var _ position.Store = (*Store)(nil)

// New returns a store over db. Call Migrate before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, applies the schema and returns a store owning the
// pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by Open.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// GetPosition returns the stored position, or nil when there is none.
func (s *Store) GetPosition(ctx context.Context, bookID string) (*state.Position, error) {
	const query = `
		SELECT book_id, kind, chapter_index, chapter_chunk_index,
		       paragraph_index, total_paragraphs, last_modified_at
		FROM reading_positions
		WHERE book_id = $1`

	var (
		p    state.Position
		kind string
	)
	err := s.db.QueryRow(ctx, query, bookID).Scan(
		&p.BookID, &kind, &p.ChapterIndex, &p.ChapterChunkIndex,
		&p.ParagraphIndex, &p.TotalParagraphs, &p.LastModifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get %q: %w", bookID, err)
	}
	p.Kind = state.Kind(kind)
	return &p, nil
}

// SavePosition inserts or replaces the position of p.BookID.
func (s *Store) SavePosition(ctx context.Context, p state.Position) error {
	const query = `
		INSERT INTO reading_positions (
			book_id, kind, chapter_index, chapter_chunk_index,
			paragraph_index, total_paragraphs, last_modified_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (book_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			chapter_index = EXCLUDED.chapter_index,
			chapter_chunk_index = EXCLUDED.chapter_chunk_index,
			paragraph_index = EXCLUDED.paragraph_index,
			total_paragraphs = EXCLUDED.total_paragraphs,
			last_modified_at = EXCLUDED.last_modified_at`

	kind := p.Kind
	if kind == "" {
		kind = state.KindEPUB
	}
	_, err := s.db.Exec(ctx, query,
		p.BookID, string(kind), p.ChapterIndex, p.ChapterChunkIndex,
		p.ParagraphIndex, p.TotalParagraphs, p.LastModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save %q: %w", p.BookID, err)
	}
	return nil
}
