package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamborta/readaloud/internal/state"
)

// testDSN skips the test unless READALOUD_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("READALOUD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("READALOUD_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS reading_positions`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetPosition(context.Background(), "missing")
	if err != nil || p != nil {
		t.Errorf("GetPosition = %+v, %v; want nil, nil", p, err)
	}
}

func TestSaveAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	first := state.Position{Kind: state.KindEPUB, BookID: "b1", ChapterIndex: 2, ChapterChunkIndex: 9, LastModifiedAt: at}
	if err := s.SavePosition(ctx, first); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	second := first
	second.ChapterIndex, second.ChapterChunkIndex = 3, 0
	second.LastModifiedAt = at.Add(time.Minute)
	if err := s.SavePosition(ctx, second); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	got, err := s.GetPosition(ctx, "b1")
	if err != nil || got == nil {
		t.Fatalf("GetPosition = %+v, %v", got, err)
	}
	if !got.SameSpot(second) || !got.LastModifiedAt.Equal(second.LastModifiedAt) {
		t.Errorf("got %+v, want %+v", got, second)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}
