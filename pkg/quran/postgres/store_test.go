package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tasmi/pkg/quran"
	"github.com/MrWong99/tasmi/pkg/quran/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if TASMI_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TASMI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASMI_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS words CASCADE",
		"DROP TABLE IF EXISTS ayahs CASCADE",
		"DROP TABLE IF EXISTS surahs CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema (%s): %v", stmt, err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_BadDSN(t *testing.T) {
	if _, err := postgres.NewStore(context.Background(), "::not a dsn::"); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}

func TestStore_SeedAndAyahWords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, quran.SampleSurah(), quran.SampleAyah()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	// Re-seeding must not duplicate rows.
	if err := s.Seed(ctx, quran.SampleSurah(), quran.SampleAyah()); err != nil {
		t.Fatalf("Seed again: %v", err)
	}

	words, err := s.AyahWords(ctx, 1, 1)
	if err != nil {
		t.Fatalf("AyahWords: %v", err)
	}
	want := quran.Sample()
	if len(words) != len(want) {
		t.Fatalf("got %d words, want %d", len(words), len(want))
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %+v, want %+v", i, words[i], want[i])
		}
	}
}

func TestStore_AyahNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AyahWords(context.Background(), 2, 300); !errors.Is(err, quran.ErrAyahNotFound) {
		t.Fatalf("err = %v, want ErrAyahNotFound", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
