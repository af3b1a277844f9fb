// Package postgres provides a PostgreSQL-backed [quran.Store].
//
// The schema mirrors the classic three-table layout: surahs, ayahs keyed by
// (surah_id, ayah_number) and words keyed by (ayah_id, word_position).
// [Migrate] creates it idempotently; [Store.Seed] loads rows.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	words, err := store.AyahWords(ctx, 1, 1)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSurahs = `
CREATE TABLE IF NOT EXISTS surahs (
    id                   SERIAL       PRIMARY KEY,
    surah_number         INTEGER      UNIQUE NOT NULL,
    name_arabic          VARCHAR(100) NOT NULL,
    name_english         VARCHAR(100),
    name_transliteration VARCHAR(100),
    revelation_place     VARCHAR(20),
    total_ayahs          INTEGER      NOT NULL,
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAyahs = `
CREATE TABLE IF NOT EXISTS ayahs (
    id           SERIAL      PRIMARY KEY,
    surah_id     INTEGER     NOT NULL REFERENCES surahs(id) ON DELETE CASCADE,
    ayah_number  INTEGER     NOT NULL,
    text_uthmani TEXT        NOT NULL,
    text_simple  TEXT        NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (surah_id, ayah_number)
);

CREATE INDEX IF NOT EXISTS idx_ayahs_surah_ayah ON ayahs (surah_id, ayah_number);
`

const ddlWords = `
CREATE TABLE IF NOT EXISTS words (
    id                       SERIAL      PRIMARY KEY,
    ayah_id                  INTEGER     NOT NULL REFERENCES ayahs(id) ON DELETE CASCADE,
    word_position            INTEGER     NOT NULL,
    word_arabic_with_harakat TEXT        NOT NULL,
    word_arabic_simple       TEXT        NOT NULL,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (ayah_id, word_position)
);

CREATE INDEX IF NOT EXISTS idx_words_ayah ON words (ayah_id);
`

// Migrate creates all tables and indexes if they do not exist. It is safe
// to call on every start-up.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{"surahs", ddlSurahs},
		{"ayahs", ddlAyahs},
		{"words", ddlWords},
	} {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
