package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tasmi/pkg/quran"
)

var (
	_ quran.Store  = (*Store)(nil)
	_ quran.Seeder = (*Store)(nil)
)

// Store is a PostgreSQL-backed word store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, pings it and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// AyahWords implements [quran.Store].
func (s *Store) AyahWords(ctx context.Context, surah, ayah int) ([]quran.Word, error) {
	const q = `
SELECT w.word_position, w.word_arabic_with_harakat, w.word_arabic_simple
FROM words w
JOIN ayahs a  ON a.id = w.ayah_id
JOIN surahs s ON s.id = a.surah_id
WHERE s.surah_number = $1 AND a.ayah_number = $2
ORDER BY w.word_position`

	rows, err := s.pool.Query(ctx, q, surah, ayah)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query words %d:%d: %w", surah, ayah, err)
	}
	words, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quran.Word, error) {
		var w quran.Word
		err := row.Scan(&w.Position, &w.WithDiacritics, &w.Simple)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan words %d:%d: %w", surah, ayah, err)
	}
	if len(words) == 0 {
		return nil, quran.NotFound(surah, ayah)
	}
	return words, nil
}

// Seed implements [quran.Seeder]. Everything is written in one transaction.
func (s *Store) Seed(ctx context.Context, surah quran.Surah, ayahs ...quran.Ayah) error {
	for _, a := range ayahs {
		if err := quran.ValidateAyah(a); err != nil {
			return fmt.Errorf("postgres store: seed: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var surahID int
	err = tx.QueryRow(ctx, `
INSERT INTO surahs (surah_number, name_arabic, name_english, name_transliteration, revelation_place, total_ayahs)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (surah_number) DO UPDATE SET
    name_arabic = EXCLUDED.name_arabic,
    name_english = EXCLUDED.name_english,
    name_transliteration = EXCLUDED.name_transliteration,
    revelation_place = EXCLUDED.revelation_place,
    total_ayahs = EXCLUDED.total_ayahs
RETURNING id`,
		surah.Number, surah.NameArabic, surah.NameEnglish, surah.Transliteration, surah.RevelationPlace, surah.TotalAyahs,
	).Scan(&surahID)
	if err != nil {
		return fmt.Errorf("postgres store: upsert surah %d: %w", surah.Number, err)
	}

	for _, a := range ayahs {
		if a.Surah != surah.Number {
			return fmt.Errorf("postgres store: ayah %d:%d does not belong to surah %d", a.Surah, a.Number, surah.Number)
		}
		var ayahID int
		err := tx.QueryRow(ctx, `
INSERT INTO ayahs (surah_id, ayah_number, text_uthmani, text_simple)
VALUES ($1, $2, $3, $4)
ON CONFLICT (surah_id, ayah_number) DO UPDATE SET
    text_uthmani = EXCLUDED.text_uthmani,
    text_simple = EXCLUDED.text_simple
RETURNING id`, surahID, a.Number, a.Uthmani, a.Simple).Scan(&ayahID)
		if err != nil {
			return fmt.Errorf("postgres store: upsert ayah %d:%d: %w", a.Surah, a.Number, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM words WHERE ayah_id = $1`, ayahID); err != nil {
			return fmt.Errorf("postgres store: clear words %d:%d: %w", a.Surah, a.Number, err)
		}
		batch := &pgx.Batch{}
		for _, w := range a.Words {
			batch.Queue(`
INSERT INTO words (ayah_id, word_position, word_arabic_with_harakat, word_arabic_simple)
VALUES ($1, $2, $3, $4)`, ayahID, w.Position, w.WithDiacritics, w.Simple)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres store: insert words %d:%d: %w", a.Surah, a.Number, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit seed: %w", err)
	}
	return nil
}

// Ping implements [quran.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
