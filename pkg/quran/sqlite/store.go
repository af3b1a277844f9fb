// Package sqlite provides an embedded [quran.Store] on top of the pure-Go
// modernc.org/sqlite driver. It uses the same three-table layout as the
// postgres backend and needs no external server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/tasmi/pkg/quran"
)

var (
	_ quran.Store  = (*Store)(nil)
	_ quran.Seeder = (*Store)(nil)
)

// Store wraps a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initialises the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS surahs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    surah_number INTEGER UNIQUE NOT NULL,
    name_arabic TEXT NOT NULL,
    name_english TEXT,
    name_transliteration TEXT,
    revelation_place TEXT,
    total_ayahs INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ayahs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    surah_id INTEGER NOT NULL,
    ayah_number INTEGER NOT NULL,
    text_uthmani TEXT NOT NULL,
    text_simple TEXT NOT NULL,
    UNIQUE(surah_id, ayah_number),
    FOREIGN KEY(surah_id) REFERENCES surahs(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS words (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ayah_id INTEGER NOT NULL,
    word_position INTEGER NOT NULL,
    word_arabic_with_harakat TEXT NOT NULL,
    word_arabic_simple TEXT NOT NULL,
    UNIQUE(ayah_id, word_position),
    FOREIGN KEY(ayah_id) REFERENCES ayahs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_words_ayah ON words(ayah_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// AyahWords implements [quran.Store].
func (s *Store) AyahWords(ctx context.Context, surah, ayah int) ([]quran.Word, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT w.word_position, w.word_arabic_with_harakat, w.word_arabic_simple
FROM words w
JOIN ayahs a ON a.id = w.ayah_id
JOIN surahs su ON su.id = a.surah_id
WHERE su.surah_number = ? AND a.ayah_number = ?
ORDER BY w.word_position`, surah, ayah)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query words %d:%d: %w", surah, ayah, err)
	}
	defer rows.Close()

	var words []quran.Word
	for rows.Next() {
		var w quran.Word
		if err := rows.Scan(&w.Position, &w.WithDiacritics, &w.Simple); err != nil {
			return nil, fmt.Errorf("sqlite store: scan word: %w", err)
		}
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate words: %w", err)
	}
	if len(words) == 0 {
		return nil, quran.NotFound(surah, ayah)
	}
	return words, nil
}

// Seed implements [quran.Seeder].
func (s *Store) Seed(ctx context.Context, surah quran.Surah, ayahs ...quran.Ayah) (err error) {
	for _, a := range ayahs {
		if err := quran.ValidateAyah(a); err != nil {
			return fmt.Errorf("sqlite store: seed: %w", err)
		}
		if a.Surah != surah.Number {
			return fmt.Errorf("sqlite store: ayah %d:%d does not belong to surah %d", a.Surah, a.Number, surah.Number)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin seed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO surahs (surah_number, name_arabic, name_english, name_transliteration, revelation_place, total_ayahs)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(surah_number) DO UPDATE SET
    name_arabic = excluded.name_arabic,
    name_english = excluded.name_english,
    name_transliteration = excluded.name_transliteration,
    revelation_place = excluded.revelation_place,
    total_ayahs = excluded.total_ayahs`,
		surah.Number, surah.NameArabic, surah.NameEnglish, surah.Transliteration, surah.RevelationPlace, surah.TotalAyahs)
	if err != nil {
		return fmt.Errorf("sqlite store: upsert surah %d: %w", surah.Number, err)
	}
	var surahID int64
	if err = tx.QueryRowContext(ctx, `SELECT id FROM surahs WHERE surah_number = ?`, surah.Number).Scan(&surahID); err != nil {
		return fmt.Errorf("sqlite store: lookup surah %d: %w", surah.Number, err)
	}

	for _, a := range ayahs {
		_, err = tx.ExecContext(ctx, `
INSERT INTO ayahs (surah_id, ayah_number, text_uthmani, text_simple)
VALUES (?, ?, ?, ?)
ON CONFLICT(surah_id, ayah_number) DO UPDATE SET
    text_uthmani = excluded.text_uthmani,
    text_simple = excluded.text_simple`, surahID, a.Number, a.Uthmani, a.Simple)
		if err != nil {
			return fmt.Errorf("sqlite store: upsert ayah %d:%d: %w", a.Surah, a.Number, err)
		}
		var ayahID int64
		if err = tx.QueryRowContext(ctx, `SELECT id FROM ayahs WHERE surah_id = ? AND ayah_number = ?`, surahID, a.Number).Scan(&ayahID); err != nil {
			return fmt.Errorf("sqlite store: lookup ayah %d:%d: %w", a.Surah, a.Number, err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM words WHERE ayah_id = ?`, ayahID); err != nil {
			return fmt.Errorf("sqlite store: clear words %d:%d: %w", a.Surah, a.Number, err)
		}
		for _, w := range a.Words {
			_, err = tx.ExecContext(ctx, `
INSERT INTO words (ayah_id, word_position, word_arabic_with_harakat, word_arabic_simple)
VALUES (?, ?, ?, ?)`, ayahID, w.Position, w.WithDiacritics, w.Simple)
			if err != nil {
				return fmt.Errorf("sqlite store: insert word %d:%d:%d: %w", a.Surah, a.Number, w.Position, err)
			}
		}
	}

	err = tx.Commit()
	return err
}

// Ping implements [quran.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}
