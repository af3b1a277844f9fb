// Package quran defines the read-only word store that supplies the expected
// word sequence for an ayah.
//
// Words are keyed by (surah, ayah, position) and carry two textual forms: the
// fully vowelled script shown to the reciter and a bare form used for
// comparison. Backends live in sub-packages (postgres, sqlite, memstore) and
// may be wrapped by the rediscache decorator.
package quran

import (
	"context"
	"errors"
	"fmt"
)

// ErrAyahNotFound is returned when no words exist for the requested key.
var ErrAyahNotFound = errors.New("quran: ayah not found")

// Word is one expected word of an ayah.
type Word struct {
	// Position is the 1-based index of the word within its ayah.
	Position int `json:"position" yaml:"position"`

	// WithDiacritics is the display form including harakat and Quranic marks.
	WithDiacritics string `json:"with_diacritics" yaml:"with_diacritics"`

	// Simple is the undiacritized form used for comparison.
	Simple string `json:"simple" yaml:"simple"`
}

// Display returns the vowelled form, or the simple form when no vowelled
// form is stored.
func (w Word) Display() string {
	if w.WithDiacritics != "" {
		return w.WithDiacritics
	}
	return w.Simple
}

// Reference returns the form scoring compares against: the simple form, or
// the vowelled form when no simple form is stored.
func (w Word) Reference() string {
	if w.Simple != "" {
		return w.Simple
	}
	return w.WithDiacritics
}

// Store looks up the ordered words of an ayah. Implementations must be safe
// for concurrent reads.
type Store interface {
	// AyahWords returns the words of surah:ayah ordered by position. It
	// returns an error wrapping [ErrAyahNotFound] when the key is unknown or
	// has no words.
	AyahWords(ctx context.Context, surah, ayah int) ([]Word, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// NotFound returns an error wrapping [ErrAyahNotFound] for surah:ayah.
func NotFound(surah, ayah int) error {
	return fmt.Errorf("%w: %d:%d", ErrAyahNotFound, surah, ayah)
}

// ValidKey reports whether surah and ayah are in a plausible range. Surahs
// are numbered 1–114; ayah numbers are positive.
func ValidKey(surah, ayah int) bool {
	return surah >= 1 && surah <= 114 && ayah >= 1
}

// Surah is the metadata row of a chapter.
type Surah struct {
	Number          int    `json:"number" yaml:"number"`
	NameArabic      string `json:"name_arabic" yaml:"name_arabic"`
	NameEnglish     string `json:"name_english" yaml:"name_english"`
	Transliteration string `json:"transliteration" yaml:"transliteration"`
	RevelationPlace string `json:"revelation_place" yaml:"revelation_place"`
	TotalAyahs      int    `json:"total_ayahs" yaml:"total_ayahs"`
}

// Ayah is one verse together with its ordered words.
type Ayah struct {
	Surah   int    `json:"surah" yaml:"surah"`
	Number  int    `json:"ayah" yaml:"ayah"`
	Uthmani string `json:"text_uthmani" yaml:"text_uthmani"`
	Simple  string `json:"text_simple" yaml:"text_simple"`
	Words   []Word `json:"words" yaml:"words"`
}

// SampleSurah returns the metadata of Al-Fatihah.
func SampleSurah() Surah {
	return Surah{
		Number:          1,
		NameArabic:      "الفاتحة",
		NameEnglish:     "Al-Fatihah",
		Transliteration: "Al-Faatiha",
		RevelationPlace: "Makkah",
		TotalAyahs:      7,
	}
}

// SampleAyah returns Al-Fatihah 1:1, used for seeding backends and in tests.
func SampleAyah() Ayah {
	return Ayah{
		Surah:   1,
		Number:  1,
		Uthmani: "بِسۡمِ ٱللَّهِ ٱلرَّحۡمَـٰنِ ٱلرَّحِيمِ",
		Simple:  "بسم الله الرحمن الرحيم",
		Words: []Word{
			{Position: 1, WithDiacritics: "بِسۡمِ", Simple: "بسم"},
			{Position: 2, WithDiacritics: "ٱللَّهِ", Simple: "الله"},
			{Position: 3, WithDiacritics: "ٱلرَّحۡمَـٰنِ", Simple: "الرحمن"},
			{Position: 4, WithDiacritics: "ٱلرَّحِيمِ", Simple: "الرحيم"},
		},
	}
}

// Sample returns the words of Al-Fatihah 1:1.
func Sample() []Word {
	return SampleAyah().Words
}

// Seeder is implemented by writable backends. Seed upserts the surah row and
// the given ayahs with their words; re-seeding the same data is a no-op.
type Seeder interface {
	Seed(ctx context.Context, surah Surah, ayahs ...Ayah) error
}

// ValidateAyah checks that a is internally consistent: a valid key, at
// least one word, and positions numbered 1..n without gaps.
func ValidateAyah(a Ayah) error {
	if !ValidKey(a.Surah, a.Number) {
		return fmt.Errorf("quran: invalid key %d:%d", a.Surah, a.Number)
	}
	if len(a.Words) == 0 {
		return fmt.Errorf("quran: ayah %d:%d has no words", a.Surah, a.Number)
	}
	for i, w := range a.Words {
		if w.Position != i+1 {
			return fmt.Errorf("quran: ayah %d:%d word %d has position %d", a.Surah, a.Number, i+1, w.Position)
		}
		if w.Reference() == "" {
			return fmt.Errorf("quran: ayah %d:%d word %d is empty", a.Surah, a.Number, w.Position)
		}
	}
	return nil
}
