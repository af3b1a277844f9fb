package quran

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed fatiha.yaml
var sampleFixture []byte

// FixtureFile is the top-level structure of a word fixture YAML file.
//
// Example:
//
//	surahs:
//	  - number: 1
//	    name_arabic: الفاتحة
//	    total_ayahs: 7
//	    ayahs:
//	      - ayah: 1
//	        words:
//	          - {position: 1, with_diacritics: بِسۡمِ, simple: بسم}
type FixtureFile struct {
	Surahs []SurahFixture `yaml:"surahs"`
}

// SurahFixture is one surah with the ayahs defined for it. Ayahs may omit
// their surah number; it is taken from the enclosing surah.
type SurahFixture struct {
	Surah `yaml:",inline"`
	Ayahs []Ayah `yaml:"ayahs"`
}

// LoadFixtureFile reads and parses a fixture YAML file from disk.
func LoadFixtureFile(path string) (*FixtureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quran: open fixture file %q: %w", path, err)
	}
	defer f.Close()

	ff, err := LoadFixtures(f)
	if err != nil {
		return nil, fmt.Errorf("quran: parse fixture file %q: %w", path, err)
	}
	return ff, nil
}

// LoadFixtures parses fixture YAML from r and validates every ayah.
func LoadFixtures(r io.Reader) (*FixtureFile, error) {
	var ff FixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("quran: decode fixture yaml: %w", err)
	}

	var errs []error
	for i := range ff.Surahs {
		s := &ff.Surahs[i]
		for j := range s.Ayahs {
			a := &s.Ayahs[j]
			if a.Surah == 0 {
				a.Surah = s.Number
			}
			if a.Surah != s.Number {
				errs = append(errs, fmt.Errorf("quran: ayah %d:%d listed under surah %d", a.Surah, a.Number, s.Number))
				continue
			}
			if err := ValidateAyah(*a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &ff, nil
}

// SampleFixtures returns the embedded Al-Fatihah fixture.
func SampleFixtures() *FixtureFile {
	ff, err := LoadFixtures(bytes.NewReader(sampleFixture))
	if err != nil {
		panic("quran: embedded sample fixture is invalid: " + err.Error())
	}
	return ff
}

// Import seeds every surah of ff into dst and returns the number of ayahs
// written. An error aborts the import and returns the count so far.
func Import(ctx context.Context, dst Seeder, ff *FixtureFile) (int, error) {
	if ff == nil {
		return 0, errors.New("quran: fixture file must not be nil")
	}
	n := 0
	for _, s := range ff.Surahs {
		if err := dst.Seed(ctx, s.Surah, s.Ayahs...); err != nil {
			return n, fmt.Errorf("quran: import surah %d: %w", s.Number, err)
		}
		n += len(s.Ayahs)
	}
	return n, nil
}
