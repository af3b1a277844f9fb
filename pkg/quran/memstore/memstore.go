// Package memstore provides a thread-safe, in-memory [quran.Store]. It is
// suitable for development, tests and small deployments that load their
// words from YAML fixtures at start-up.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tasmi/pkg/quran"
)

var (
	_ quran.Store  = (*Store)(nil)
	_ quran.Seeder = (*Store)(nil)
)

type key struct{ surah, ayah int }

// Store keeps ayah words in a map. The zero value is ready to use.
type Store struct {
	mu     sync.RWMutex
	ayahs  map[key][]quran.Word
	surahs map[int]quran.Surah
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// NewSample returns a Store preloaded with the embedded Al-Fatihah sample.
func NewSample() *Store {
	s := New()
	// The embedded fixture is validated at load; Seed cannot fail here.
	_, _ = quran.Import(context.Background(), s, quran.SampleFixtures())
	return s
}

// Seed implements [quran.Seeder].
func (s *Store) Seed(_ context.Context, surah quran.Surah, ayahs ...quran.Ayah) error {
	for _, a := range ayahs {
		if err := quran.ValidateAyah(a); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ayahs == nil {
		s.ayahs = make(map[key][]quran.Word)
		s.surahs = make(map[int]quran.Surah)
	}
	s.surahs[surah.Number] = surah
	for _, a := range ayahs {
		s.ayahs[key{a.Surah, a.Number}] = slices.Clone(a.Words)
	}
	return nil
}

// AyahWords implements [quran.Store]. The returned slice is a copy.
func (s *Store) AyahWords(_ context.Context, surah, ayah int) ([]quran.Word, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	words, ok := s.ayahs[key{surah, ayah}]
	if !ok || len(words) == 0 {
		return nil, quran.NotFound(surah, ayah)
	}
	return slices.Clone(words), nil
}

// Surah returns the metadata stored for number.
func (s *Store) Surah(number int) (quran.Surah, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	su, ok := s.surahs[number]
	return su, ok
}

// Len returns the number of ayahs held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ayahs)
}

// Ping implements [quran.Store]; the store is always reachable.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [quran.Store].
func (s *Store) Close() error { return nil }
