// Package mock provides a test double for [quran.Store].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tasmi/pkg/quran"
)

// Store is a mock implementation of quran.Store. It is deliberately not a
// Seeder.
type Store struct {
	mu sync.Mutex

	// Words maps {surah, ayah} to the words returned by AyahWords. Missing
	// keys yield quran.ErrAyahNotFound.
	Words map[[2]int][]quran.Word

	// Err, if non-nil, is returned by AyahWords instead of a lookup.
	Err error

	// PingErr is returned by Ping.
	PingErr error

	// Calls records the keys passed to AyahWords.
	Calls [][2]int

	// Closed reports whether Close was called.
	Closed bool
}

var _ quran.Store = (*Store)(nil)

// AyahWords records the call and returns the configured words.
func (s *Store) AyahWords(_ context.Context, surah, ayah int) ([]quran.Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, [2]int{surah, ayah})
	if s.Err != nil {
		return nil, s.Err
	}
	w, ok := s.Words[[2]int{surah, ayah}]
	if !ok || len(w) == 0 {
		return nil, quran.NotFound(surah, ayah)
	}
	return slices.Clone(w), nil
}

// CallCount returns the number of AyahWords calls.
func (s *Store) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
