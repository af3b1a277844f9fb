package scoring

import (
	"math"
	"testing"
)

func TestSequenceRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"", "abc", 0},
		{"abc", "abc", 1},
		{"abcd", "bcde", 0.75},
		{"abxcd", "abcd", 8.0 / 9.0},
		{"الرحمن", "الرحمان", 12.0 / 13.0},
		{"الرحيم", "الرحمن", 10.0 / 12.0},
		{"بسم", "باسم", 6.0 / 7.0},
		{"بسم", "كتب", 2.0 / 6.0},
	}
	for _, tt := range tests {
		got := sequenceRatio([]rune(tt.a), []rune(tt.b))
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("sequenceRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLongestMatch_PrefersEarliest(t *testing.T) {
	t.Parallel()

	a := []rune("abab")
	b2j := map[rune][]int{'a': {0, 2}, 'b': {1, 3}}
	i, j, k := longestMatch(a, b2j, 0, 4, 0, 4)
	if i != 0 || j != 0 || k != 4 {
		t.Errorf("longestMatch = (%d, %d, %d), want (0, 0, 4)", i, j, k)
	}
}
