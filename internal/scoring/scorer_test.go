package scoring_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/pkg/quran"
)

var rahman = quran.Word{Position: 3, WithDiacritics: "ٱلرَّحۡمَـٰنِ", Simple: "الرحمن"}

func mustScorer(t *testing.T, opts ...scoring.Option) *scoring.Scorer {
	t.Helper()
	sc, err := scoring.New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sc
}

func TestCompare(t *testing.T) {
	t.Parallel()

	sc := mustScorer(t)
	tests := []struct {
		name       string
		expected   quran.Word
		said       string
		similarity float64
		status     scoring.Status
		color      scoring.Color
		message    string
	}{
		{"exact", rahman, "الرحمن", 100, scoring.StatusCorrect, scoring.ColorGreen, "ممتاز! نطق صحيح"},
		{"diacritics ignored", rahman, "الرَّحْمَنِ", 100, scoring.StatusCorrect, scoring.ColorGreen, "ممتاز! نطق صحيح"},
		{"one extra letter", rahman, "الرحمان", 92.31, scoring.StatusSimilar, scoring.ColorYellow, "قريب جداً، الصواب: ٱلرَّحۡمَـٰنِ"},
		{"different ending", rahman, "الرحيم", 83.33, scoring.StatusSimilar, scoring.ColorOrange, "خطأ بسيط، الصواب: ٱلرَّحۡمَـٰنِ"},
		{"unrelated", quran.Word{Position: 1, WithDiacritics: "بِسۡمِ", Simple: "بسم"}, "كتب", 33.33, scoring.StatusWrong, scoring.ColorRed, "خطأ، الصواب: بِسۡمِ"},
		{"empty transcription", rahman, "", 0, scoring.StatusWrong, scoring.ColorRed, "خطأ، الصواب: ٱلرَّحۡمَـٰنِ"},
		{"last letter differs", quran.Word{Position: 2, WithDiacritics: "ٱللَّهِ", Simple: "الله"}, "اللا", 75, scoring.StatusSimilar, scoring.ColorOrange, "خطأ بسيط، الصواب: ٱللَّهِ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := sc.Compare(tt.expected, tt.said)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if v.Similarity != tt.similarity {
				t.Errorf("Similarity = %v, want %v", v.Similarity, tt.similarity)
			}
			if v.Status != tt.status || v.Color != tt.color {
				t.Errorf("grade = %s/%s, want %s/%s", v.Status, v.Color, tt.status, tt.color)
			}
			if v.Message != tt.message {
				t.Errorf("Message = %q, want %q", v.Message, tt.message)
			}
			if v.Transcribed != tt.said {
				t.Errorf("Transcribed = %q, want %q", v.Transcribed, tt.said)
			}
		})
	}
}

func TestCompare_Fields(t *testing.T) {
	t.Parallel()

	v, err := mustScorer(t).Compare(rahman, "الرحمان")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if v.Expected != "الرحمن" {
		t.Errorf("Expected = %q, want simple form", v.Expected)
	}
	if v.ExpectedNormalized != "الرحمن" || v.TranscribedNormalized != "الرحمان" {
		t.Errorf("normalized = %q / %q", v.ExpectedNormalized, v.TranscribedNormalized)
	}
	if v.EditDistance != 1 {
		t.Errorf("EditDistance = %d, want 1", v.EditDistance)
	}
}

func TestCompare_FallsBackToDiacritics(t *testing.T) {
	t.Parallel()

	w := quran.Word{Position: 1, WithDiacritics: "بِسۡمِ"}
	v, err := mustScorer(t).Compare(w, "بسم")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if v.Status != scoring.StatusCorrect {
		t.Errorf("Status = %s, want correct", v.Status)
	}
	if v.Expected != "بِسۡمِ" {
		t.Errorf("Expected = %q, want vowelled fallback", v.Expected)
	}
}

func TestCompare_EmptyExpected(t *testing.T) {
	t.Parallel()

	sc := mustScorer(t)
	for _, w := range []quran.Word{{}, {WithDiacritics: "َ"}, {Simple: "   "}} {
		if _, err := sc.Compare(w, "بسم"); !errors.Is(err, scoring.ErrEmptyExpected) {
			t.Errorf("Compare(%+v) error = %v, want ErrEmptyExpected", w, err)
		}
	}
}

func TestCompare_LCSStrategy(t *testing.T) {
	t.Parallel()

	sc := mustScorer(t, scoring.WithStrategy(scoring.StrategyLCS))
	v, err := sc.Compare(rahman, "الرحيم")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if v.Similarity != 83.33 {
		t.Errorf("Similarity = %v, want 83.33", v.Similarity)
	}
	v, err = sc.Compare(rahman, "الرحمن")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if v.Status != scoring.StatusCorrect {
		t.Errorf("Status = %s, want correct", v.Status)
	}
}

func TestCompare_EnglishLocale(t *testing.T) {
	t.Parallel()

	sc := mustScorer(t, scoring.WithLocale(scoring.LocaleEnglish))
	v, err := sc.Compare(rahman, "الرحمان")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if want := "Very close, the correct word is: ٱلرَّحۡمَـٰنِ"; v.Message != want {
		t.Errorf("Message = %q, want %q", v.Message, want)
	}
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := scoring.New(scoring.WithStrategy("soundex")); err == nil {
		t.Error("New with unknown strategy: want error")
	}
	if _, err := scoring.New(scoring.WithLocale("fr")); err == nil {
		t.Error("New with unknown locale: want error")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sim       float64
		identical bool
		status    scoring.Status
		color     scoring.Color
	}{
		{0, true, scoring.StatusCorrect, scoring.ColorGreen},
		{100, false, scoring.StatusSimilar, scoring.ColorYellow},
		{85, false, scoring.StatusSimilar, scoring.ColorYellow},
		{84.99, false, scoring.StatusSimilar, scoring.ColorOrange},
		{70, false, scoring.StatusSimilar, scoring.ColorOrange},
		{69.99, false, scoring.StatusWrong, scoring.ColorRed},
		{0, false, scoring.StatusWrong, scoring.ColorRed},
	}
	for _, tt := range tests {
		s, c := scoring.Classify(tt.sim, tt.identical)
		if s != tt.status || c != tt.color {
			t.Errorf("Classify(%v, %v) = %s/%s, want %s/%s", tt.sim, tt.identical, s, c, tt.status, tt.color)
		}
	}
}

func TestCompare_SampleAyah(t *testing.T) {
	t.Parallel()

	sc := mustScorer(t)
	for _, w := range quran.Sample() {
		v, err := sc.Compare(w, w.WithDiacritics)
		if err != nil {
			t.Fatalf("Compare(%d): %v", w.Position, err)
		}
		if v.Status != scoring.StatusCorrect || v.Similarity != 100 {
			t.Errorf("word %d: %s %.2f, want correct 100", w.Position, v.Status, v.Similarity)
		}
	}
}
