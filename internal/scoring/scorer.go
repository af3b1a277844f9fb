// Package scoring grades a transcribed word against the expected word of a
// recitation.
//
// Both forms are reduced by [Normalize] and compared with a Ratcliff/Obershelp
// similarity ratio. The rounded ratio is mapped onto a three-way status
// (correct, similar, wrong) with a display color and a localized feedback
// message. A [Scorer] is read-only after construction and safe for
// concurrent use.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/tasmi/pkg/quran"
)

// ErrEmptyExpected is returned when the expected word has no comparable text.
var ErrEmptyExpected = errors.New("scoring: expected word is empty")

// Status is the three-way grade of a word.
type Status string

const (
	StatusCorrect Status = "correct"
	StatusSimilar Status = "similar"
	StatusWrong   Status = "wrong"
)

// Color is the display hint attached to a [Verdict].
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

// Similarity thresholds, in percent.
const (
	CloseThreshold = 85.0
	MinorThreshold = 70.0
)

// Strategy selects how the matched-rune count is computed.
type Strategy string

const (
	// StrategySequence sums Ratcliff/Obershelp matching blocks.
	StrategySequence Strategy = "sequence"

	// StrategyLCS uses the longest common subsequence.
	StrategyLCS Strategy = "lcs"
)

// Locale selects the language of feedback messages.
type Locale string

const (
	LocaleArabic  Locale = "ar"
	LocaleEnglish Locale = "en"
)

// Verdict is the graded comparison of one transcribed word.
type Verdict struct {
	Expected              string  `json:"expected"`
	Transcribed           string  `json:"user_said"`
	ExpectedNormalized    string  `json:"expected_normalized"`
	TranscribedNormalized string  `json:"user_normalized"`
	Similarity            float64 `json:"similarity"`
	EditDistance          int     `json:"edit_distance"`
	Status                Status  `json:"status"`
	Color                 Color   `json:"color"`
	Message               string  `json:"message"`
}

// Option configures a [Scorer].
type Option func(*Scorer)

// WithStrategy sets the similarity strategy. Default: [StrategySequence].
func WithStrategy(s Strategy) Option {
	return func(sc *Scorer) { sc.strategy = s }
}

// WithLocale sets the message language. Default: [LocaleArabic].
func WithLocale(l Locale) Option {
	return func(sc *Scorer) { sc.locale = l }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *Normalizer) Option {
	return func(sc *Scorer) {
		if n != nil {
			sc.norm = n
		}
	}
}

// Scorer compares transcribed words against expected words.
type Scorer struct {
	strategy Strategy
	locale   Locale
	norm     *Normalizer
}

// New returns a Scorer. It fails on an unknown strategy or locale.
func New(opts ...Option) (*Scorer, error) {
	sc := &Scorer{
		strategy: StrategySequence,
		locale:   LocaleArabic,
		norm:     &defaultNormalizer,
	}
	for _, o := range opts {
		o(sc)
	}
	switch sc.strategy {
	case StrategySequence, StrategyLCS:
	default:
		return nil, fmt.Errorf("scoring: unknown strategy %q", sc.strategy)
	}
	if _, ok := catalogs[sc.locale]; !ok {
		return nil, fmt.Errorf("scoring: unknown locale %q", sc.locale)
	}
	return sc, nil
}

// Normalizer returns the normalizer used by sc.
func (sc *Scorer) Normalizer() *Normalizer { return sc.norm }

// Compare grades transcribed against expected. It returns [ErrEmptyExpected]
// when the expected word normalizes to nothing; an empty transcription is a
// valid (wrong) answer.
func (sc *Scorer) Compare(expected quran.Word, transcribed string) (Verdict, error) {
	ref := expected.Reference()
	en := sc.norm.Normalize(ref)
	if en == "" {
		return Verdict{}, ErrEmptyExpected
	}
	tn := sc.norm.Normalize(transcribed)

	a, b := []rune(en), []rune(tn)
	var ratio float64
	switch sc.strategy {
	case StrategyLCS:
		ratio = 2 * float64(matchr.LongestCommonSubsequence(en, tn)) / float64(len(a)+len(b))
	default:
		ratio = sequenceRatio(a, b)
	}
	sim := Round2(ratio * 100)

	status, color := Classify(sim, en == tn)
	return Verdict{
		Expected:              ref,
		Transcribed:           transcribed,
		ExpectedNormalized:    en,
		TranscribedNormalized: tn,
		Similarity:            sim,
		EditDistance:          matchr.Levenshtein(en, tn),
		Status:                status,
		Color:                 color,
		Message:               catalogs[sc.locale].message(color, expected.Display()),
	}, nil
}

// Classify maps a rounded similarity onto a status and color. identical
// reports whether the normalized forms are equal; it wins over any score.
func Classify(similarity float64, identical bool) (Status, Color) {
	switch {
	case identical:
		return StatusCorrect, ColorGreen
	case similarity >= CloseThreshold:
		return StatusSimilar, ColorYellow
	case similarity >= MinorThreshold:
		return StatusSimilar, ColorOrange
	default:
		return StatusWrong, ColorRed
	}
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
