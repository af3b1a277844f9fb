package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	tatweel        = 'ـ'
	smallWaw       = 'ۥ'
	smallYeh       = 'ۦ'
	rubElHizb      = '۞'
	sajdah         = '۩'
	alef           = 'ا'
	alefMaksura    = 'ى'
	yeh            = 'ي'
	taaMarbuta     = 'ة'
	heh            = 'ه'
	alefHamzaAbove = 'أ'
	alefHamzaBelow = 'إ'
	alefMadda      = 'آ'
	alefWasla      = 'ٱ'
)

// Normalizer reduces Arabic text to the bare form used for comparison.
// The zero value is ready to use and keeps punctuation.
type Normalizer struct {
	stripPunct bool
}

// NormalizerOption configures a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithPunctuationStripping removes Unicode punctuation in addition to the
// diacritics. Off by default.
func WithPunctuationStripping(on bool) NormalizerOption {
	return func(n *Normalizer) { n.stripPunct = on }
}

// NewNormalizer returns a Normalizer configured by opts.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize returns text with diacritics, tatweel and Quranic annotation
// marks removed, alef/yeh/taa-marbuta variants folded, and whitespace
// collapsed to single spaces. The result is stable under a second call.
//
// Safe for concurrent use: a fresh transformer is built per call.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}
	// Removing marks and format characters can leave composable pairs
	// adjacent, so the result is recomposed once more.
	t := transform.Chain(norm.NFC, runes.Remove(runes.Predicate(n.drop)), runes.Map(fold), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.Join(strings.Fields(out), " ")
}

func (n *Normalizer) drop(r rune) bool {
	switch r {
	case tatweel, smallWaw, smallYeh, rubElHizb, sajdah:
		return true
	}
	if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Cf, r) {
		return true
	}
	return n.stripPunct && unicode.IsPunct(r)
}

func fold(r rune) rune {
	switch r {
	case alefHamzaAbove, alefHamzaBelow, alefMadda, alefWasla:
		return alef
	case alefMaksura:
		return yeh
	case taaMarbuta:
		return heh
	}
	return r
}

var defaultNormalizer Normalizer

// Normalize applies the default [Normalizer] to text.
func Normalize(text string) string {
	return defaultNormalizer.Normalize(text)
}
