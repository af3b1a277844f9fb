package recitation

import (
	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/pkg/quran"
)

// Event is one outbound session notification. The set of implementations is
// closed: [SessionStarted], [WordResult], [Error], [SessionComplete] and
// [CompleteNotice].
type Event interface {
	// Kind returns the wire name of the event.
	Kind() string

	sealed()
}

// SessionStarted is emitted after a successful Init.
type SessionStarted struct {
	Surah                  int
	Ayah                   int
	ExpectedSimple         []string
	ExpectedWithDiacritics []string
	TotalWords             int
}

// WordResult is the graded outcome for one expected word. It is immutable
// once emitted.
type WordResult struct {
	WordIndex              int
	ExpectedSimple         string
	ExpectedWithDiacritics string
	Verdict                scoring.Verdict

	// Exhausted marks a result recorded because the retry cap was reached,
	// not because the word was heard.
	Exhausted bool
}

// Error reports a failed pipeline pass. The word index does not advance
// unless Exhausted is set.
type Error struct {
	WordIndex int
	Stage     Stage
	Message   string
	Exhausted bool
}

// SessionComplete is emitted once, when every expected word has a result.
type SessionComplete struct {
	Stats   Stats
	Results []WordResult
}

// CompleteNotice answers a segment that arrives when no expected word is
// left.
type CompleteNotice struct {
	Message string
}

func (SessionStarted) Kind() string  { return "session_started" }
func (WordResult) Kind() string      { return "word_result" }
func (Error) Kind() string           { return "error" }
func (SessionComplete) Kind() string { return "session_complete" }
func (CompleteNotice) Kind() string  { return "complete" }

func (SessionStarted) sealed()  {}
func (WordResult) sealed()      {}
func (Error) sealed()           {}
func (SessionComplete) sealed() {}
func (CompleteNotice) sealed()  {}

func newSessionStarted(surah, ayah int, words []quran.Word) SessionStarted {
	ev := SessionStarted{
		Surah:                  surah,
		Ayah:                   ayah,
		ExpectedSimple:         make([]string, len(words)),
		ExpectedWithDiacritics: make([]string, len(words)),
		TotalWords:             len(words),
	}
	for i, w := range words {
		ev.ExpectedSimple[i] = w.Simple
		ev.ExpectedWithDiacritics[i] = w.WithDiacritics
	}
	return ev
}

// Sink receives session events in order. Send is never called with the
// session lock held, so a slow Send does not delay Teardown; it must not call
// back into Init or Feed.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Send calls f(ev).
func (f SinkFunc) Send(ev Event) { f(ev) }
