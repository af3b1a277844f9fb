// Package results publishes a summary of every completed recitation session
// so that other services, such as progress trackers, can consume them.
//
// [Tap] wraps a session sink: it forwards every event unchanged and, once
// the session completes, hands a [Summary] to a [Publisher]. [NATS] is the
// production publisher.
package results

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tasmi/internal/recitation"
)

// DefaultSubject is the NATS subject summaries are published on.
const DefaultSubject = "tasmi.results"

// Summary describes one completed session.
type Summary struct {
	Surah           int           `json:"surah"`
	Ayah            int           `json:"ayah"`
	TotalWords      int           `json:"total_words"`
	CorrectWords    int           `json:"correct_words"`
	OverallAccuracy float64       `json:"overall_accuracy"`
	Words           []WordSummary `json:"words"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// WordSummary is the verdict for one expected word.
type WordSummary struct {
	Index       int     `json:"word_index"`
	Expected    string  `json:"expected"`
	Transcribed string  `json:"transcribed"`
	Similarity  float64 `json:"similarity"`
	Status      string  `json:"status"`
	Exhausted   bool    `json:"exhausted,omitempty"`
}

// Publisher delivers summaries. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// NewSummary builds a Summary from a completion event.
func NewSummary(surah, ayah int, ev recitation.SessionComplete, at time.Time) Summary {
	s := Summary{
		Surah:           surah,
		Ayah:            ayah,
		TotalWords:      ev.Stats.TotalWords,
		CorrectWords:    ev.Stats.CorrectWords,
		OverallAccuracy: ev.Stats.OverallAccuracy,
		Words:           make([]WordSummary, 0, len(ev.Results)),
		CompletedAt:     at.UTC(),
	}
	for _, r := range ev.Results {
		s.Words = append(s.Words, WordSummary{
			Index:       r.WordIndex,
			Expected:    r.ExpectedSimple,
			Transcribed: r.Verdict.Transcribed,
			Similarity:  r.Verdict.Similarity,
			Status:      string(r.Verdict.Status),
			Exhausted:   r.Exhausted,
		})
	}
	return s
}

type tap struct {
	next recitation.Sink
	pub  Publisher
	log  *slog.Logger
	now  func() time.Time

	mu          sync.Mutex
	surah, ayah int
}

// Tap returns a sink that forwards every event to next and publishes a
// summary through pub when the session completes. Publish failures are
// logged; they never reach the client.
func Tap(next recitation.Sink, pub Publisher, log *slog.Logger) recitation.Sink {
	if log == nil {
		log = slog.Default()
	}
	return &tap{next: next, pub: pub, log: log, now: time.Now}
}

// Send implements [recitation.Sink].
func (t *tap) Send(ev recitation.Event) {
	t.next.Send(ev)

	switch e := ev.(type) {
	case recitation.SessionStarted:
		t.mu.Lock()
		t.surah, t.ayah = e.Surah, e.Ayah
		t.mu.Unlock()
	case recitation.SessionComplete:
		t.mu.Lock()
		s := NewSummary(t.surah, t.ayah, e, t.now())
		t.mu.Unlock()
		if err := t.pub.Publish(context.Background(), s); err != nil {
			t.log.Warn("publish session summary", "surah", s.Surah, "ayah", s.Ayah, "err", err)
		}
	}
}
