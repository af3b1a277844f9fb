// Package mock provides a test double for [stt.Transcriber].
//
// Transcriber returns scripted results in order, records every call and can
// block until released to exercise cancellation paths.
//
// Example:
//
//	tr := &mock.Transcriber{Texts: []string{"بسم", "الله"}}
//	got, _ := tr.Transcribe(ctx, clip, stt.Options{Language: "ar"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Clip audio.Clip
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts is consumed one entry per call. When exhausted, Default is
	// returned.
	Texts []string

	// Default is the text returned once Texts is exhausted.
	Default string

	// Errs is consumed one entry per call before Texts; a nil entry means
	// "succeed this time".
	Errs []error

	// Err, if non-nil, is returned by every call after Errs is exhausted.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx is
	// done. Started receives one value per call that reached the wait.
	Block   chan struct{}
	Started chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Clip: clip, Opts: opts})
	block, started := m.Block, m.Started
	m.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			return stt.Transcript{}, err
		}
	} else if m.Err != nil {
		return stt.Transcript{}, m.Err
	}
	text := m.Default
	if len(m.Texts) > 0 {
		text, m.Texts = m.Texts[0], m.Texts[1:]
	}
	return stt.Transcript{Text: text, Language: opts.Language, Duration: clip.Duration, Provider: "mock"}, nil
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears recorded calls.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
