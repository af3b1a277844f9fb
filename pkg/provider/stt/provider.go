// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber receives one canonical [audio.Clip] (a single spoken word in
// this application) and returns its text. Backends are batch engines: there
// is no streaming session, partial result or keyword boosting. Deadlines are
// the caller's responsibility; implementations honour ctx cancellation.
//
// Implementations must be safe for concurrent use; many recitation sessions
// share one Transcriber.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/tasmi/pkg/audio"
)

// ErrEmptyClip is returned when a clip carries no audio.
var ErrEmptyClip = errors.New("stt: empty clip")

// Options carries per-request recognition hints.
type Options struct {
	// Language is an ISO-639-1 hint such as "ar". Empty lets the backend
	// detect the language.
	Language string

	// Prompt is optional text that biases recognition, e.g. the expected
	// word. Backends without prompt support ignore it.
	Prompt string
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in clip. An empty Text with a nil
	// error means the backend heard nothing intelligible.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (Transcript, error)
}

// CheckClip returns [ErrEmptyClip] when clip has neither PCM nor WAV data.
func CheckClip(clip audio.Clip) error {
	if len(clip.PCM) == 0 && len(clip.WAV) == 0 {
		return ErrEmptyClip
	}
	return nil
}
