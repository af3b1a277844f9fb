// Package vad defines the frame classifier used to tell speech from silence.
//
// A classifier looks at one fixed-size frame of 16-bit little-endian mono PCM
// and answers a single question: does this frame contain speech? It carries no
// segmentation logic of its own; hangover and hysteresis live in the segmenter
// that consumes it.
//
// Engines are factories. Each live audio stream gets its own Classifier from
// [Engine.NewSession] so that adaptive state (noise floors and the like) never
// leaks between streams.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by [Classifier.IsSpeech] when the frame length does
// not match the configured frame size.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// ErrClosed is returned by [Classifier.IsSpeech] after Close.
var ErrClosed = errors.New("vad: classifier closed")

// MaxAggressiveness is the strictest supported aggressiveness level.
const MaxAggressiveness = 3

// Config holds the parameters for a classifier session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM passed to
	// IsSpeech. Common values: 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds (10, 20 or 30
	// for most detectors).
	FrameSizeMs int

	// Aggressiveness is an ordinal in [0, MaxAggressiveness]. Higher values
	// classify more frames as silence.
	Aggressiveness int
}

// FrameBytes returns the exact byte length of one frame for cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size must be positive, got %d ms", c.FrameSizeMs))
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > MaxAggressiveness {
		errs = append(errs, fmt.Errorf("vad: aggressiveness %d out of range [0, %d]", c.Aggressiveness, MaxAggressiveness))
	}
	return errors.Join(errs...)
}

// CheckFrame returns a wrapped [ErrFrameSize] when frame does not have the
// length cfg expects. Implementations call it before touching any state.
func (c Config) CheckFrame(frame []byte) error {
	if want := c.FrameBytes(); len(frame) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), want)
	}
	return nil
}

// Classifier labels individual frames for a single audio stream.
//
// A Classifier is not safe for concurrent use; each stream owns its own.
type Classifier interface {
	// IsSpeech reports whether frame contains speech. It returns an error
	// wrapping [ErrFrameSize] when the frame has the wrong length, in which
	// case no internal state is modified.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears any adaptive state without closing the classifier.
	Reset()

	// Close releases resources. Calling Close more than once returns nil.
	Close() error
}

// Engine creates classifiers. Implementations must be safe for concurrent
// calls to NewSession.
type Engine interface {
	// NewSession returns a classifier configured by cfg, or an error if cfg is
	// invalid for this engine.
	NewSession(cfg Config) (Classifier, error)
}
