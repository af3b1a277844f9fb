// Package audio holds the PCM helpers shared by the recitation pipeline and
// the canonical-form [Normalizer] that turns a raw speech segment into a
// [Clip] ready for transcription.
//
// All PCM in this package is signed 16-bit little-endian. Multi-channel
// audio is interleaved.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical is the format every clip handed to a transcriber uses.
var Canonical = Format{SampleRate: 16000, Channels: 1}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// Clip is one utterance in canonical form.
type Clip struct {
	// PCM is the normalized mono 16-bit little-endian sample data.
	PCM []byte

	// WAV is PCM wrapped in a RIFF/WAVE container.
	WAV []byte

	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Format returns the clip's stream format.
func (c Clip) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}
