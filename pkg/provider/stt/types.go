package stt

import "time"

// Transcript is the result of one transcription request.
type Transcript struct {
	// Text is the recognised speech, trimmed of surrounding whitespace.
	Text string

	// Language is the language the backend reports, if any.
	Language string

	// Duration is the length of the transcribed clip.
	Duration time.Duration

	// Provider names the backend that produced the result. Fallback groups
	// fill this in so callers can tell which engine answered.
	Provider string
}
