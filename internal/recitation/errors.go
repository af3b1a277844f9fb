package recitation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotActive is returned by Feed outside the Active state.
	ErrNotActive = errors.New("recitation: session is not active")

	// ErrClosed is returned by Init and Feed after Teardown.
	ErrClosed = errors.New("recitation: session closed")

	// ErrAudioNormalize, ErrTranscription and ErrScoring classify
	// [*StageError] values; match them with errors.Is.
	ErrAudioNormalize = errors.New("recitation: audio normalization failed")
	ErrTranscription  = errors.New("recitation: transcription failed")
	ErrScoring        = errors.New("recitation: scoring failed")
)

// Stage names one step of the segment pipeline.
type Stage string

const (
	StageNormalize  Stage = "audio_normalize"
	StageTranscribe Stage = "transcription"
	StageScore      Stage = "scoring"
)

func (s Stage) sentinel() error {
	switch s {
	case StageNormalize:
		return ErrAudioNormalize
	case StageTranscribe:
		return ErrTranscription
	default:
		return ErrScoring
	}
}

// StageError is the failure of one pipeline stage. It matches both its
// stage sentinel and the underlying cause under errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the stage sentinel and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Stage.sentinel(), e.Err}
}
