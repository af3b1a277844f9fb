package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/tasmi/pkg/audio"
)

// WithTimeout bounds every Transcribe call on t by d. A zero or negative d
// returns t unchanged. An expired deadline is returned wrapped, so callers
// see it as an ordinary transcription failure.
func WithTimeout(t Transcriber, d time.Duration) Transcriber {
	if d <= 0 {
		return t
	}
	return &timeoutTranscriber{next: t, d: d}
}

type timeoutTranscriber struct {
	next Transcriber
	d    time.Duration
}

func (t *timeoutTranscriber) Transcribe(ctx context.Context, clip audio.Clip, opts Options) (Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	tr, err := t.next.Transcribe(ctx, clip, opts)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Transcript{}, fmt.Errorf("stt: no answer within %s: %w", t.d, err)
	}
	return tr, err
}
