package resilience

import (
	"context"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
)

// Transcriber fails over between STT backends.
type Transcriber struct {
	group *Group[stt.Transcriber]
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber returns a Transcriber whose preferred backend is primary.
func NewTranscriber(primaryName string, primary stt.Transcriber, cfg GroupConfig) *Transcriber {
	return &Transcriber{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (t *Transcriber) AddFallback(name string, tr stt.Transcriber) {
	t.group.Add(name, tr)
}

// Status reports every backend's breaker state.
func (t *Transcriber) Status() []MemberStatus { return t.group.Status() }

// Transcribe implements [stt.Transcriber]. An invalid clip is rejected before
// any backend is charged a failure. Transcript.Provider is set to the
// answering backend's registered name.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	if err := stt.CheckClip(clip); err != nil {
		return stt.Transcript{}, err
	}
	tr, name, err := Call(ctx, t.group, func(ctx context.Context, b stt.Transcriber) (stt.Transcript, error) {
		return b.Transcribe(ctx, clip, opts)
	})
	if err != nil {
		return stt.Transcript{}, err
	}
	tr.Provider = name
	return tr, nil
}
