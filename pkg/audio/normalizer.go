package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyAudio is returned for a zero-length segment.
	ErrEmptyAudio = errors.New("audio: empty segment")

	// ErrOddLength is returned when a segment is not a whole number of
	// 16-bit samples.
	ErrOddLength = errors.New("audio: odd byte count in 16-bit pcm")
)

// DefaultHeadroomDB is the distance below full scale that peak normalization
// targets.
const DefaultHeadroomDB = 0.1

// Normalizer turns a raw speech segment into a canonical [Clip]: resampled
// to 16 kHz mono, peak-normalized and wrapped as WAV. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	source    Format
	headroom  float64
	normalize bool
}

// NormalizerOption configures a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithSourceFormat declares the format of incoming segments. Default:
// [Canonical].
func WithSourceFormat(f Format) NormalizerOption {
	return func(n *Normalizer) { n.source = f }
}

// WithHeadroom sets the peak target in dB below full scale. Default: 0.1.
func WithHeadroom(db float64) NormalizerOption {
	return func(n *Normalizer) { n.headroom = db }
}

// WithPeakNormalization toggles gain adjustment. Default: on.
func WithPeakNormalization(on bool) NormalizerOption {
	return func(n *Normalizer) { n.normalize = on }
}

// NewNormalizer returns a Normalizer or an error for an invalid source
// format or negative headroom.
func NewNormalizer(opts ...NormalizerOption) (*Normalizer, error) {
	n := &Normalizer{source: Canonical, headroom: DefaultHeadroomDB, normalize: true}
	for _, o := range opts {
		o(n)
	}
	if err := n.source.Validate(); err != nil {
		return nil, err
	}
	if n.headroom < 0 {
		return nil, fmt.Errorf("audio: headroom must be >= 0, got %v", n.headroom)
	}
	return n, nil
}

// Normalize converts pcm to a canonical clip. The input slice is not
// modified.
func (n *Normalizer) Normalize(ctx context.Context, pcm []byte) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	if len(pcm) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	if len(pcm)%(2*n.source.Channels) != 0 {
		return Clip{}, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}

	out := Convert(pcm, n.source, Canonical)
	if len(out) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	// Convert may hand back the caller's slice.
	if &out[0] == &pcm[0] {
		out = append([]byte(nil), out...)
	}
	if n.normalize {
		PeakNormalize(out, n.headroom)
	}

	wavData, err := EncodeWAV(out, Canonical)
	if err != nil {
		return Clip{}, err
	}
	return Clip{
		PCM:        out,
		WAV:        wavData,
		SampleRate: Canonical.SampleRate,
		Channels:   Canonical.Channels,
		Duration:   Canonical.Duration(len(out)),
	}, nil
}

// PeakNormalize scales pcm in place so its loudest sample sits headroomDB
// below full scale. Digital silence is left untouched. It returns the gain
// applied.
func PeakNormalize(pcm []byte, headroomDB float64) float64 {
	peak := Peak(pcm)
	if peak == 0 {
		return 1
	}
	target := 32767 * math.Pow(10, -headroomDB/20)
	gain := target / float64(peak)
	for i := range len(pcm) / 2 {
		putSample(pcm, i, clamp16(math.Round(float64(sampleAt(pcm, i))*gain)))
	}
	return gain
}
