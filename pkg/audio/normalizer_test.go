package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/tasmi/pkg/audio"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	n, err := audio.NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	in := samplesToBytes([]int16{1000, -2000, 500, 0})
	orig := append([]byte(nil), in...)

	clip, err := n.Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(in) != string(orig) {
		t.Error("Normalize modified its input")
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Errorf("format = %s, want canonical", clip.Format())
	}
	if clip.Duration != 250*time.Microsecond {
		t.Errorf("Duration = %v, want 250µs", clip.Duration)
	}
	// -0.1 dBFS of 32767 rounds to 32390.
	if peak := audio.Peak(clip.PCM); peak < 32380 || peak > 32400 {
		t.Errorf("peak = %d, want ≈32390", peak)
	}
	got := bytesToSamples(clip.PCM)
	if got[3] != 0 {
		t.Errorf("zero sample scaled to %d", got[3])
	}
	if got[1] != -2*got[0] && got[1] != -2*got[0]-1 && got[1] != -2*got[0]+1 {
		t.Errorf("relative levels lost: %v", got)
	}

	pcm, f, err := audio.DecodeWAV(clip.WAV)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != audio.Canonical {
		t.Errorf("wav format = %s, want canonical", f)
	}
	assertSamples(t, bytesToSamples(pcm), got)
}

func TestNormalizer_SilenceUntouched(t *testing.T) {
	t.Parallel()

	n, _ := audio.NewNormalizer()
	clip, err := n.Normalize(context.Background(), make([]byte, 960))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if audio.Peak(clip.PCM) != 0 {
		t.Error("silence gained energy")
	}
}

func TestNormalizer_Errors(t *testing.T) {
	t.Parallel()

	n, _ := audio.NewNormalizer()
	if _, err := n.Normalize(context.Background(), nil); !errors.Is(err, audio.ErrEmptyAudio) {
		t.Errorf("empty: err = %v, want ErrEmptyAudio", err)
	}
	if _, err := n.Normalize(context.Background(), []byte{1, 2, 3}); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd: err = %v, want ErrOddLength", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Normalize(ctx, samplesToBytes([]int16{1})); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

func TestNormalizer_SourceFormat(t *testing.T) {
	t.Parallel()

	n, err := audio.NewNormalizer(
		audio.WithSourceFormat(audio.Format{SampleRate: 48000, Channels: 2}),
		audio.WithPeakNormalization(false),
	)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	pcm := samplesToBytes([]int16{100, 300, 0, 0, 0, 0, 500, 700, 0, 0, 0, 0})
	clip, err := n.Normalize(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	assertSamples(t, bytesToSamples(clip.PCM), []int16{200, 600})

	if _, err := n.Normalize(context.Background(), samplesToBytes([]int16{1, 2, 3})); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("partial stereo frame: err = %v, want ErrOddLength", err)
	}
}

func TestNewNormalizer_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewNormalizer(audio.WithSourceFormat(audio.Format{})); err == nil {
		t.Error("zero source format: want error")
	}
	if _, err := audio.NewNormalizer(audio.WithHeadroom(-1)); err == nil {
		t.Error("negative headroom: want error")
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	data, err := audio.EncodeWAV(samplesToBytes([]int16{1, 2, 3, 4}), audio.Canonical)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+8 {
		t.Fatalf("len = %d, want 52", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("bad RIFF header: %q", data[:12])
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.DecodeWAV([]byte("definitely not a wav file at all....")); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}
