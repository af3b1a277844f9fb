package fixed_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/tasmi/pkg/provider/vad"
	"github.com/MrWong99/tasmi/pkg/provider/vad/fixed"
)

func TestClassifier_AlwaysSpeech(t *testing.T) {
	c, err := fixed.Engine{}.NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for i := range 5 {
		got, err := c.IsSpeech(make([]byte, 960))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !got {
			t.Fatalf("frame %d: got silence", i)
		}
	}
}

func TestClassifier_RejectsWrongLength(t *testing.T) {
	c, _ := fixed.Engine{}.NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if _, err := c.IsSpeech(make([]byte, 959)); !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("err = %v, want ErrFrameSize", err)
	}
}
