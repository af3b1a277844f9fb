package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Silence(t *testing.T) {
	tr, err := whisper.NewNative(testModelPath(t), whisper.WithNativeConcurrency(1))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer tr.Close()

	pcm := make([]byte, audio.Canonical.BytesPerSecond())
	clip := audio.Clip{PCM: pcm, SampleRate: 16000, Channels: 1, Duration: audio.Canonical.Duration(len(pcm))}
	if _, err := tr.Transcribe(context.Background(), clip, stt.Options{Language: "ar"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestNativeTranscribe_CancelledWhileWaiting(t *testing.T) {
	tr, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clip := audio.Clip{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1}
	if _, err := tr.Transcribe(ctx, clip, stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
