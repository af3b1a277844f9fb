package stt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/provider/stt/mock"
)

func TestWithTimeout_Expires(t *testing.T) {
	m := &mock.Transcriber{Block: make(chan struct{})}
	tr := stt.WithTimeout(m, 20*time.Millisecond)

	_, err := tr.Transcribe(context.Background(), audio.Clip{PCM: []byte{0, 0}}, stt.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	m := &mock.Transcriber{Texts: []string{"بسم"}}
	tr := stt.WithTimeout(m, time.Second)

	got, err := tr.Transcribe(context.Background(), audio.Clip{PCM: []byte{0, 0}}, stt.Options{Language: "ar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "بسم" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestWithTimeout_ZeroIsIdentity(t *testing.T) {
	m := &mock.Transcriber{}
	if stt.WithTimeout(m, 0) != stt.Transcriber(m) {
		t.Error("zero timeout should return the transcriber unchanged")
	}
}
