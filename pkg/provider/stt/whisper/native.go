// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
)

const defaultNativeConcurrency = 2

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup; each request gets its own whisper context.
type NativeTranscriber struct {
	model       whisperlib.Model
	language    string
	concurrency int64
	sem         *semaphore.Weighted
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the language used when a request carries no hint.
// Defaults to "ar".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// WithNativeConcurrency caps the number of inferences running at once.
// whisper.cpp saturates CPU cores quickly; extra requests wait on ctx.
// Defaults to 2.
func WithNativeConcurrency(n int) NativeOption {
	return func(t *NativeTranscriber) {
		if n > 0 {
			t.concurrency = int64(n)
		}
	}
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model
// from the given file path. The caller must call Close when the transcriber
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	t := &NativeTranscriber{
		language:    defaultLanguage,
		concurrency: defaultNativeConcurrency,
	}
	for _, o := range opts {
		o(t)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	t.model = model
	t.sem = semaphore.NewWeighted(t.concurrency)
	return t, nil
}

// Close releases the whisper model.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber.
func (t *NativeTranscriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	if err := stt.CheckClip(clip); err != nil {
		return stt.Transcript{}, err
	}
	pcm := clip.PCM
	if len(pcm) == 0 {
		var f audio.Format
		var err error
		if pcm, f, err = audio.DecodeWAV(clip.WAV); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
		}
		pcm = audio.Convert(pcm, f, audio.Canonical)
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: wait for inference slot: %w", err)
	}
	defer t.sem.Release(1)

	lang := opts.Language
	if lang == "" {
		lang = t.language
	}
	text, err := t.infer(ctx, pcmToFloat32(pcm), lang, opts.Prompt)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: lang, Duration: clip.Duration}, nil
}

// infer runs whisper.cpp on samples using a fresh context and returns the
// concatenated segment text. The encoder itself is not interruptible; ctx is
// consulted between segments.
func (t *NativeTranscriber) infer(ctx context.Context, samples []float32, lang, prompt string) (string, error) {
	// Contexts are not thread-safe; the model is.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
