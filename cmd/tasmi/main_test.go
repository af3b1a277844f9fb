package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/quran/sqlite"
)

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{
		"name":    "nova",
		"retries": 3,
		"big":     int64(7),
		"ratio":   2.5,
		"whole":   4.0,
		"timeout": "1500ms",
		"secs":    2,
		"bad":     "soon",
	}

	if got := optString(opts, "name"); got != "nova" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "retries"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optString(nil, "name"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}

	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"retries", 3, true},
		{"big", 7, true},
		{"whole", 4, true},
		{"ratio", 2, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := optInt(opts, tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("optInt(%q) = %d, %v; want %d, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}

	if got := optDuration(opts, "timeout"); got != 1500*time.Millisecond {
		t.Errorf("optDuration(timeout) = %v", got)
	}
	if got := optDuration(opts, "secs"); got != 2*time.Second {
		t.Errorf("optDuration(secs) = %v", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(bad) = %v, want 0", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}); err != nil {
		t.Errorf("whisper: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k"}); err != nil {
		t.Errorf("deepgram: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil {
		t.Error("deepgram without key: want error")
	}
	if _, err := reg.CreateVAD(config.VADConfig{Engine: "fixed"}); err != nil {
		t.Errorf("fixed vad: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); err == nil {
		t.Error("unknown provider: want error")
	}
}

// writeConfig writes a config using an SQLite word store in a temp dir and
// the whisper HTTP provider at whisperURL.
func writeConfig(t *testing.T, whisperURL string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "words.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`server:
  log_level: error
providers:
  stt:
    name: whisper
    base_url: %s
words:
  backend: sqlite
  path: %s
`, whisperURL, dbPath)
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func TestRunSeed_Sample(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "http://localhost:1")

	if code := runSeed([]string{"-config", cfgPath, "-sample"}); code != 0 {
		t.Fatalf("runSeed = %d, want 0", code)
	}

	store, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	words, err := store.AyahWords(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("AyahWords: %v", err)
	}
	if len(words) != 4 {
		t.Errorf("seeded %d words, want 4", len(words))
	}
}

func TestRunSeed_Usage(t *testing.T) {
	if code := runSeed(nil); code != 2 {
		t.Errorf("runSeed(nil) = %d, want 2", code)
	}
	if code := runSeed([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-sample"}); code != 1 {
		t.Errorf("missing config = %d, want 1", code)
	}
}

func TestRunCheck(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"بسم"}`))
	}))
	defer ts.Close()

	cfgPath, _ := writeConfig(t, ts.URL)
	if code := runSeed([]string{"-config", cfgPath, "-sample"}); code != 0 {
		t.Fatalf("runSeed = %d", code)
	}

	pcm := make([]byte, 16000)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(i)
	}
	wav, err := audio.EncodeWAV(pcm, audio.Canonical)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, wav, 0o600); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	// Silence the JSON report.
	stdout := os.Stdout
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		os.Stdout = devnull
		defer func() {
			os.Stdout = stdout
			devnull.Close()
		}()
	}

	if code := runCheck([]string{"-config", cfgPath, "-word", "1", clip}); code != 0 {
		t.Fatalf("runCheck = %d, want 0", code)
	}
	if calls.Load() != 1 {
		t.Errorf("whisper calls = %d, want 1", calls.Load())
	}

	if code := runCheck([]string{"-config", cfgPath, "-word", "9", clip}); code != 1 {
		t.Errorf("out of range word = %d, want 1", code)
	}
	if code := runCheck([]string{"-config", cfgPath}); code != 2 {
		t.Errorf("missing clip = %d, want 2", code)
	}
}
