package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/tasmi/internal/app"
	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/results"
	"github.com/MrWong99/tasmi/internal/server"
	sttmock "github.com/MrWong99/tasmi/pkg/provider/stt/mock"
	"github.com/MrWong99/tasmi/pkg/provider/vad/fixed"
	"github.com/MrWong99/tasmi/pkg/quran"
	"github.com/MrWong99/tasmi/pkg/quran/memstore"
	quranmock "github.com/MrWong99/tasmi/pkg/quran/mock"
)

const framesPerWord = 8

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// testConfig returns a defaulted config whose segmenter flushes every
// framesPerWord frames.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Version = "test"
	cfg.Segmenter.MaxSegmentFrames = framesPerWord
	cfg.Providers.STT.Name = "primary"
	cfg.Providers.STT.CircuitBreaker.MaxFailures = 1
	cfg.Providers.STT.CircuitBreaker.ResetTimeout = time.Hour
	cfg.ApplyDefaults()
	return cfg
}

func testProviders(tr *sttmock.Transcriber) *app.Providers {
	return &app.Providers{
		STT:   app.NamedTranscriber{Name: "primary", Transcriber: tr},
		VAD:   fixed.Engine{},
		Words: memstore.NewSample(),
	}
}

func sampleSimple() []string {
	var out []string
	for _, w := range quran.Sample() {
		out = append(out, w.Simple)
	}
	return out
}

func newApp(t *testing.T, cfg *config.Config, p *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]app.Option{app.WithLogger(discard()), app.WithMetrics(metrics)}, opts...)
	a, err := app.New(context.Background(), cfg, p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_ValidatesProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("New(nil providers): want error")
	}
	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("New(empty providers): want error")
	}
	for _, want := range []string{"stt provider", "vad engine", "word store"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNew_InvalidScoringStrategy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Scoring.Strategy = "soundex"
	if _, err := app.New(context.Background(), cfg, testProviders(&sttmock.Transcriber{})); err == nil {
		t.Fatal("want error for unknown strategy")
	}
}

func TestHandler_RootAndReadiness(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders(&sttmock.Transcriber{}))
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	var root map[string]string
	err = json.NewDecoder(resp.Body).Decode(&root)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode root: %v", err)
	}
	if root["version"] != "test" || root["status"] != "running" {
		t.Errorf("root = %v", root)
	}

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", resp.StatusCode)
	}
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if ready.Status != "ok" || ready.Checks["words"] != "ok" || ready.Checks["stt_breakers"] != "ok" {
		t.Errorf("readyz = %+v", ready)
	}
}

func TestHandler_ReadinessFailsWithoutWords(t *testing.T) {
	t.Parallel()

	p := testProviders(&sttmock.Transcriber{})
	p.Words = &quranmock.Store{PingErr: errors.New("db down")}
	a := newApp(t, testConfig(), p)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
}

// recite dials the app, recites ayah 1:1 and returns every event received
// up to and including session_complete.
func recite(t *testing.T, a *app.App) []map[string]any {
	t.Helper()
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+server.PathLiveRecite, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"init","surah":1,"ayah":1}`)); err != nil {
		t.Fatalf("write init: %v", err)
	}
	frame := make([]byte, config.Config{}.Segmenter.WithDefaults().FrameBytes())
	for range len(quran.Sample()) * framesPerWord {
		if err := c.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	var events []map[string]any
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("Read after %d events: %v", len(events), err)
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		events = append(events, ev)
		if ev["type"] == "session_complete" {
			return events
		}
	}
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Texts: sampleSimple()}
	a := newApp(t, testConfig(), testProviders(tr))

	events := recite(t, a)
	if got := events[0]["type"]; got != "session_started" {
		t.Fatalf("first event type = %v", got)
	}
	last := events[len(events)-1]
	if last["correct_words"] != float64(len(quran.Sample())) {
		t.Errorf("session_complete = %v", last)
	}
	if got := tr.CallCount(); got != len(quran.Sample()) {
		t.Errorf("transcriber calls = %d, want %d", got, len(quran.Sample()))
	}
	if tr.Calls[0].Opts.Language != "ar" {
		t.Errorf("language hint = %q, want ar", tr.Calls[0].Opts.Language)
	}
}

func TestSession_FallbackAfterPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: errors.New("quota exceeded")}
	backup := &sttmock.Transcriber{Texts: sampleSimple()}
	p := testProviders(primary)
	p.STTFallbacks = []app.NamedTranscriber{{Name: "backup", Transcriber: backup}}
	a := newApp(t, testConfig(), p)

	events := recite(t, a)
	last := events[len(events)-1]
	if last["correct_words"] != float64(len(quran.Sample())) {
		t.Errorf("session_complete = %v", last)
	}
	// MaxFailures 1 opens the primary breaker on the first failure.
	if got := primary.CallCount(); got != 1 {
		t.Errorf("primary calls = %d, want 1", got)
	}
	st := a.TranscriberStatus()
	if len(st) != 2 || st[0].State != "open" || st[1].State != "closed" {
		t.Errorf("status = %+v", st)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cfg := testConfig()
	a := newApp(t, cfg, testProviders(&sttmock.Transcriber{}), app.WithLevelVar(&level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Session.Language = "en"
	if err := a.ApplyConfig(cfg, &next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	bad := next
	bad.Scoring.Locale = "fr"
	if err := a.ApplyConfig(&next, &bad); err == nil {
		t.Error("ApplyConfig with unknown locale: want error")
	}
}

func TestApplyConfig_NewSessionsUseReloadedSettings(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Texts: sampleSimple()}
	cfg := testConfig()
	a := newApp(t, cfg, testProviders(tr))

	next := *cfg
	next.Session.Prompt = "recitation"
	if err := a.ApplyConfig(cfg, &next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	recite(t, a)
	if got := tr.Calls[0].Opts.Prompt; got != "recitation" {
		t.Errorf("prompt = %q, want reloaded value", got)
	}
}

func TestShutdown_RunsClosersOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	store := &quranmock.Store{Words: map[[2]int][]quran.Word{{1, 1}: quran.Sample()}}
	a := newApp(t, testConfig(), &app.Providers{
		STT:   app.NamedTranscriber{Name: "primary", Transcriber: &sttmock.Transcriber{}},
		VAD:   fixed.Engine{},
		Words: store,
	}, app.WithCloser(func() error { calls++; return nil }))

	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("closer calls = %d, want 1", calls)
	}
	if !store.Closed {
		t.Error("word store was not closed")
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()

	calls := 0
	a := newApp(t, testConfig(), testProviders(&sttmock.Transcriber{}),
		app.WithCloser(func() error { calls++; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("closer ran after deadline")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newApp(t, cfg, testProviders(&sttmock.Transcriber{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type summaryRecorder struct {
	mu  sync.Mutex
	got []results.Summary
}

func (r *summaryRecorder) Publish(_ context.Context, s results.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return nil
}

func TestSession_PublishesSummary(t *testing.T) {
	t.Parallel()

	rec := &summaryRecorder{}
	p := testProviders(&sttmock.Transcriber{Texts: sampleSimple()})
	p.Results = rec
	a := newApp(t, testConfig(), p)

	recite(t, a)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.got) != 1 {
		t.Fatalf("summaries = %d, want 1", len(rec.got))
	}
	if s := rec.got[0]; s.Surah != 1 || s.Ayah != 1 || s.CorrectWords != len(quran.Sample()) {
		t.Errorf("summary = %+v", s)
	}
}
