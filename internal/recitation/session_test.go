package recitation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/recitation"
	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/internal/segment"
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	sttmock "github.com/MrWong99/tasmi/pkg/provider/stt/mock"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
	"github.com/MrWong99/tasmi/pkg/provider/vad/fixed"
	"github.com/MrWong99/tasmi/pkg/quran"
	"github.com/MrWong99/tasmi/pkg/quran/memstore"
	quranmock "github.com/MrWong99/tasmi/pkg/quran/mock"
)

// With an always-speech classifier, W=10 and a cap of 8 frames, every 8
// frames produce exactly one segment.
const framesPerWord = 8

var frameBytes = segment.DefaultConfig().FrameBytes()

type recorder struct {
	mu     sync.Mutex
	events []recitation.Event
}

func (r *recorder) Send(ev recitation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []recitation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recitation.Event(nil), r.events...)
}

func (r *recorder) kinds() []string {
	var out []string
	for _, ev := range r.all() {
		out = append(out, ev.Kind())
	}
	return out
}

type fixture struct {
	session *recitation.Session
	sink    *recorder
	stt     *sttmock.Transcriber
	seg     *segment.Segmenter
}

type failingNormalizer struct{ err error }

func (f failingNormalizer) Normalize(context.Context, []byte) (audio.Clip, error) {
	return audio.Clip{}, f.err
}

func newFixture(t *testing.T, tr *sttmock.Transcriber, mutate func(*recitation.Deps), opts ...recitation.Option) *fixture {
	t.Helper()
	cfg := segment.DefaultConfig()
	cfg.MaxSegmentFrames = framesPerWord
	cls, err := fixed.Engine{}.NewSession(cfg.VADConfig(vad.MaxAggressiveness))
	if err != nil {
		t.Fatalf("fixed classifier: %v", err)
	}
	seg, err := segment.New(cls, cfg)
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	norm, err := audio.NewNormalizer()
	if err != nil {
		t.Fatalf("audio.NewNormalizer: %v", err)
	}
	sc, err := scoring.New()
	if err != nil {
		t.Fatalf("scoring.New: %v", err)
	}
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sink := &recorder{}
	deps := recitation.Deps{
		Words:       memstore.NewSample(),
		Normalizer:  norm,
		Transcriber: tr,
		Scorer:      sc,
		Segmenter:   seg,
		Sink:        sink,
	}
	if mutate != nil {
		mutate(&deps)
	}
	opts = append([]recitation.Option{
		recitation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		recitation.WithMetrics(metrics),
	}, opts...)
	s, err := recitation.New(deps, opts...)
	if err != nil {
		t.Fatalf("recitation.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Teardown() })
	return &fixture{session: s, sink: sink, stt: tr, seg: seg}
}

// speakWord feeds one segment's worth of frames.
func (f *fixture) speakWord(t *testing.T) {
	t.Helper()
	for range framesPerWord {
		if err := f.session.Feed(context.Background(), make([]byte, frameBytes)); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	if err := f.session.Init(context.Background(), 1, 1); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func sampleSimple() []string {
	var out []string
	for _, w := range quran.Sample() {
		out = append(out, w.Simple)
	}
	return out
}

func TestSession_EndToEnd(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{Texts: sampleSimple()}, nil)
	f.init(t)
	for range 4 {
		f.speakWord(t)
	}

	events := f.sink.all()
	if len(events) != 6 {
		t.Fatalf("events = %v, want 6", f.sink.kinds())
	}

	started, ok := events[0].(recitation.SessionStarted)
	if !ok {
		t.Fatalf("first event = %T, want SessionStarted", events[0])
	}
	if started.TotalWords != 4 || started.Surah != 1 || started.Ayah != 1 {
		t.Errorf("started = %+v", started)
	}
	if started.ExpectedSimple[1] != "الله" || started.ExpectedWithDiacritics[0] != "بِسۡمِ" {
		t.Errorf("started words = %v / %v", started.ExpectedSimple, started.ExpectedWithDiacritics)
	}

	for i := range 4 {
		wr, ok := events[i+1].(recitation.WordResult)
		if !ok {
			t.Fatalf("event %d = %T, want WordResult", i+1, events[i+1])
		}
		if wr.WordIndex != i {
			t.Errorf("word %d: index = %d", i, wr.WordIndex)
		}
		if wr.Verdict.Status != scoring.StatusCorrect || wr.Verdict.Similarity != 100 {
			t.Errorf("word %d: verdict = %+v", i, wr.Verdict)
		}
	}

	done, ok := events[5].(recitation.SessionComplete)
	if !ok {
		t.Fatalf("last event = %T, want SessionComplete", events[5])
	}
	want := recitation.Stats{TotalWords: 4, CorrectWords: 4, OverallAccuracy: 100}
	if done.Stats != want {
		t.Errorf("stats = %+v, want %+v", done.Stats, want)
	}
	if len(done.Results) != 4 {
		t.Errorf("results = %d, want 4", len(done.Results))
	}
	if f.session.State() != recitation.Complete {
		t.Errorf("state = %v, want COMPLETE", f.session.State())
	}
	if f.stt.Calls[0].Opts.Language != "ar" {
		t.Errorf("language hint = %q, want ar", f.stt.Calls[0].Opts.Language)
	}

	err := f.session.Feed(context.Background(), make([]byte, frameBytes))
	if !errors.Is(err, recitation.ErrNotActive) {
		t.Errorf("Feed after completion: err = %v, want ErrNotActive", err)
	}
	if n := len(f.sink.all()); n != 6 {
		t.Errorf("events after completion = %d, want 6", n)
	}
}

func TestSession_FeedBeforeInit(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{}, nil)
	if err := f.session.Feed(context.Background(), make([]byte, frameBytes)); !errors.Is(err, recitation.ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
	if f.session.State() != recitation.AwaitingInit {
		t.Errorf("state = %v", f.session.State())
	}
}

func TestSession_InitUnknownAyah(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{}, nil)
	err := f.session.Init(context.Background(), 2, 300)
	if !errors.Is(err, quran.ErrAyahNotFound) {
		t.Fatalf("err = %v, want ErrAyahNotFound", err)
	}
	if f.session.State() != recitation.AwaitingInit {
		t.Errorf("state = %v, want AWAITING_INIT", f.session.State())
	}
	if len(f.sink.all()) != 0 {
		t.Errorf("unexpected events %v", f.sink.kinds())
	}
}

func TestSession_InitEmptyWordList(t *testing.T) {
	store := &quranmock.Store{Words: map[[2]int][]quran.Word{{1, 1}: {}}}
	f := newFixture(t, &sttmock.Transcriber{}, func(d *recitation.Deps) { d.Words = store })
	if err := f.session.Init(context.Background(), 1, 1); !errors.Is(err, quran.ErrAyahNotFound) {
		t.Fatalf("err = %v, want ErrAyahNotFound", err)
	}
}

func TestSession_FailedReinitKeepsActiveSession(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{Texts: sampleSimple()}, nil)
	f.init(t)
	f.speakWord(t)

	if err := f.session.Init(context.Background(), 114, 99); err == nil {
		t.Fatal("expected error")
	}
	if f.session.State() != recitation.Active || f.session.WordIndex() != 1 {
		t.Fatalf("state = %v index = %d, want ACTIVE at 1", f.session.State(), f.session.WordIndex())
	}
	f.speakWord(t)
	if got := f.session.Results()[1].ExpectedSimple; got != "الله" {
		t.Errorf("second word scored against %q", got)
	}
}

func TestSession_ReinitStartsOver(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{Default: "بسم"}, nil)
	f.init(t)
	f.speakWord(t)
	f.speakWord(t)
	f.init(t)

	if f.session.WordIndex() != 0 || len(f.session.Results()) != 0 {
		t.Fatalf("index = %d results = %d after re-init", f.session.WordIndex(), len(f.session.Results()))
	}
	if f.session.Stats() != (recitation.Stats{}) {
		t.Errorf("stats = %+v, want zero", f.session.Stats())
	}
	kinds := f.sink.kinds()
	if kinds[len(kinds)-1] != "session_started" {
		t.Errorf("last event = %s", kinds[len(kinds)-1])
	}
}

func TestSession_TranscriptionFailureDoesNotAdvance(t *testing.T) {
	tr := &sttmock.Transcriber{Errs: []error{errors.New("backend down")}, Texts: []string{"بسم"}}
	f := newFixture(t, tr, nil)
	f.init(t)

	f.speakWord(t)
	events := f.sink.all()
	ev, ok := events[len(events)-1].(recitation.Error)
	if !ok {
		t.Fatalf("last event = %T, want Error", events[len(events)-1])
	}
	if ev.WordIndex != 0 || ev.Stage != recitation.StageTranscribe || ev.Exhausted {
		t.Errorf("error event = %+v", ev)
	}
	if ev.Message == "" {
		t.Error("error event without message")
	}
	if f.session.WordIndex() != 0 || f.session.State() != recitation.Active {
		t.Fatalf("index = %d state = %v", f.session.WordIndex(), f.session.State())
	}

	f.speakWord(t)
	wr, ok := f.sink.all()[2].(recitation.WordResult)
	if !ok {
		t.Fatalf("event 2 = %T, want WordResult", f.sink.all()[2])
	}
	if wr.WordIndex != 0 || wr.ExpectedSimple != "بسم" || wr.Verdict.Status != scoring.StatusCorrect {
		t.Errorf("retry scored %+v", wr)
	}
}

func TestSession_NormalizeFailure(t *testing.T) {
	cause := errors.New("bad pcm")
	f := newFixture(t, &sttmock.Transcriber{}, func(d *recitation.Deps) {
		d.Normalizer = failingNormalizer{err: cause}
	})
	f.init(t)
	f.speakWord(t)

	ev, ok := f.sink.all()[1].(recitation.Error)
	if !ok || ev.Stage != recitation.StageNormalize {
		t.Fatalf("event = %+v, want audio_normalize Error", f.sink.all()[1])
	}
	if f.stt.CallCount() != 0 {
		t.Error("transcriber called after normalization failed")
	}
}

func TestSession_RetryCapRecordsWrong(t *testing.T) {
	tr := &sttmock.Transcriber{Err: errors.New("timeout")}
	f := newFixture(t, tr, nil, recitation.WithMaxAttempts(2))
	f.init(t)

	f.speakWord(t)
	f.speakWord(t)

	want := []string{"session_started", "error", "error", "word_result"}
	got := f.sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	events := f.sink.all()
	if events[1].(recitation.Error).Exhausted {
		t.Error("first failure marked exhausted")
	}
	if !events[2].(recitation.Error).Exhausted {
		t.Error("second failure not marked exhausted")
	}
	wr := events[3].(recitation.WordResult)
	if !wr.Exhausted || wr.Verdict.Status != scoring.StatusWrong || wr.Verdict.Color != scoring.ColorRed || wr.Verdict.Transcribed != "" {
		t.Errorf("synthetic result = %+v", wr)
	}
	if f.session.WordIndex() != 1 {
		t.Errorf("index = %d, want 1", f.session.WordIndex())
	}
}

func TestSession_UnlimitedAttempts(t *testing.T) {
	tr := &sttmock.Transcriber{Err: errors.New("timeout")}
	f := newFixture(t, tr, nil, recitation.WithMaxAttempts(0))
	f.init(t)
	for range 5 {
		f.speakWord(t)
	}
	if f.session.WordIndex() != 0 {
		t.Fatalf("index = %d, want 0", f.session.WordIndex())
	}
	for _, k := range f.sink.kinds()[1:] {
		if k != "error" {
			t.Fatalf("unexpected event %s", k)
		}
	}
}

func TestSession_MalformedFrameDropped(t *testing.T) {
	f := newFixture(t, &sttmock.Transcriber{}, nil)
	f.init(t)
	for range 3 {
		_ = f.session.Feed(context.Background(), make([]byte, frameBytes))
	}
	before := f.seg.Buffered()

	if err := f.session.Feed(context.Background(), make([]byte, 17)); err != nil {
		t.Fatalf("Feed malformed: %v", err)
	}
	if f.seg.Buffered() != before {
		t.Errorf("buffered = %d, want %d", f.seg.Buffered(), before)
	}
	if len(f.sink.all()) != 1 {
		t.Errorf("events = %v", f.sink.kinds())
	}
}

func TestSession_TeardownDuringTranscription(t *testing.T) {
	tr := &sttmock.Transcriber{Block: make(chan struct{}), Started: make(chan struct{}, 1), Default: "بسم"}
	f := newFixture(t, tr, nil)
	f.init(t)

	for range framesPerWord - 1 {
		if err := f.session.Feed(context.Background(), make([]byte, frameBytes)); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	done := make(chan error, 1)
	go func() { done <- f.session.Feed(context.Background(), make([]byte, frameBytes)) }()

	select {
	case <-tr.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("transcription never started")
	}
	if err := f.session.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("in-flight Feed returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight Feed did not return after Teardown")
	}

	if kinds := f.sink.kinds(); len(kinds) != 1 {
		t.Errorf("events after teardown = %v, want only session_started", kinds)
	}
	if err := f.session.Feed(context.Background(), make([]byte, frameBytes)); !errors.Is(err, recitation.ErrClosed) {
		t.Errorf("Feed after teardown: %v, want ErrClosed", err)
	}
	if err := f.session.Init(context.Background(), 1, 1); !errors.Is(err, recitation.ErrClosed) {
		t.Errorf("Init after teardown: %v, want ErrClosed", err)
	}
	if err := f.session.Teardown(); err != nil {
		t.Errorf("second Teardown: %v", err)
	}
	if !f.session.Closed() {
		t.Error("Closed() = false")
	}
}

// stallingSink blocks inside Send for word results until release is closed.
type stallingSink struct {
	recorder
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSink) Send(ev recitation.Event) {
	if _, ok := ev.(recitation.WordResult); ok {
		s.entered <- struct{}{}
		<-s.release
	}
	s.recorder.Send(ev)
}

func TestSession_SlowSinkDoesNotStallTeardown(t *testing.T) {
	sink := &stallingSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, &sttmock.Transcriber{Texts: sampleSimple()}, func(d *recitation.Deps) { d.Sink = sink })
	f.init(t)

	for range framesPerWord - 1 {
		if err := f.session.Feed(context.Background(), make([]byte, frameBytes)); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	done := make(chan error, 1)
	go func() { done <- f.session.Feed(context.Background(), make([]byte, frameBytes)) }()

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("word result never reached the sink")
	}

	torn := make(chan error, 1)
	go func() { torn <- f.session.Teardown() }()
	select {
	case err := <-torn:
		if err != nil {
			t.Fatalf("Teardown: %v", err)
		}
	case <-time.After(time.Second):
		close(sink.release)
		t.Fatal("Teardown blocked on a stalled sink")
	}
	if f.session.State() != recitation.Active {
		t.Errorf("State = %v, want Active", f.session.State())
	}

	close(sink.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Feed did not return after the sink was released")
	}
	if kinds := sink.kinds(); len(kinds) != 2 || kinds[1] != "word_result" {
		t.Errorf("events = %v, want session_started then word_result", kinds)
	}
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := recitation.New(recitation.Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		stage    recitation.Stage
		sentinel error
	}{
		{recitation.StageNormalize, recitation.ErrAudioNormalize},
		{recitation.StageTranscribe, recitation.ErrTranscription},
		{recitation.StageScore, recitation.ErrScoring},
	}
	for _, tt := range tests {
		err := error(&recitation.StageError{Stage: tt.stage, Err: cause})
		if !errors.Is(err, tt.sentinel) {
			t.Errorf("%s: not matched by its sentinel", tt.stage)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%s: cause lost", tt.stage)
		}
		if err.Error() != string(tt.stage)+": connection reset" {
			t.Errorf("Error() = %q", err.Error())
		}
	}
}

func TestState_String(t *testing.T) {
	for st, want := range map[recitation.State]string{
		recitation.AwaitingInit: "AWAITING_INIT",
		recitation.Active:       "ACTIVE",
		recitation.Complete:     "COMPLETE",
		recitation.State(9):     "UNKNOWN",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}

var _ stt.Transcriber = (*sttmock.Transcriber)(nil)
