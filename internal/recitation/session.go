// Package recitation runs one live recitation session: it segments incoming
// audio frames into words, sends each word through normalize, transcribe and
// score, and reports progress through a stream of [Event] values.
//
// A [Session] starts in [AwaitingInit]. A successful [Session.Init] loads the
// expected words of one ayah and moves it to [Active]; once every word has a
// result the session is [Complete]. Pipeline failures never end a session:
// the same word is retried until it succeeds or the retry cap records it as
// wrong.
//
// Init and Feed are meant to be driven by a single goroutine (one per
// connection). Teardown may be called from anywhere at any time.
package recitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/internal/segment"
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/quran"
)

// DefaultMaxAttempts is the number of consecutive pipeline failures on one
// word after which the word is recorded as wrong.
const DefaultMaxAttempts = 3

// State is the lifecycle state of a [Session].
type State int

const (
	AwaitingInit State = iota
	Active
	Complete
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case AwaitingInit:
		return "AWAITING_INIT"
	case Active:
		return "ACTIVE"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// AudioNormalizer turns a raw segment into a canonical clip.
type AudioNormalizer interface {
	Normalize(ctx context.Context, pcm []byte) (audio.Clip, error)
}

// Scorer grades one transcription against one expected word.
type Scorer interface {
	Compare(expected quran.Word, transcribed string) (scoring.Verdict, error)
}

var (
	_ AudioNormalizer = (*audio.Normalizer)(nil)
	_ Scorer          = (*scoring.Scorer)(nil)
)

// Deps are the collaborators of a Session. All fields are required. The
// Segmenter belongs to the Session and is closed by Teardown; the others are
// shared and must be safe for concurrent use.
type Deps struct {
	Words       quran.Store
	Normalizer  AudioNormalizer
	Transcriber stt.Transcriber
	Scorer      Scorer
	Segmenter   *segment.Segmenter
	Sink        Sink
}

func (d Deps) validate() error {
	var errs []error
	if d.Words == nil {
		errs = append(errs, errors.New("word store is required"))
	}
	if d.Normalizer == nil {
		errs = append(errs, errors.New("audio normalizer is required"))
	}
	if d.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if d.Scorer == nil {
		errs = append(errs, errors.New("scorer is required"))
	}
	if d.Segmenter == nil {
		errs = append(errs, errors.New("segmenter is required"))
	}
	if d.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Session].
type Option func(*Session)

// WithMaxAttempts sets the retry cap per word. Zero disables the cap.
// Default: [DefaultMaxAttempts].
func WithMaxAttempts(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxAttempts = n
		}
	}
}

// WithLanguage sets the language hint passed to the transcriber.
// Default: "ar".
func WithLanguage(lang string) Option {
	return func(s *Session) { s.sttOpts.Language = lang }
}

// WithPrompt sets a fixed transcription prompt.
func WithPrompt(prompt string) Option {
	return func(s *Session) { s.sttOpts.Prompt = prompt }
}

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session is the per-connection orchestrator.
type Session struct {
	words       quran.Store
	normalizer  AudioNormalizer
	transcriber stt.Transcriber
	scorer      Scorer
	seg         *segment.Segmenter
	sink        Sink

	maxAttempts int
	sttOpts     stt.Options
	log         *slog.Logger
	metrics     *observe.Metrics

	// op serialises Init and Feed.
	op sync.Mutex

	// sendMu orders sink writes. It is never held together with mu, so a
	// slow sink cannot stall Teardown.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	closed   bool
	busy     bool
	cancel   context.CancelFunc
	surah    int
	ayah     int
	expected []quran.Word
	index    int
	results  []WordResult
	attempts int

	closeSeg sync.Once
	segErr   error
}

// New returns a Session in [AwaitingInit].
func New(deps Deps, opts ...Option) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("recitation: %w", err)
	}
	s := &Session{
		words:       deps.Words,
		normalizer:  deps.Normalizer,
		transcriber: deps.Transcriber,
		scorer:      deps.Scorer,
		seg:         deps.Segmenter,
		sink:        deps.Sink,
		maxAttempts: DefaultMaxAttempts,
		sttOpts:     stt.Options{Language: "ar"},
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether Teardown has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WordIndex returns the index of the next expected word.
func (s *Session) WordIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Results returns a copy of the results so far.
func (s *Session) Results() []WordResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// Stats computes statistics over the results so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeStats(s.results)
}

// begin marks an operation in flight and returns a context cancelled by
// Teardown. The caller must call end.
func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.busy = true
	return ctx, nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.closeSegmenter()
	}
}

// Init loads the expected words for surah:ayah and starts the session over.
// On failure the previous state is kept and the error returned; an unknown
// ayah matches [quran.ErrAyahNotFound].
func (s *Session) Init(ctx context.Context, surah, ayah int) error {
	s.op.Lock()
	defer s.op.Unlock()

	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.end()

	words, err := s.words.AyahWords(ctx, surah, ayah)
	if err == nil && len(words) == 0 {
		err = quran.NotFound(surah, ayah)
	}
	if err != nil {
		s.log.Warn("recitation: init failed", "surah", surah, "ayah", ayah, "err", err)
		return fmt.Errorf("recitation: init %d:%d: %w", surah, ayah, err)
	}
	words = slices.Clone(words)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.seg.Reset()
	s.surah, s.ayah = surah, ayah
	s.expected = words
	s.index = 0
	s.results = nil
	s.attempts = 0
	s.state = Active
	s.mu.Unlock()

	s.log.Info("recitation: session started", "surah", surah, "ayah", ayah, "words", len(words))
	s.emit(newSessionStarted(surah, ayah, words))
	return nil
}

// Feed hands one frame to the segmenter and, when it completes a word, runs
// the pipeline for the current expected word. Malformed frames are dropped.
// Pipeline failures are reported as [Error] events, not returned.
func (s *Session) Feed(ctx context.Context, frame []byte) error {
	s.op.Lock()
	defer s.op.Unlock()

	if st := s.State(); st != Active {
		if s.Closed() {
			return ErrClosed
		}
		return ErrNotActive
	}
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.end()

	seg, err := s.seg.ProcessFrame(frame)
	if err != nil {
		if errors.Is(err, segment.ErrMalformedFrame) {
			s.metrics.RecordFrameDropped(ctx, "malformed")
			s.log.Debug("recitation: dropped frame", "bytes", len(frame), "err", err)
			return nil
		}
		s.metrics.RecordFrameDropped(ctx, "classifier")
		s.log.Warn("recitation: classifier failed, frame dropped", "err", err)
		return nil
	}
	s.metrics.FramesProcessed.Add(ctx, 1)
	if seg == nil {
		return nil
	}
	s.metrics.SegmentsEmitted.Add(ctx, 1)

	s.mu.Lock()
	index, total := s.index, len(s.expected)
	var word quran.Word
	if index < total {
		word = s.expected[index]
	}
	s.mu.Unlock()

	if index >= total {
		s.emit(CompleteNotice{Message: "All words completed"})
		return nil
	}

	verdict, perr := s.process(ctx, index, word, seg)
	if ctx.Err() != nil && s.Closed() {
		return nil
	}
	if perr != nil {
		s.fail(ctx, index, word, perr)
		return nil
	}
	s.record(ctx, index, word, verdict, false)
	return nil
}

// process runs normalize, transcribe and score for one segment.
func (s *Session) process(ctx context.Context, index int, word quran.Word, seg []byte) (scoring.Verdict, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "recitation.segment", trace.WithAttributes(
		attribute.Int("word_index", index),
		attribute.Int("segment_bytes", len(seg)),
	))
	defer span.End()
	defer func() { s.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds()) }()

	t := time.Now()
	clip, err := s.normalizer.Normalize(ctx, seg)
	s.metrics.NormalizeDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		return scoring.Verdict{}, spanErr(span, &StageError{Stage: StageNormalize, Err: err})
	}

	t = time.Now()
	tr, err := s.transcriber.Transcribe(ctx, clip, s.sttOpts)
	s.metrics.TranscribeDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		return scoring.Verdict{}, spanErr(span, &StageError{Stage: StageTranscribe, Err: err})
	}
	span.SetAttributes(attribute.String("stt.provider", tr.Provider))

	v, err := s.scorer.Compare(word, tr.Text)
	if err != nil {
		return scoring.Verdict{}, spanErr(span, &StageError{Stage: StageScore, Err: err})
	}
	span.SetAttributes(attribute.String("verdict.status", string(v.Status)), attribute.Float64("verdict.similarity", v.Similarity))
	observe.LoggerFrom(ctx, s.log).Debug("recitation: word scored",
		"word_index", index, "expected", v.Expected, "heard", tr.Text, "similarity", v.Similarity, "provider", tr.Provider)
	return v, nil
}

func spanErr(span trace.Span, err *StageError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Stage))
	return err
}

// fail reports a pipeline failure and applies the retry cap.
func (s *Session) fail(ctx context.Context, index int, word quran.Word, err error) {
	var se *StageError
	stage := StageScore
	if errors.As(err, &se) {
		stage = se.Stage
	}
	s.metrics.RecordStageError(ctx, string(stage))

	s.mu.Lock()
	s.attempts++
	exhausted := s.maxAttempts > 0 && s.attempts >= s.maxAttempts
	attempts := s.attempts
	s.mu.Unlock()

	s.log.Warn("recitation: segment failed", "word_index", index, "stage", stage, "attempt", attempts, "exhausted", exhausted, "err", err)
	s.emit(Error{WordIndex: index, Stage: stage, Message: err.Error(), Exhausted: exhausted})
	if !exhausted {
		return
	}
	v, cerr := s.scorer.Compare(word, "")
	if cerr != nil {
		status, color := scoring.Classify(0, false)
		v = scoring.Verdict{Expected: word.Reference(), Status: status, Color: color}
	}
	s.record(ctx, index, word, v, true)
}

// record appends a result, advances the index and completes the session
// after the last word.
func (s *Session) record(ctx context.Context, index int, word quran.Word, v scoring.Verdict, exhausted bool) {
	res := WordResult{
		WordIndex:              index,
		ExpectedSimple:         word.Simple,
		ExpectedWithDiacritics: word.WithDiacritics,
		Verdict:                v,
		Exhausted:              exhausted,
	}

	s.mu.Lock()
	if s.closed || s.state != Active || s.index != index {
		s.mu.Unlock()
		return
	}
	s.results = append(s.results, res)
	s.index++
	s.attempts = 0
	s.metrics.RecordWordScored(ctx, string(v.Status))
	events := []Event{res}
	if s.index == len(s.expected) {
		s.state = Complete
		stats := ComputeStats(s.results)
		s.metrics.SessionsCompleted.Add(ctx, 1)
		s.log.Info("recitation: session complete", "surah", s.surah, "ayah", s.ayah,
			"correct", stats.CorrectWords, "total", stats.TotalWords, "accuracy", stats.OverallAccuracy)
		events = append(events, SessionComplete{Stats: stats, Results: slices.Clone(s.results)})
	}
	s.mu.Unlock()

	s.emit(events...)
}

// emit sends events in order, stopping as soon as the session has been torn
// down. The session lock is not held during Send.
func (s *Session) emit(events ...Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for _, ev := range events {
		if s.Closed() {
			return
		}
		s.sink.Send(ev)
	}
}

// Teardown cancels any in-flight pipeline, suppresses further events and
// releases the segmenter. It is idempotent and safe to call concurrently
// with Feed.
func (s *Session) Teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	busy := s.busy
	s.mu.Unlock()

	if busy {
		// The in-flight call closes the segmenter in end.
		return nil
	}
	return s.closeSegmenter()
}

func (s *Session) closeSegmenter() error {
	s.closeSeg.Do(func() { s.segErr = s.seg.Close() })
	return s.segErr
}
