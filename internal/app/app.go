// Package app wires all Tasmi subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves connections until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via [Providers] and the functional
// options. When an option is not provided, New builds real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/internal/health"
	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/recitation"
	"github.com/MrWong99/tasmi/internal/resilience"
	"github.com/MrWong99/tasmi/internal/results"
	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/internal/segment"
	"github.com/MrWong99/tasmi/internal/server"
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
	"github.com/MrWong99/tasmi/pkg/quran"
)

// NamedTranscriber is one configured transcription backend.
type NamedTranscriber struct {
	Name string
	stt.Transcriber
}

// Providers holds the constructed backends. Populated by main.go via the
// config registry.
type Providers struct {
	// STT is the primary transcriber; STTFallbacks are tried in order when
	// it fails or its circuit is open.
	STT          NamedTranscriber
	STTFallbacks []NamedTranscriber

	VAD   vad.Engine
	Words quran.Store

	// Results, when set, receives a summary of every completed session.
	Results results.Publisher
}

// tuning is the hot-reloadable part of the config, swapped atomically and
// read by the session factory for each new connection.
type tuning struct {
	normalizer *audio.Normalizer
	scorer     *scoring.Scorer
	session    config.SessionConfig
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	transcriber *resilience.Transcriber
	stt         stt.Transcriber
	health      *health.Handler
	server      *server.Server
	metricsH    http.Handler

	tuning atomic.Pointer[tuning]

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithCloser registers fn to run during Shutdown after the built-in closers.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the transcriber chain, health checks, session factory and HTTP
// server. Stores and transcribers in providers are closed by Shutdown when
// they implement io.Closer.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := validateProviders(providers); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg, providers: providers, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	// Option closers run after the providers close.
	extra := a.closers
	a.closers = nil
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcriber chain ─────────────────────────────────────────────
	a.initTranscriber()

	// ── 2. Hot-reloadable tuning ─────────────────────────────────────────
	t, err := buildTuning(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.tuning.Store(t)

	// ── 3. Health ────────────────────────────────────────────────────────
	a.initHealth()

	// ── 4. Server ────────────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithHealth(a.health),
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
	}
	if a.metricsH != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsH))
	}
	a.server, err = server.New(server.Config{
		Addr:           cfg.Server.ListenAddr,
		Version:        cfg.Server.Version,
		OriginPatterns: cfg.Server.AllowedOrigins,
		ReadLimit:      cfg.Server.ReadLimit,
		WriteTimeout:   cfg.Server.WriteTimeout,
		TLSCertFile:    tlsCert(cfg),
		TLSKeyFile:     tlsKey(cfg),
	}, a.newSession, srvOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 5. Closers ───────────────────────────────────────────────────────
	a.closers = append(a.closers, closerFor(providers.Words), closerFor(providers.Results))
	for _, tr := range append([]NamedTranscriber{providers.STT}, providers.STTFallbacks...) {
		a.closers = append(a.closers, closerFor(tr.Transcriber))
	}
	a.closers = append(a.closers, extra...)

	if err := providers.Words.Ping(ctx); err != nil {
		a.log.Warn("word store not reachable at startup", "err", err)
	}
	a.log.Info("app initialised",
		"stt", providers.STT.Name,
		"stt_fallbacks", len(providers.STTFallbacks),
		"words", cfg.Words.Backend,
		"max_attempts", cfg.Session.Attempts(),
	)
	return a, nil
}

func validateProviders(p *Providers) error {
	if p == nil {
		return errors.New("providers are required")
	}
	var errs []error
	if p.STT.Transcriber == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.Words == nil {
		errs = append(errs, errors.New("word store is required"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTranscriber wraps the configured backends in circuit breakers with
// ordered fallback and applies the per-call timeout.
func (a *App) initTranscriber() {
	cb := a.cfg.Providers.STT.CircuitBreaker
	group := resilience.GroupConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				a.log.Warn("stt circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	p := a.providers
	a.transcriber = resilience.NewTranscriber(p.STT.Name, p.STT.Transcriber, group)
	for _, fb := range p.STTFallbacks {
		a.transcriber.AddFallback(fb.Name, fb.Transcriber)
	}
	a.stt = stt.WithTimeout(a.transcriber, a.cfg.Providers.STT.Timeout)
}

func buildTuning(cfg *config.Config) (*tuning, error) {
	norm, err := audio.NewNormalizer(
		audio.WithSourceFormat(audio.Format{SampleRate: cfg.Segmenter.SampleRate, Channels: 1}),
		audio.WithHeadroom(headroom(cfg.Audio)),
		audio.WithPeakNormalization(!cfg.Audio.DisablePeakNormalization),
	)
	if err != nil {
		return nil, fmt.Errorf("audio normalizer: %w", err)
	}
	var scOpts []scoring.Option
	if cfg.Scoring.Strategy != "" {
		scOpts = append(scOpts, scoring.WithStrategy(scoring.Strategy(cfg.Scoring.Strategy)))
	}
	if cfg.Scoring.Locale != "" {
		scOpts = append(scOpts, scoring.WithLocale(scoring.Locale(cfg.Scoring.Locale)))
	}
	sc, err := scoring.New(scOpts...)
	if err != nil {
		return nil, err
	}
	return &tuning{normalizer: norm, scorer: sc, session: cfg.Session}, nil
}

func headroom(c config.AudioConfig) float64 {
	if c.HeadroomDB == 0 {
		return audio.DefaultHeadroomDB
	}
	return c.HeadroomDB
}

func (a *App) initHealth() {
	checks := []health.Checker{health.Ping("words", a.providers.Words)}
	for _, tr := range append([]NamedTranscriber{a.providers.STT}, a.providers.STTFallbacks...) {
		if p, ok := tr.Transcriber.(health.Pinger); ok {
			checks = append(checks, health.Checker{Name: "stt:" + tr.Name, Check: p.Ping, Optional: true})
		}
	}
	if p, ok := a.providers.Results.(health.Pinger); ok {
		checks = append(checks, health.Checker{Name: "results", Check: p.Ping, Optional: true})
	}
	checks = append(checks, health.Checker{
		Name:     "stt_breakers",
		Optional: true,
		Check: func(context.Context) error {
			for _, st := range a.transcriber.Status() {
				if st.State == resilience.StateClosed.String() {
					return nil
				}
			}
			return errors.New("every transcription backend is open")
		},
	})
	a.health = health.New(checks...)
}

// newSession is the server's session factory. Each connection gets its own
// classifier and segmenter; the word store, transcriber chain and current
// tuning are shared.
func (a *App) newSession(sink recitation.Sink) (*recitation.Session, error) {
	t := a.tuning.Load()
	if a.providers.Results != nil {
		sink = results.Tap(sink, a.providers.Results, a.log)
	}
	segCfg := a.cfg.Segmenter
	cls, err := a.providers.VAD.NewSession(segCfg.VADConfig(a.cfg.VAD.AggressivenessLevel()))
	if err != nil {
		return nil, fmt.Errorf("app: vad session: %w", err)
	}
	seg, err := segment.New(cls, segCfg)
	if err != nil {
		_ = cls.Close()
		return nil, fmt.Errorf("app: segmenter: %w", err)
	}
	opts := []recitation.Option{
		recitation.WithMaxAttempts(t.session.Attempts()),
		recitation.WithLogger(a.log),
		recitation.WithMetrics(a.metrics),
		recitation.WithPrompt(t.session.Prompt),
	}
	if t.session.Language != "" {
		opts = append(opts, recitation.WithLanguage(t.session.Language))
	}
	s, err := recitation.New(recitation.Deps{
		Words:       a.providers.Words,
		Normalizer:  t.normalizer,
		Transcriber: a.stt,
		Scorer:      t.scorer,
		Segmenter:   seg,
		Sink:        sink,
	}, opts...)
	if err != nil {
		_ = seg.Close()
		return nil, err
	}
	return s, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Server returns the HTTP and WebSocket front end.
func (a *App) Server() *server.Server { return a.server }

// TranscriberStatus reports the circuit state of every STT backend.
func (a *App) TranscriberStatus() []resilience.MemberStatus { return a.transcriber.Status() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. Live sessions keep
// their settings; new connections use next.
func (a *App) ApplyConfig(old, next *config.Config) error {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScoringChanged || d.SessionChanged || d.AudioChanged {
		merged := *a.cfg
		merged.Scoring, merged.Session, merged.Audio = next.Scoring, next.Session, next.Audio
		t, err := buildTuning(&merged)
		if err != nil {
			return fmt.Errorf("app: reload: %w", err)
		}
		a.tuning.Store(t)
		a.log.Info("recitation settings reloaded",
			"scoring", d.ScoringChanged, "session", d.SessionChanged, "audio", d.AudioChanged)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
	return nil
}

// ParseLevel maps a config log level onto slog. Unknown levels map to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and WebSocket traffic and blocks until ctx is cancelled or
// the listener fails. On cancellation it stops the server within the
// configured shutdown timeout and returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = server.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	a.log.Info("app running", "addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all sessions and subsystems in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type closer interface{ Close() error }

func closerFor(v any) func() error {
	if c, ok := v.(closer); ok {
		return c.Close
	}
	return func() error { return nil }
}

func tlsCert(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.CertFile
}

func tlsKey(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.KeyFile
}
