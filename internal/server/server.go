// Package server exposes recitation sessions over WebSocket.
//
// Each connection owns one [recitation.Session]. Text messages carry JSON
// control messages (init, reset); binary messages carry raw PCM frames that
// are fed to the session in arrival order. Session events are written back
// as JSON text messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/tasmi/internal/health"
	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/recitation"
)

// Route paths.
const (
	PathRoot       = "/"
	PathLiveRecite = "/ws/live-recite"
	PathMetrics    = "/metrics"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultReadLimit       = 1 << 20
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultQueueLength bounds the messages read ahead of the session,
	// roughly 15 s of audio.
	DefaultQueueLength = 512
)

// SessionFactory builds a fresh session that reports to sink.
type SessionFactory func(sink recitation.Sink) (*recitation.Session, error)

// Config holds the listener settings.
type Config struct {
	Addr    string
	Version string

	// OriginPatterns restricts WebSocket origins. Empty allows any origin.
	OriginPatterns []string

	ReadLimit    int64
	WriteTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg            Config
	factory        SessionFactory
	registry       *Registry
	health         *health.Handler
	metricsHandler http.Handler
	log            *slog.Logger
	metrics        *observe.Metrics

	mu       sync.Mutex
	httpSrv  *http.Server
	stopping bool
}

// New returns a Server. factory is required.
func New(cfg Config, factory SessionFactory, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.New("server: session factory is required")
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	s := &Server{cfg: cfg, factory: factory, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.registry = NewRegistry(s.metrics)
	return s, nil
}

// Registry returns the live connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the full route tree wrapped in CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathLiveRecite, s.handleLiveRecite)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET "+PathMetrics, s.metricsHandler)
	}
	return cors(observe.Middleware(s.metrics)(mux))
}

// ListenAndServe serves until ctx is cancelled or [Server.Shutdown] is
// called. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	if s.httpSrv != nil {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	srv := s.httpSrv
	s.mu.Unlock()

	var err error
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.log.Info("server listening", "addr", s.cfg.Addr, "path", PathLiveRecite, "tls", true)
		err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		s.log.Info("server listening", "addr", s.cfg.Addr, "path", PathLiveRecite)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and tears down every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	srv := s.httpSrv
	s.mu.Unlock()

	var errs []error
	if err := s.registry.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("server: close sessions: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("server: http shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

type rootInfo struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rootInfo{
		Message: "Quran Recitation API",
		Status:  "running",
		Version: s.cfg.Version,
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLiveRecite(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: s.cfg.WriteTimeout,
		ctx:          ctx,
	}
	c.log = observe.LoggerFrom(ctx, s.log).With("conn_id", c.id, "remote", r.RemoteAddr)

	if err := c.replace(s.factory); err != nil {
		c.log.Error("create session", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	info := ConnInfo{ID: c.id, Remote: r.RemoteAddr, StartedAt: time.Now()}
	if err := s.registry.Add(info, c, cancel); err != nil {
		_ = c.Teardown()
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.registry.Remove(c.id)
	defer func() { _ = c.Teardown() }()

	c.log.Info("connection opened")
	s.serve(ctx, c)
}

// inbound is one message read from the client.
type inbound struct {
	typ  websocket.MessageType
	data []byte
}

// serve is the per-connection dispatch loop. Frames are fed sequentially so
// at most one transcription is in flight for the session, while readPump
// keeps reading so a disconnect is noticed mid-transcription.
func (s *Server) serve(ctx context.Context, c *conn) {
	pumpCtx, stopPump := context.WithCancel(ctx)
	msgs := make(chan inbound, DefaultQueueLength)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.readPump(pumpCtx, msgs)
	}()
	defer func() {
		stopPump()
		_ = c.ws.CloseNow()
		<-pumpDone
	}()

	for {
		var m inbound
		select {
		case <-ctx.Done():
			return
		case next, ok := <-msgs:
			if !ok {
				return
			}
			m = next
		}

		switch m.typ {
		case websocket.MessageText:
			s.handleControl(ctx, c, m.data)
		case websocket.MessageBinary:
			err := c.session().Feed(ctx, m.data)
			switch {
			case err == nil, errors.Is(err, recitation.ErrNotActive):
			case errors.Is(err, recitation.ErrClosed):
				_ = c.ws.Close(websocket.StatusGoingAway, "session closed")
				return
			default:
				c.log.Warn("feed failed", "err", err)
			}
		}

		if c.completed.Load() {
			c.log.Info("session complete, closing connection")
			_ = c.ws.Close(websocket.StatusNormalClosure, "session complete")
			return
		}
	}
}

func (s *Server) handleControl(ctx context.Context, c *conn, data []byte) {
	msg, err := DecodeControl(data)
	if err != nil {
		c.log.Debug("bad control message", "err", err)
		c.writeRaw(encodeProtocolError(err.Error()))
		return
	}
	switch msg.Type {
	case TypeInit:
		if err := c.session().Init(ctx, msg.Surah, msg.Ayah); err != nil {
			c.log.Warn("init failed", "surah", msg.Surah, "ayah", msg.Ayah, "err", err)
			c.writeRaw(encodeProtocolError(err.Error()))
			return
		}
		c.log.Info("session initialised", "surah", msg.Surah, "ayah", msg.Ayah)
	case TypeReset:
		if err := c.replace(s.factory); err != nil {
			c.log.Error("reset session", "err", err)
			c.writeRaw(encodeProtocolError("reset failed"))
			return
		}
		c.log.Info("session reset")
	}
}

// conn is one WebSocket connection and its current session.
type conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	ctx          context.Context
	log          *slog.Logger

	mu   sync.Mutex
	sess *recitation.Session

	completed atomic.Bool
}

var _ recitation.Sink = (*conn)(nil)

func (c *conn) session() *recitation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// replace tears down the current session, if any, and starts a new one in
// the awaiting-init state.
func (c *conn) replace(factory SessionFactory) error {
	next, err := factory(c)
	if err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.sess
	c.sess = next
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Teardown(); err != nil {
			c.log.Warn("teardown previous session", "err", err)
		}
	}
	return nil
}

// Send implements [recitation.Sink]. It writes synchronously so events reach
// the client in the order the session produced them.
func (c *conn) Send(ev recitation.Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		c.log.Error("encode event", "kind", ev.Kind(), "err", err)
		return
	}
	c.writeRaw(data)
	if _, ok := ev.(recitation.SessionComplete); ok {
		c.completed.Store(true)
	}
}

func (c *conn) writeRaw(data []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("write failed", "err", err)
	}
}

// Teardown tears down the current session. The transport is closed by the
// read loop or by the registry closer.
func (c *conn) Teardown() error {
	s := c.session()
	if s == nil {
		return nil
	}
	return s.Teardown()
}

// readPump reads until the connection fails, then tears the current session
// down so an in-flight transcription is cancelled at once.
func (c *conn) readPump(ctx context.Context, out chan<- inbound) {
	defer close(out)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.logClose(err)
			if terr := c.Teardown(); terr != nil {
				c.log.Debug("teardown after disconnect", "err", terr)
			}
			return
		}
		select {
		case out <- inbound{typ: typ, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *conn) logClose(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.log.Info("connection closed by client")
	default:
		if errors.Is(err, context.Canceled) {
			c.log.Info("connection cancelled")
			return
		}
		c.log.Warn("connection read failed", "err", err)
	}
}
