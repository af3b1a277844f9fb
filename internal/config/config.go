// Package config provides the configuration schema, loader, and provider registry
// for the Tasmi recitation server.
package config

import (
	"time"

	"github.com/MrWong99/tasmi/internal/segment"
	"github.com/MrWong99/tasmi/pkg/provider/vad/fixed"
)

// LogLevel controls log verbosity for the Tasmi server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// WordsBackend selects the word store implementation.
type WordsBackend string

const (
	WordsMemstore WordsBackend = "memstore"
	WordsSQLite   WordsBackend = "sqlite"
	WordsPostgres WordsBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b WordsBackend) IsValid() bool {
	switch b {
	case WordsMemstore, WordsSQLite, WordsPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for Tasmi.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Segmenter segment.Config  `yaml:"segmenter"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Session   SessionConfig   `yaml:"session"`
	Providers ProvidersConfig `yaml:"providers"`
	Words     WordsConfig     `yaml:"words"`
	Results   *ResultsConfig  `yaml:"results"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Version is reported by GET /.
	Version string `yaml:"version"`

	// AllowedOrigins restricts WebSocket origins (host patterns). Empty
	// accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ReadLimit caps the size of one inbound WebSocket message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// WriteTimeout bounds each outbound event write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig tunes segment normalization before transcription.
type AudioConfig struct {
	// HeadroomDB is the peak normalization target below full scale.
	// Default 0.1.
	HeadroomDB float64 `yaml:"headroom_db"`

	// DisablePeakNormalization sends segments at their recorded level.
	DisablePeakNormalization bool `yaml:"disable_peak_normalization"`
}

// VADConfig selects and tunes the frame classifier.
type VADConfig struct {
	// Engine selects the registered VAD engine (e.g., "energy").
	Engine string `yaml:"engine"`

	// Aggressiveness is in [0, 3]. Higher values treat more frames as
	// silence. Nil means 3.
	Aggressiveness *int `yaml:"aggressiveness"`

	// AdaptRate sets how fast the energy engine tracks the noise floor.
	AdaptRate float64 `yaml:"adapt_rate"`
}

// ScoringConfig selects the similarity strategy and feedback language.
type ScoringConfig struct {
	// Strategy is "sequence" (default) or "lcs".
	Strategy string `yaml:"strategy"`

	// Locale of feedback messages: "ar" (default) or "en".
	Locale string `yaml:"locale"`
}

// SessionConfig holds per-connection recitation settings.
type SessionConfig struct {
	// MaxAttempts bounds consecutive failed attempts on one word before it
	// is marked wrong and the session advances. Nil means 3; 0 retries
	// forever.
	MaxAttempts *int `yaml:"max_attempts"`

	// Language is the transcription language hint. Default "ar".
	Language string `yaml:"language"`

	// Prompt is an optional transcription prompt.
	Prompt string `yaml:"prompt"`
}

// ProvidersConfig declares the transcription backends.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
}

// STTConfig is the primary transcriber plus optional fallbacks.
type STTConfig struct {
	ProviderEntry `yaml:",inline"`

	// Timeout bounds one transcription call. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the breaker guarding each backend.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// For the whisper provider it is the whisper.cpp server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "whisper-1"). For
	// whisper-native it is the path to the GGML model file.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// WordsConfig selects the ayah word store.
type WordsConfig struct {
	// Backend is memstore (default), sqlite or postgres.
	Backend WordsBackend `yaml:"backend"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Fixtures lists YAML fixture files imported at startup.
	Fixtures []string `yaml:"fixtures"`

	// SeedSample imports the bundled Al-Fatihah sample at startup.
	SeedSample bool `yaml:"seed_sample"`

	// Cache enables a Redis read-through cache in front of the backend.
	Cache *CacheConfig `yaml:"cache"`
}

// CacheConfig configures the Redis word cache.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// ResultsConfig enables publishing completed-session summaries to NATS.
type ResultsConfig struct {
	Servers        []string      `yaml:"servers"`
	Subject        string        `yaml:"subject"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// TelemetryConfig controls the OpenTelemetry providers.
type TelemetryConfig struct {
	// Environment is attached as deployment.environment.name.
	Environment string `yaml:"environment"`

	// StdoutTraces pretty-prints spans to stdout.
	StdoutTraces bool `yaml:"stdout_traces"`

	// OTLPEndpoint exports spans to an OTLP/gRPC collector, e.g.
	// "otel-collector:4317".
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// DisableMetricsEndpoint hides GET /metrics.
	DisableMetricsEndpoint bool `yaml:"disable_metrics_endpoint"`
}

// Defaults for optional fields.
const (
	DefaultListenAddr      = ":8000"
	DefaultVersion         = "1.0"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultVADEngine       = "energy"
	DefaultMaxAttempts     = 3
)

// ApplyDefaults fills unset optional fields in place.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultVersion
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.VAD.Engine == "" {
		c.VAD.Engine = DefaultVADEngine
	}
	if c.Words.Backend == "" {
		c.Words.Backend = WordsMemstore
	}
	c.Segmenter = c.Segmenter.WithDefaults()
	// The fixed classifier never reports silence, so without a cap a
	// segment would never end.
	if c.VAD.Engine == "fixed" && c.Segmenter.MaxSegmentFrames == 0 {
		c.Segmenter.MaxSegmentFrames = fixed.DefaultFlushFrames
	}
}

// Attempts resolves the configured retry cap.
func (s SessionConfig) Attempts() int {
	if s.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *s.MaxAttempts
}

// AggressivenessLevel resolves the configured VAD aggressiveness.
func (v VADConfig) AggressivenessLevel() int {
	if v.Aggressiveness == nil {
		return 3
	}
	return *v.Aggressiveness
}
