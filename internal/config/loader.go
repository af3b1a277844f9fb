package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
	"vad": {"energy", "fixed"},
}

// Environment variables consulted when the matching field is empty.
const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvDeepgramKey = "DEEPGRAM_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it reads ".env" in the working
// directory.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// A .env file next to the config and one in the working directory are loaded
// first so ${VAR} references can resolve against them.
func Load(path string) (*Config, error) {
	envFiles := []string{".env"}
	if dir := filepath.Join(filepath.Dir(path), ".env"); dir != ".env" {
		envFiles = append(envFiles, dir)
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvFallbacks(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	for provider, env := range map[string]string{"openai": EnvOpenAIKey, "deepgram": EnvDeepgramKey} {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		if cfg.Providers.STT.Name == provider && cfg.Providers.STT.APIKey == "" {
			cfg.Providers.STT.APIKey = key
		}
		for i := range cfg.Providers.STT.Fallbacks {
			fb := &cfg.Providers.STT.Fallbacks[i]
			if fb.Name == provider && fb.APIKey == "" {
				fb.APIKey = key
			}
		}
	}
	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" && cfg.Words.Backend == WordsPostgres && cfg.Words.DSN == "" {
		cfg.Words.DSN = dsn
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("server.read_limit must not be negative, got %d", cfg.Server.ReadLimit))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must not be negative, got %s", cfg.Server.WriteTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.HeadroomDB < 0 {
		errs = append(errs, fmt.Errorf("audio.headroom_db must not be negative, got %.2f", cfg.Audio.HeadroomDB))
	}

	// VAD and segmenter
	validateProviderName("vad", cfg.VAD.Engine)
	if a := cfg.VAD.AggressivenessLevel(); a < 0 || a > vad.MaxAggressiveness {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, %d]", a, vad.MaxAggressiveness))
	}
	if cfg.VAD.AdaptRate < 0 || cfg.VAD.AdaptRate > 1 {
		errs = append(errs, fmt.Errorf("vad.adapt_rate %.3f is out of range [0, 1]", cfg.VAD.AdaptRate))
	}
	if err := cfg.Segmenter.WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("segmenter: %w", err))
	}

	// Scoring
	switch scoring.Strategy(cfg.Scoring.Strategy) {
	case "", scoring.StrategySequence, scoring.StrategyLCS:
	default:
		errs = append(errs, fmt.Errorf("scoring.strategy %q is invalid; valid values: sequence, lcs", cfg.Scoring.Strategy))
	}
	switch scoring.Locale(cfg.Scoring.Locale) {
	case "", scoring.LocaleArabic, scoring.LocaleEnglish:
	default:
		errs = append(errs, fmt.Errorf("scoring.locale %q is invalid; valid values: ar, en", cfg.Scoring.Locale))
	}

	// Session
	if cfg.Session.Attempts() < 0 {
		errs = append(errs, fmt.Errorf("session.max_attempts must not be negative, got %d", cfg.Session.Attempts()))
	}

	// Providers
	stt := cfg.Providers.STT
	if stt.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", stt.Name)
	if stt.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.stt.timeout must not be negative, got %s", stt.Timeout))
	}
	for i, fb := range stt.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt.fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cb := stt.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.stt.circuit_breaker values must not be negative"))
	}
	if stt.Name == "openai" && stt.APIKey == "" {
		slog.Warn("providers.stt uses openai without an api_key; set " + EnvOpenAIKey)
	}
	if stt.Name == "deepgram" && stt.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.stt.api_key is required for deepgram (or set %s)", EnvDeepgramKey))
	}

	// Results
	if r := cfg.Results; r != nil {
		if len(r.Servers) == 0 {
			errs = append(errs, errors.New("results.servers is required when results is set"))
		}
		if r.ConnectTimeout < 0 {
			errs = append(errs, fmt.Errorf("results.connect_timeout must not be negative, got %s", r.ConnectTimeout))
		}
	}

	// Words
	if cfg.Words.Backend != "" && !cfg.Words.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("words.backend %q is invalid; valid values: memstore, sqlite, postgres", cfg.Words.Backend))
	}
	if cfg.Words.Backend == WordsPostgres && cfg.Words.DSN == "" {
		errs = append(errs, fmt.Errorf("words.dsn is required when backend is postgres (or set %s)", EnvDatabaseURL))
	}
	if cfg.Words.Backend == WordsSQLite && cfg.Words.Path == "" {
		errs = append(errs, errors.New("words.path is required when backend is sqlite"))
	}
	if c := cfg.Words.Cache; c != nil {
		if c.Addr == "" {
			errs = append(errs, errors.New("words.cache.addr is required when the cache is enabled"))
		}
		if c.TTL < 0 {
			errs = append(errs, fmt.Errorf("words.cache.ttl must not be negative, got %s", c.TTL))
		}
	}
	if (cfg.Words.Backend == "" || cfg.Words.Backend == WordsMemstore) && !cfg.Words.SeedSample && len(cfg.Words.Fixtures) == 0 {
		slog.Warn("words backend is memstore with no fixtures and seed_sample off; every init will fail")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
