package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/tasmi/internal/app"
	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/internal/results"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/tasmi/pkg/provider/stt/openai"
	"github.com/MrWong99/tasmi/pkg/provider/stt/whisper"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
	"github.com/MrWong99/tasmi/pkg/provider/vad/energy"
	"github.com/MrWong99/tasmi/pkg/provider/vad/fixed"
	"github.com/MrWong99/tasmi/pkg/quran"
	"github.com/MrWong99/tasmi/pkg/quran/memstore"
	"github.com/MrWong99/tasmi/pkg/quran/postgres"
	"github.com/MrWong99/tasmi/pkg/quran/sqlite"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oastt.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "request_timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oastt.WithMaxRetries(n))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []deepgram.Option{deepgram.WithModel(entry.Model), deepgram.WithEndpoint(entry.BaseURL)}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := optInt(entry.Options, "concurrency"); ok {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(cfg config.VADConfig) (vad.Engine, error) {
		var opts []energy.Option
		if cfg.AdaptRate > 0 {
			opts = append(opts, energy.WithAdaptRate(cfg.AdaptRate))
		}
		return energy.New(opts...), nil
	})

	// fixed treats every frame as speech; useful for load tests.
	reg.RegisterVAD("fixed", func(config.VADConfig) (vad.Engine, error) {
		return fixed.Engine{}, nil
	})

	// ── Words ─────────────────────────────────────────────────────────────────

	reg.RegisterWords(config.WordsMemstore, func(context.Context, config.WordsConfig) (quran.Store, error) {
		return memstore.New(), nil
	})
	reg.RegisterWords(config.WordsSQLite, func(ctx context.Context, cfg config.WordsConfig) (quran.Store, error) {
		return sqlite.Open(ctx, cfg.Path)
	})
	reg.RegisterWords(config.WordsPostgres, func(ctx context.Context, cfg config.WordsConfig) (quran.Store, error) {
		return postgres.NewStore(ctx, cfg.DSN)
	})
}

// buildProviders instantiates every provider named in cfg using the registry.
// On error, providers created so far are closed.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	built := false
	defer func() {
		if !built {
			closeProviders(ps)
		}
	}()

	primary, err := reg.CreateSTT(cfg.Providers.STT.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = app.NamedTranscriber{Name: cfg.Providers.STT.Name, Transcriber: primary}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	for i, entry := range cfg.Providers.STT.Fallbacks {
		tr, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err)
		}
		// Distinct names keep breaker metrics apart when a provider repeats.
		name := entry.Name
		if name == cfg.Providers.STT.Name {
			name = fmt.Sprintf("%s#%d", entry.Name, i+1)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedTranscriber{Name: name, Transcriber: tr})
		slog.Info("provider created", "kind", "stt-fallback", "name", name)
	}

	if ps.VAD, err = reg.CreateVAD(cfg.VAD); err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.VAD.Engine, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Engine)

	if ps.Words, err = app.OpenWords(ctx, cfg.Words, reg, slog.Default()); err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "words", "name", cfg.Words.Backend)

	if r := cfg.Results; r != nil {
		pub, err := results.Connect(results.Config{
			Servers:        r.Servers,
			Subject:        r.Subject,
			Username:       r.Username,
			Password:       r.Password,
			Token:          r.Token,
			ConnectTimeout: r.ConnectTimeout,
		}, slog.Default())
		if err != nil {
			return nil, err
		}
		ps.Results = pub
	}
	built = true
	return ps, nil
}

// closeProviders releases whatever buildProviders managed to create.
func closeProviders(ps *app.Providers) {
	if ps == nil {
		return
	}
	var errs []error
	if ps.Words != nil {
		errs = append(errs, ps.Words.Close())
	}
	if c, ok := ps.Results.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	for _, tr := range append([]app.NamedTranscriber{ps.STT}, ps.STTFallbacks...) {
		if c, ok := tr.Transcriber.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("close providers", "err", err)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

// optDuration extracts a duration written as "30s" or as whole seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	if s := optString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("invalid duration option", "key", key, "value", s, "err", err)
			return 0
		}
		return d
	}
	if n, ok := optInt(opts, key); ok {
		return time.Duration(n) * time.Second
	}
	return 0
}
