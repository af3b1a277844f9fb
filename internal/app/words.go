package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/pkg/quran"
	"github.com/MrWong99/tasmi/pkg/quran/rediscache"
)

// OpenWords opens the configured word store through reg, imports the
// configured fixtures and wraps the result in the Redis cache when one is
// configured. On error every resource opened so far is closed.
func OpenWords(ctx context.Context, cfg config.WordsConfig, reg *config.Registry, log *slog.Logger) (quran.Store, error) {
	if log == nil {
		log = slog.Default()
	}
	store, err := reg.CreateWords(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: open words %q: %w", cfg.Backend, err)
	}

	if err := seedWords(ctx, store, cfg, log); err != nil {
		return nil, errors.Join(err, store.Close())
	}

	if cfg.Cache == nil {
		return store, nil
	}
	client, err := rediscache.Dial(ctx, rediscache.Config{
		Addr:     cfg.Cache.Addr,
		Username: cfg.Cache.Username,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: words cache: %w", err), store.Close())
	}
	opts := []rediscache.Option{rediscache.WithLogger(log)}
	if cfg.Cache.TTL > 0 {
		opts = append(opts, rediscache.WithTTL(cfg.Cache.TTL))
	}
	if cfg.Cache.Prefix != "" {
		opts = append(opts, rediscache.WithPrefix(cfg.Cache.Prefix))
	}
	cached, err := rediscache.New(store, client, opts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: words cache: %w", err), client.Close(), store.Close())
	}
	log.Info("word cache enabled", "addr", cfg.Cache.Addr)
	return cached, nil
}

func seedWords(ctx context.Context, store quran.Store, cfg config.WordsConfig, log *slog.Logger) error {
	if !cfg.SeedSample && len(cfg.Fixtures) == 0 {
		return nil
	}
	seeder, ok := store.(quran.Seeder)
	if !ok {
		return fmt.Errorf("app: words backend %q is read-only; cannot import fixtures", cfg.Backend)
	}
	if cfg.SeedSample {
		n, err := quran.Import(ctx, seeder, quran.SampleFixtures())
		if err != nil {
			return fmt.Errorf("app: seed sample: %w", err)
		}
		log.Info("seeded sample ayahs", "ayahs", n)
	}
	for _, path := range cfg.Fixtures {
		ff, err := quran.LoadFixtureFile(path)
		if err != nil {
			return fmt.Errorf("app: fixtures: %w", err)
		}
		n, err := quran.Import(ctx, seeder, ff)
		if err != nil {
			return fmt.Errorf("app: import %q: %w", path, err)
		}
		log.Info("imported fixtures", "path", path, "ayahs", n)
	}
	return nil
}
