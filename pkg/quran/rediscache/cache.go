// Package rediscache wraps a [quran.Store] with a read-through Redis cache.
//
// Words are stored as JSON under "<prefix><surah>:<ayah>" with a TTL.
// Misses (unknown ayahs) are never cached. Redis failures are logged and
// the request falls through to the backend, so a cache outage degrades
// latency but not correctness.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/tasmi/pkg/quran"
)

const (
	defaultPrefix = "tasmi:words:"
	defaultTTL    = 24 * time.Hour
)

var (
	_ quran.Store  = (*Cache)(nil)
	_ quran.Seeder = (*Cache)(nil)
)

// Config holds the connection settings used by [Dial].
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("rediscache: redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediscache: redis ping failed: %w", err)
	}
	return client, nil
}

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL sets the entry lifetime. Default: 24h.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithPrefix sets the key prefix. Default: "tasmi:words:".
func WithPrefix(p string) Option {
	return func(c *Cache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithLogger sets the logger for cache failures. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache is a read-through cache in front of another store. Close closes
// both the backend and the Redis client.
type Cache struct {
	next   quran.Store
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// New wraps next with a cache on client.
func New(next quran.Store, client *redis.Client, opts ...Option) (*Cache, error) {
	if next == nil {
		return nil, errors.New("rediscache: backend store must not be nil")
	}
	if client == nil {
		return nil, errors.New("rediscache: redis client must not be nil")
	}
	c := &Cache{
		next:   next,
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) key(surah, ayah int) string {
	return fmt.Sprintf("%s%d:%d", c.prefix, surah, ayah)
}

// AyahWords implements [quran.Store].
func (c *Cache) AyahWords(ctx context.Context, surah, ayah int) ([]quran.Word, error) {
	k := c.key(surah, ayah)
	raw, err := c.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var words []quran.Word
		if jerr := json.Unmarshal(raw, &words); jerr == nil && len(words) > 0 {
			return words, nil
		}
		c.log.Warn("rediscache: dropping corrupt entry", "key", k)
		_ = c.client.Del(ctx, k).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("rediscache: get failed, reading backend", "key", k, "err", err)
	}

	words, err := c.next.AyahWords(ctx, surah, ayah)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(words)
	if err != nil {
		return words, nil
	}
	if err := c.client.Set(ctx, k, data, c.ttl).Err(); err != nil {
		c.log.Warn("rediscache: set failed", "key", k, "err", err)
	}
	return words, nil
}

// Invalidate removes the cached entry for surah:ayah.
func (c *Cache) Invalidate(ctx context.Context, surah, ayah int) error {
	return c.client.Del(ctx, c.key(surah, ayah)).Err()
}

// Seed implements [quran.Seeder] when the backend does, then invalidates
// the affected entries.
func (c *Cache) Seed(ctx context.Context, surah quran.Surah, ayahs ...quran.Ayah) error {
	s, ok := c.next.(quran.Seeder)
	if !ok {
		return fmt.Errorf("rediscache: backend %T is read-only", c.next)
	}
	if err := s.Seed(ctx, surah, ayahs...); err != nil {
		return err
	}
	var errs []error
	for _, a := range ayahs {
		if err := c.Invalidate(ctx, a.Surah, a.Number); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping implements [quran.Store]. Only the backend is checked; the cache is
// optional for correctness.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.log.Warn("rediscache: ping failed", "err", err)
	}
	return c.next.Ping(ctx)
}

// Close implements [quran.Store].
func (c *Cache) Close() error {
	return errors.Join(c.next.Close(), c.client.Close())
}
