package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"killsense/internal/config"
)

// Deduper reports whether a kill id was already seen inside the window.
// The same kill commonly arrives from several feeds.
type Deduper interface {
	Seen(ctx context.Context, killID int64, now time.Time) bool
	Close() error
}

type MemoryDeduper struct {
	mu     sync.Mutex
	window time.Duration
	items  map[int64]time.Time
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	return &MemoryDeduper{window: window, items: make(map[int64]time.Time)}
}

func (d *MemoryDeduper) Seen(_ context.Context, killID int64, now time.Time) bool {
	if d.window <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[killID]; ok && now.Sub(ts) <= d.window {
		return true
	}
	d.items[killID] = now
	if len(d.items) > 10000 {
		d.compact(now)
	}
	return false
}

func (d *MemoryDeduper) compact(now time.Time) {
	for k, ts := range d.items {
		if now.Sub(ts) > d.window {
			delete(d.items, k)
		}
	}
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *MemoryDeduper) Close() error { return nil }

// RedisDeduper shares the seen-set between instances with SET NX and a TTL
// of one window. Redis errors fall back to the local cache so an outage
// never stops ingestion.
type RedisDeduper struct {
	client   *redis.Client
	prefix   string
	window   time.Duration
	fallback *MemoryDeduper
	logger   *slog.Logger
}

func NewRedisDeduper(client *redis.Client, prefix string, window time.Duration, logger *slog.Logger) *RedisDeduper {
	return &RedisDeduper{
		client:   client,
		prefix:   prefix,
		window:   window,
		fallback: NewMemoryDeduper(window),
		logger:   logger,
	}
}

func (d *RedisDeduper) Seen(ctx context.Context, killID int64, now time.Time) bool {
	if d.window <= 0 {
		return false
	}
	key := d.prefix + strconv.FormatInt(killID, 10)
	set, err := d.client.SetNX(ctx, key, now.Unix(), d.window).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("redis dedupe failed, using local cache", "kill_id", killID, "err", err)
		}
		return d.fallback.Seen(ctx, killID, now)
	}
	// Keep the local view warm so a later outage does not replay recent kills.
	d.fallback.Seen(ctx, killID, now)
	return !set
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// NewDeduper picks the shared Redis cache when an address is configured.
func NewDeduper(cfg config.DedupeConfig, logger *slog.Logger) Deduper {
	if cfg.RedisAddr == "" {
		return NewMemoryDeduper(cfg.Window)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
	if logger != nil {
		logger.Info("redis dedupe enabled", "addr", cfg.RedisAddr, "window", cfg.Window.String())
	}
	return NewRedisDeduper(client, cfg.RedisPrefix, cfg.Window, logger)
}
