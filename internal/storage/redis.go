package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/rewired-gh/mftrend/internal/models"
)

const redisKeyPrefix = "mftrend:bars:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long Redis keeps an entry; LoadBars still applies its
	// own maxAge.
	TTL time.Duration
}

// RedisCache stores fetched bars in Redis so several processes can share one
// cache.
type RedisCache struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

type cachedBars struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Bars      []models.Bar `json:"bars"`
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(client, cfg.TTL), nil
}

func newRedisCache(client *goredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, now: time.Now}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func barsKey(symbol, period string) string {
	return redisKeyPrefix + symbol + ":" + period
}

func (r *RedisCache) LoadBars(ctx context.Context, symbol, period string, maxAge time.Duration) ([]models.Bar, bool, error) {
	raw, err := r.client.Get(ctx, barsKey(symbol, period)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var entry cachedBars
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached bars: %w", err)
	}
	if r.now().Sub(entry.FetchedAt) > maxAge {
		return nil, false, nil
	}
	return entry.Bars, true, nil
}

func (r *RedisCache) SaveBars(ctx context.Context, symbol, period string, bars []models.Bar) error {
	raw, err := json.Marshal(cachedBars{FetchedAt: r.now(), Bars: bars})
	if err != nil {
		return fmt.Errorf("failed to encode bars: %w", err)
	}
	if err := r.client.Set(ctx, barsKey(symbol, period), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
