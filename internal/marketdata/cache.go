package marketdata

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/metrics"
	"github.com/rewired-gh/mftrend/internal/models"
)

// Fetcher is anything that can produce bars for a symbol.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol, period string) ([]models.Bar, error)
}

// BarCache stores bars keyed by (symbol, period). Implementations must be
// safe for concurrent use.
type BarCache interface {
	LoadBars(ctx context.Context, symbol, period string, maxAge time.Duration) ([]models.Bar, bool, error)
	SaveBars(ctx context.Context, symbol, period string, bars []models.Bar) error
}

// CachedSource serves bars from cache when fresh and collapses concurrent
// misses for the same key into one upstream fetch.
type CachedSource struct {
	upstream Fetcher
	cache    BarCache
	ttl      time.Duration
	group    singleflight.Group
}

// NewCachedSource wraps upstream. A nil cache disables caching.
func NewCachedSource(upstream Fetcher, cache BarCache, ttl time.Duration) *CachedSource {
	return &CachedSource{upstream: upstream, cache: cache, ttl: ttl}
}

func (s *CachedSource) FetchBars(ctx context.Context, symbol, period string) ([]models.Bar, error) {
	if s.cache == nil {
		return s.upstream.FetchBars(ctx, symbol, period)
	}

	bars, ok, err := s.cache.LoadBars(ctx, symbol, period, s.ttl)
	switch {
	case err != nil:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheError).Inc()
		logger.Warn("Cache lookup failed for %s/%s: %v", symbol, period, err)
	case ok:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheHit).Inc()
		return bars, nil
	default:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheMiss).Inc()
	}

	v, err, _ := s.group.Do(symbol+"|"+period, func() (interface{}, error) {
		// a fetch that finished between the lookup and here has filled the cache
		if cached, ok, err := s.cache.LoadBars(ctx, symbol, period, s.ttl); err == nil && ok {
			return cached, nil
		}
		fetched, err := s.upstream.FetchBars(ctx, symbol, period)
		if err != nil {
			return nil, err
		}
		if len(fetched) > 0 {
			if err := s.cache.SaveBars(ctx, symbol, period, fetched); err != nil {
				logger.Warn("Failed to cache bars for %s/%s: %v", symbol, period, err)
			}
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Bar), nil
}
