package redis

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// defaultTTL keeps cached prices well inside the fast monitor interval so a
// stale entry is never reused across a full cycle.
const defaultTTL = 5 * time.Second

// CachedPriceFeed decorates a PriceFeed with a short-lived Redis cache. Each
// mint's price is stored at key "price:{mint}" with a TTL, so concurrent bot
// instances sharing one Redis reuse a single upstream fetch.
type CachedPriceFeed struct {
	rdb    *redis.Client
	inner  domain.PriceFeed
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedPriceFeed wraps inner with the cache. ttl <= 0 falls back to the
// default.
func NewCachedPriceFeed(c *Client, inner domain.PriceFeed, ttl time.Duration, logger *slog.Logger) *CachedPriceFeed {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CachedPriceFeed{
		rdb:    c.Underlying(),
		inner:  inner,
		ttl:    ttl,
		logger: logger.With("component", "price_cache"),
	}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// Prices returns prices for the given mints, serving from Redis where
// possible and falling through to the inner feed for the rest. Cache errors
// degrade to a plain upstream fetch.
func (f *CachedPriceFeed) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	out := make(map[string]float64, len(mints))
	missing := mints

	if cached, err := f.lookup(ctx, mints); err != nil {
		f.logger.Warn("cache lookup failed", "error", err)
	} else {
		missing = nil
		for _, mint := range mints {
			if price, ok := cached[mint]; ok {
				out[mint] = price
			} else {
				missing = append(missing, mint)
			}
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := f.inner.Prices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for mint, price := range fetched {
		out[mint] = price
	}
	f.store(ctx, fetched)

	return out, nil
}

// lookup reads cached prices with a pipeline. Mints without a live key are
// omitted from the result.
func (f *CachedPriceFeed) lookup(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	pipe := f.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(mints))
	for _, mint := range mints {
		cmds[mint] = pipe.Get(ctx, priceKey(mint))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[string]float64, len(mints))
	for mint, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			continue
		}
		out[mint] = price
	}
	return out, nil
}

// store writes freshly fetched prices back with the configured TTL. Failures
// are logged only.
func (f *CachedPriceFeed) store(ctx context.Context, prices map[string]float64) {
	if len(prices) == 0 {
		return
	}

	pipe := f.rdb.Pipeline()
	for mint, price := range prices {
		pipe.Set(ctx, priceKey(mint), strconv.FormatFloat(price, 'f', -1, 64), f.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		f.logger.Warn("cache store failed", "error", err)
	}
}

var _ domain.PriceFeed = (*CachedPriceFeed)(nil)
