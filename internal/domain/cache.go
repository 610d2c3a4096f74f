package domain

import (
	"context"
	"time"
)

// PriceCache holds the last traded price seen on the feed per asset. Reads
// of an unknown asset return ErrNotFound.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// OrderbookCache stores the last evaluated orderbook per asset.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, assetID string, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, assetID string) (OrderbookSnapshot, error)
}

// RateLimiter is a sliding-window limiter shared by every process that
// talks to the venue or serves the API.
type RateLimiter interface {
	// Allow records one hit on key and reports whether it fits in window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until key admits a hit under the limiter's default limit.
	Wait(ctx context.Context, key string) error
}

// LockManager hands out expiring leases. Acquire fails with ErrLockHeld
// when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus fans events out to other processes. Publish is fire-and-forget;
// StreamAppend keeps a capped durable history.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
