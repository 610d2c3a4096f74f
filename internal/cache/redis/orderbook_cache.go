package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache. Each asset keeps the
// last evaluated snapshot as JSON plus a best-bid/offer hash for cheap
// reads:
//
//	book:{assetID}      - JSON snapshot
//	book:{assetID}:bbo  - hash with "bid", "ask", "ask_size" and "ts"
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. A positive ttl expires
// snapshots that stop being refreshed.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.rdb, ttl: ttl}
}

func bookKey(assetID string) string    { return "book:" + assetID }
func bookBBOKey(assetID string) string { return "book:" + assetID + ":bbo" }

// SetSnapshot replaces the stored snapshot atomically.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", assetID, err)
	}

	bbo := map[string]any{"ts": strconv.FormatInt(snap.Timestamp.UnixNano(), 10)}
	if bid, ok := snap.BestBid(); ok {
		bbo["bid"] = strconv.FormatFloat(bid.Price, 'f', -1, 64)
	}
	if ask, ok := snap.BestAsk(); ok {
		bbo["ask"] = strconv.FormatFloat(ask.Price, 'f', -1, 64)
		bbo["ask_size"] = strconv.FormatFloat(ask.Size, 'f', -1, 64)
	}

	pipe := oc.rdb.TxPipeline()
	pipe.Set(ctx, bookKey(assetID), body, oc.ttl)
	pipe.Del(ctx, bookBBOKey(assetID))
	pipe.HSet(ctx, bookBBOKey(assetID), bbo)
	if oc.ttl > 0 {
		pipe.Expire(ctx, bookBBOKey(assetID), oc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot returns domain.ErrNotFound when nothing is cached.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	body, err := oc.rdb.Get(ctx, bookKey(assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book %s: %w", assetID, err)
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", assetID, err)
	}
	return snap, nil
}

// BestAsk reads the cached best ask without decoding the full book.
func (oc *OrderbookCache) BestAsk(ctx context.Context, assetID string) (price, size float64, err error) {
	vals, err := oc.rdb.HMGet(ctx, bookBBOKey(assetID), "ask", "ask_size").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	p, ok1 := vals[0].(string)
	s, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, 0, domain.ErrNotFound
	}
	if price, err = strconv.ParseFloat(p, 64); err != nil {
		return 0, 0, fmt.Errorf("redis: parse ask %s: %w", assetID, err)
	}
	if size, err = strconv.ParseFloat(s, 64); err != nil {
		return 0, 0, fmt.Errorf("redis: parse ask size %s: %w", assetID, err)
	}
	return price, size, nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
