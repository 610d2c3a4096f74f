package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// wireMessage covers every market channel frame the feed understands. The
// venue sends either a single object or an array of them.
type wireMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`

	// book
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
	Buys    []wireLevel `json:"buys"`
	Sells   []wireLevel `json:"sells"`
	MinSize string      `json:"min_order_size"`
	Tick    string      `json:"tick_size"`

	// price_change
	PriceChanges []wirePriceChange `json:"price_changes"`
	Changes      []wirePriceChange `json:"changes"`

	// last_trade_price
	Price string `json:"price"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wirePriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// parseMessage converts one raw frame into feed events. Unparseable or
// unknown frames yield nothing.
func parseMessage(raw []byte) []Event {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var msgs []wireMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil
		}
	} else {
		var m wireMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		msgs = []wireMessage{m}
	}

	var out []Event
	for i := range msgs {
		out = append(out, toEvents(&msgs[i])...)
	}
	return out
}

func toEvents(m *wireMessage) []Event {
	ts := parseTimestamp(m.Timestamp)

	switch m.EventType {
	case "book":
		return []Event{{Kind: EventBookUpdate, Book: toSnapshot(m, ts), Time: ts}}

	case "price_change":
		changes := m.PriceChanges
		if len(changes) == 0 {
			changes = m.Changes
		}
		var out []Event
		for _, c := range changes {
			assetID := c.AssetID
			if assetID == "" {
				assetID = m.AssetID
			}
			// Prefer the resulting best ask: that is the price a buyer pays.
			price, ok := parseFloat(c.BestAsk)
			if !ok || price <= 0 {
				price, ok = parseFloat(c.Price)
			}
			if !ok || assetID == "" {
				continue
			}
			out = append(out, Event{
				Kind:  EventPriceChange,
				Price: domain.PriceChange{AssetID: assetID, Price: price, Timestamp: ts},
				Time:  ts,
			})
		}
		return out

	case "last_trade_price":
		price, ok := parseFloat(m.Price)
		if !ok || m.AssetID == "" {
			return nil
		}
		return []Event{{
			Kind:  EventPriceChange,
			Price: domain.PriceChange{AssetID: m.AssetID, Price: price, Timestamp: ts},
			Time:  ts,
		}}
	}
	return nil
}

func toSnapshot(m *wireMessage, ts time.Time) domain.OrderbookSnapshot {
	bids, asks := m.Bids, m.Asks
	if len(bids) == 0 {
		bids = m.Buys
	}
	if len(asks) == 0 {
		asks = m.Sells
	}
	snap := domain.OrderbookSnapshot{
		AssetID:   m.AssetID,
		MarketID:  m.Market,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: ts,
	}
	snap.MinOrderSize, _ = parseFloat(m.MinSize)
	snap.TickSize, _ = parseFloat(m.Tick)
	return snap
}

func toLevels(in []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, ok1 := parseFloat(l.Price)
		s, ok2 := parseFloat(l.Size)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// parseTimestamp accepts unix milliseconds, unix seconds or RFC3339.
func parseTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
