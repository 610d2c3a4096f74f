package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a full snapshot of bids and asks for an asset.
type OrderbookSnapshot struct {
	AssetID      string       `json:"asset_id"`
	MarketID     string       `json:"market_id,omitempty"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	MinOrderSize float64      `json:"min_order_size"`
	TickSize     float64      `json:"tick_size"`
	Timestamp    time.Time    `json:"timestamp"`
}

// BestAsk returns the lowest-priced ask level. The venue does not promise a
// sort order, so every level is inspected.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, l := range s.Asks {
		if l.Size <= 0 {
			continue
		}
		if !found || l.Price < best.Price {
			best = l
			found = true
		}
	}
	return best, found
}

// BestBid returns the highest-priced bid level.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, l := range s.Bids {
		if l.Size <= 0 {
			continue
		}
		if !found || l.Price > best.Price {
			best = l
			found = true
		}
	}
	return best, found
}

// PriceChange is a pushed price observation for an asset.
type PriceChange struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
