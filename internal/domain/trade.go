package domain

import "time"

// TradeStatus is the terminal state of a submitted trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusMatched   TradeStatus = "matched"
	TradeStatusConfirmed TradeStatus = "confirmed"
	TradeStatusFailed    TradeStatus = "failed"
)

// Trade is the executor's record of one order submission.
type Trade struct {
	ID        string      `json:"id"`
	MarketID  string      `json:"market_id"`
	TokenID   string      `json:"token_id"`
	Outcome   string      `json:"outcome,omitempty"`
	Side      OrderSide   `json:"side"`
	Price     float64     `json:"price"`
	Size      float64     `json:"size"`
	Timestamp time.Time   `json:"timestamp"`
	OrderID   string      `json:"order_id,omitempty"`
	Status    TradeStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}

// Cost is the notional paid for the trade.
func (t Trade) Cost() float64 {
	return t.Price * t.Size
}
