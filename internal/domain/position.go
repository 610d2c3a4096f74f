package domain

import "time"

// PositionStatus tracks the resolution lifecycle of a position.
type PositionStatus string

const (
	PositionStatusOpen              PositionStatus = "open"
	PositionStatusPendingResolution PositionStatus = "pending_resolution"
	PositionStatusResolvedWin       PositionStatus = "resolved_win"
	PositionStatusResolvedLoss      PositionStatus = "resolved_loss"
)

// Resolved reports whether the status is terminal.
func (s PositionStatus) Resolved() bool {
	return s == PositionStatusResolvedWin || s == PositionStatusResolvedLoss
}

// Position is created from a matched trade and only ever changes status.
// EntryPrice and Size are fixed at creation.
type Position struct {
	ID         string         `json:"id"`
	MarketID   string         `json:"market_id"`
	TokenID    string         `json:"token_id"`
	Outcome    string         `json:"outcome,omitempty"`
	EntryPrice float64        `json:"entry_price"`
	Size       float64        `json:"size"`
	OpenedAt   time.Time      `json:"opened_at"`
	Status     PositionStatus `json:"status"`
	PnL        float64        `json:"pnl"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Cost is the position's cost basis.
func (p Position) Cost() float64 {
	return p.EntryPrice * p.Size
}

// TradingStats are aggregate counters updated on every resolution.
type TradingStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalProfit   float64 `json:"total_profit"`
	TotalLoss     float64 `json:"total_loss"`
	WinRate       float64 `json:"win_rate"`
	AverageProfit float64 `json:"average_profit"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
}

// LedgerSnapshot is the full persisted state of the position ledger.
// DailyDate is the calendar day (YYYY-MM-DD) DailyPnL belongs to.
type LedgerSnapshot struct {
	Positions map[string]Position `json:"positions"`
	Stats     TradingStats        `json:"stats"`
	DailyPnL  float64             `json:"daily_pnl"`
	DailyDate string              `json:"daily_date"`
	SavedAt   time.Time           `json:"saved_at"`
}
