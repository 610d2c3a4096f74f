package domain

import "time"

// EventType names a host-visible event.
type EventType string

const (
	EventOpportunity      EventType = "opportunity"
	EventTradeExecuted    EventType = "trade_executed"
	EventTradeFailed      EventType = "trade_failed"
	EventPositionOpened   EventType = "position_opened"
	EventPositionResolved EventType = "position_resolved"
	EventFeedConnected    EventType = "feed_connected"
	EventFeedDisconnected EventType = "feed_disconnected"
	EventFeedExhausted    EventType = "feed_exhausted"
)

// Event is emitted to the embedding process. Only the fields relevant to
// Type are set.
type Event struct {
	Type        EventType    `json:"type"`
	Time        time.Time    `json:"time"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Trade       *Trade       `json:"trade,omitempty"`
	Position    *Position    `json:"position,omitempty"`
	PnL         float64      `json:"pnl,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// EventSink receives host events. Implementations must not block for long.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

// Emit calls f(ev).
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// Status is a summary of the bot's current operational state.
type Status struct {
	Mode          string       `json:"mode"`
	FeedConnected bool         `json:"feed_connected"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Watched       int          `json:"watched_markets"`
	QueueDepth    int          `json:"queue_depth"`
	OpenPositions int          `json:"open_positions"`
	Exposure      float64      `json:"exposure"`
	DailyPnL      float64      `json:"daily_pnl"`
	Stats         TradingStats `json:"stats"`
}
