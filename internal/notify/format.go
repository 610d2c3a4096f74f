package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// FormatEvent renders an event as a title and a plain-text body.
func FormatEvent(ev domain.Event) (title, message string) {
	var b strings.Builder
	switch ev.Type {
	case domain.EventOpportunity:
		title = "Opportunity detected"
		if o := ev.Opportunity; o != nil {
			writeQuestion(&b, o.Question)
			fmt.Fprintf(&b, "Outcome: %s\n", o.Outcome)
			fmt.Fprintf(&b, "Ask: %.4f x %.2f\n", o.AskPrice, o.AskSize)
			fmt.Fprintf(&b, "Expected profit: $%.2f\n", o.ExpectedProfit)
			fmt.Fprintf(&b, "Market: %s", o.MarketID)
		}
	case domain.EventTradeExecuted:
		title = "Trade executed"
		if t := ev.Trade; t != nil {
			fmt.Fprintf(&b, "Bought %.2f %s @ %.4f ($%.2f)\n", t.Size, outcome(t.Outcome), t.Price, t.Cost())
			fmt.Fprintf(&b, "Market: %s\n", t.MarketID)
			fmt.Fprintf(&b, "Order: %s", t.OrderID)
		}
	case domain.EventTradeFailed:
		title = "Trade failed"
		if t := ev.Trade; t != nil {
			fmt.Fprintf(&b, "%.2f %s @ %.4f\n", t.Size, outcome(t.Outcome), t.Price)
			fmt.Fprintf(&b, "Market: %s\n", t.MarketID)
			fmt.Fprintf(&b, "Reason: %s", t.Reason)
		}
	case domain.EventPositionOpened:
		title = "Position opened"
		if p := ev.Position; p != nil {
			fmt.Fprintf(&b, "%.2f %s @ %.4f\n", p.Size, outcome(p.Outcome), p.EntryPrice)
			fmt.Fprintf(&b, "Market: %s", p.MarketID)
		}
	case domain.EventPositionResolved:
		title = "Position resolved"
		if p := ev.Position; p != nil {
			result := "LOSS"
			if p.Status == domain.PositionStatusResolvedWin {
				result = "WIN"
			}
			fmt.Fprintf(&b, "%s: %.2f %s @ %.4f\n", result, p.Size, outcome(p.Outcome), p.EntryPrice)
			fmt.Fprintf(&b, "P&L: %+.2f\n", ev.PnL)
			fmt.Fprintf(&b, "Market: %s", p.MarketID)
		}
	case domain.EventFeedConnected:
		title = "Feed connected"
	case domain.EventFeedDisconnected:
		title = "Feed disconnected"
		b.WriteString(ev.Reason)
	case domain.EventFeedExhausted:
		title = "Feed reconnects exhausted"
		b.WriteString("Bot is shutting down. ")
		b.WriteString(ev.Reason)
	default:
		title = string(ev.Type)
		b.WriteString(ev.Reason)
	}
	return title, strings.TrimSpace(b.String())
}

func writeQuestion(b *strings.Builder, q string) {
	if q != "" {
		b.WriteString(q)
		b.WriteByte('\n')
	}
}

func outcome(o string) string {
	if o == "" {
		return "shares"
	}
	return o
}
