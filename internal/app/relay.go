package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/alanyoungcy/certaintybot/internal/server/ws"
)

// EventNotifier delivers an event to external channels.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Publisher pushes an event to live WebSocket clients.
type Publisher interface {
	Publish(ev domain.Event)
}

var _ Publisher = (*ws.Hub)(nil)

// EventRelay is the process-wide EventSink. Emit never blocks: it logs the
// event, pushes it to the hub and queues it for the slow sinks (audit log,
// signal bus, notifiers) which Run drains on its own goroutine.
type EventRelay struct {
	hub      Publisher
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier EventNotifier
	logger   *slog.Logger

	queue   chan domain.Event
	dropped atomic.Int64
}

// NewEventRelay creates a relay. Every sink is optional.
func NewEventRelay(hub Publisher, audit domain.AuditStore, bus domain.SignalBus, notifier EventNotifier, buffer int, logger *slog.Logger) *EventRelay {
	if buffer < 1 {
		buffer = 256
	}
	return &EventRelay{
		hub:      hub,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
		queue:    make(chan domain.Event, buffer),
	}
}

// Emit implements domain.EventSink.
func (r *EventRelay) Emit(ev domain.Event) {
	r.log(ev)
	if r.hub != nil {
		r.hub.Publish(ev)
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("event queue full, dropping",
			slog.String("type", string(ev.Type)),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events missed the slow sinks.
func (r *EventRelay) Dropped() int64 {
	return r.dropped.Load()
}

// Run delivers queued events until ctx is cancelled. It always returns nil.
func (r *EventRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		}
	}
}

func (r *EventRelay) deliver(ctx context.Context, ev domain.Event) {
	if r.audit != nil {
		if err := r.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			r.logger.Warn("audit log failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
	}

	if r.bus != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := r.bus.Publish(ctx, ws.EventsChannel, data); err != nil {
				r.logger.Warn("bus publish failed", slog.String("error", err.Error()))
			}
			if ev.Type == domain.EventTradeExecuted || ev.Type == domain.EventPositionResolved {
				if err := r.bus.StreamAppend(ctx, "certaintybot:trades", data); err != nil {
					r.logger.Warn("stream append failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyEvent(ctx, ev); err != nil {
			r.logger.Warn("notification failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
	}
}

func (r *EventRelay) log(ev domain.Event) {
	attrs := []any{slog.String("type", string(ev.Type))}
	switch {
	case ev.Opportunity != nil:
		o := ev.Opportunity
		attrs = append(attrs,
			slog.String("token_id", o.TokenID),
			slog.Float64("ask", o.AskPrice),
			slog.Float64("ask_size", o.AskSize),
		)
	case ev.Trade != nil:
		attrs = append(attrs,
			slog.String("trade_id", ev.Trade.ID),
			slog.String("token_id", ev.Trade.TokenID),
			slog.String("status", string(ev.Trade.Status)),
		)
	case ev.Position != nil:
		attrs = append(attrs,
			slog.String("position_id", ev.Position.ID),
			slog.String("status", string(ev.Position.Status)),
		)
	}
	if ev.Type == domain.EventPositionResolved {
		attrs = append(attrs, slog.Float64("pnl", ev.PnL))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}

	switch ev.Type {
	case domain.EventTradeFailed, domain.EventFeedDisconnected, domain.EventFeedExhausted:
		r.logger.Warn("event", attrs...)
	case domain.EventOpportunity:
		r.logger.Debug("event", attrs...)
	default:
		r.logger.Info("event", attrs...)
	}
}

// auditDetail flattens an event into the audit row payload via its JSON form.
func auditDetail(ev domain.Event) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return map[string]any{"type": string(ev.Type)}
	}
	var detail map[string]any
	if err := json.Unmarshal(data, &detail); err != nil {
		return map[string]any{"type": string(ev.Type)}
	}
	delete(detail, "type")
	return detail
}
