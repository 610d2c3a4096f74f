// Package executor sizes opportunities into fill-or-kill orders and submits
// them one at a time through a FIFO queue.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

const rateLimitKey = "venue:orders"

// OrderSubmitter is the venue side the executor needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	IsAuthenticatedForTrading() bool
}

// RiskGate decides whether a new position may be opened.
type RiskGate interface {
	CanOpenNewPosition(size, price float64) bool
}

// TradeHandler is called synchronously by the worker after every submission,
// before the next queued opportunity is considered.
type TradeHandler func(ctx context.Context, trade domain.Trade)

// Config holds sizing and queue parameters.
type Config struct {
	DefaultOrderSize   float64
	MaxPositionSize    float64
	MinProfitThreshold float64
	// Staleness is the maximum opportunity age at dequeue time.
	Staleness time.Duration
	// SubmissionDelay is the minimum gap between consecutive submissions.
	SubmissionDelay time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// Executor turns opportunities into trades. At most one submission is in
// flight at any time.
type Executor struct {
	cfg     Config
	venue   OrderSubmitter
	gate    RiskGate
	onTrade TradeHandler
	events  domain.EventSink
	limiter domain.RateLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	queue      []domain.Opportunity
	processing bool
	wake       chan struct{}

	lastSubmit time.Time
	stats      Stats
}

// Stats counts queue outcomes.
type Stats struct {
	Executed    int `json:"executed"`
	Failed      int `json:"failed"`
	Stale       int `json:"stale"`
	RiskBlocked int `json:"risk_blocked"`
	Rejected    int `json:"rejected"`
}

// New creates an Executor. gate, onTrade and events may be nil.
func New(cfg Config, venue OrderSubmitter, gate RiskGate, onTrade TradeHandler, events domain.EventSink, logger *slog.Logger) *Executor {
	if cfg.Staleness <= 0 {
		cfg.Staleness = 5 * time.Second
	}
	if events == nil {
		events = domain.EventSinkFunc(func(domain.Event) {})
	}
	return &Executor{
		cfg:     cfg,
		venue:   venue,
		gate:    gate,
		onTrade: onTrade,
		events:  events,
		logger:  logger.With(slog.String("component", "executor")),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// SetRateLimiter adds a shared venue rate limit on top of the fixed delay.
func (e *Executor) SetRateLimiter(l domain.RateLimiter) {
	e.limiter = l
}

// OrderSize sizes opp with the configured parameters.
func (e *Executor) OrderSize(opp domain.Opportunity) float64 {
	return CalculateOrderSize(e.cfg.DefaultOrderSize, opp.ExpectedProfit, e.cfg.MinProfitThreshold, e.cfg.MaxPositionSize)
}

// ExecuteOpportunity sizes and submits a fill-or-kill buy at the observed
// ask. It returns no trade when the size is not positive or the venue link
// cannot trade. Venue failures are reported as a FAILED trade, not an error.
func (e *Executor) ExecuteOpportunity(ctx context.Context, opp domain.Opportunity) (*domain.Trade, error) {
	size := e.OrderSize(opp)
	if size <= 0 {
		return nil, fmt.Errorf("executor: %s: %w", opp.TokenID, domain.ErrInvalidSize)
	}
	if !e.venue.IsAuthenticatedForTrading() {
		return nil, fmt.Errorf("executor: %w", domain.ErrNotAuthenticated)
	}

	trade := domain.Trade{
		ID:        uuid.NewString(),
		MarketID:  opp.MarketID,
		TokenID:   opp.TokenID,
		Outcome:   opp.Outcome,
		Side:      domain.OrderSideBuy,
		Price:     opp.AskPrice,
		Size:      size,
		Timestamp: e.now(),
		Status:    domain.TradeStatusPending,
	}

	log := e.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("token", trade.TokenID),
	)

	res, err := e.venue.SubmitOrder(ctx, domain.OrderRequest{
		TokenID: opp.TokenID,
		Side:    domain.OrderSideBuy,
		Price:   opp.AskPrice,
		Size:    size,
		Type:    domain.OrderTypeFOK,
		NegRisk: opp.NegRisk,
	})
	switch {
	case err != nil:
		trade.Status = domain.TradeStatusFailed
		trade.Reason = err.Error()
		log.Error("order submission failed", slog.String("error", err.Error()))
	case !res.Success:
		trade.Status = domain.TradeStatusFailed
		trade.OrderID = res.OrderID
		trade.Reason = res.Message
		if trade.Reason == "" {
			trade.Reason = "order not filled"
		}
		log.Warn("order rejected",
			slog.String("status", res.Status),
			slog.String("message", res.Message),
		)
	default:
		trade.Status = domain.TradeStatusMatched
		trade.OrderID = res.OrderID
		log.Info("order matched",
			slog.String("order_id", res.OrderID),
			slog.Float64("price", trade.Price),
			slog.Float64("size", trade.Size),
		)
	}

	return &trade, nil
}

// QueueOpportunity appends opp to the FIFO and wakes the worker. It never
// blocks on submission.
func (e *Executor) QueueOpportunity(opp domain.Opportunity) {
	e.mu.Lock()
	e.queue = append(e.queue, opp)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of opportunities waiting.
func (e *Executor) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Stats returns a copy of the outcome counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run is the single queue worker. It drains the queue whenever woken and
// returns when ctx is done; queued opportunities are then discarded.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			if n := e.QueueDepth(); n > 0 {
				e.logger.Warn("discarding queued opportunities on shutdown", slog.Int("queued", n))
			}
			return ctx.Err()
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

// drain processes queued opportunities until the queue is empty. Only one
// drain runs at a time.
func (e *Executor) drain(ctx context.Context) {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		return
	}
	e.processing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.processing = false
		e.mu.Unlock()
	}()

	for ctx.Err() == nil {
		opp, ok := e.pop()
		if !ok {
			return
		}
		e.process(ctx, opp)
	}
}

func (e *Executor) pop() (domain.Opportunity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return domain.Opportunity{}, false
	}
	opp := e.queue[0]
	e.queue[0] = domain.Opportunity{}
	e.queue = e.queue[1:]
	return opp, true
}

func (e *Executor) process(ctx context.Context, opp domain.Opportunity) {
	log := e.logger.With(
		slog.String("market", opp.MarketID),
		slog.String("token", opp.TokenID),
	)

	if e.stale(opp, log) {
		return
	}
	if !e.pace(ctx) {
		return
	}
	// Pacing may have outlived the window.
	if e.stale(opp, log) {
		return
	}

	size := e.OrderSize(opp)
	if e.gate != nil && size > 0 && !e.gate.CanOpenNewPosition(size, opp.AskPrice) {
		log.Debug("risk limit reached, opportunity dropped",
			slog.Float64("size", size),
			slog.Float64("price", opp.AskPrice),
		)
		e.count(func(s *Stats) { s.RiskBlocked++ })
		return
	}

	if e.limiter != nil && e.cfg.RateLimit > 0 {
		allowed, err := e.limiter.Allow(ctx, rateLimitKey, e.cfg.RateLimit, e.cfg.RateWindow)
		if err != nil {
			log.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			log.Warn("venue rate limit reached, opportunity dropped")
			e.count(func(s *Stats) { s.Rejected++ })
			return
		}
	}

	trade, err := e.ExecuteOpportunity(ctx, opp)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSize) {
			log.Debug("opportunity sized to zero")
		} else {
			log.Warn("opportunity not executed", slog.String("error", err.Error()))
		}
		e.count(func(s *Stats) { s.Rejected++ })
		return
	}
	e.lastSubmit = e.now()

	if trade.Status == domain.TradeStatusMatched {
		e.count(func(s *Stats) { s.Executed++ })
		e.events.Emit(domain.Event{Type: domain.EventTradeExecuted, Time: trade.Timestamp, Trade: trade})
	} else {
		e.count(func(s *Stats) { s.Failed++ })
		e.events.Emit(domain.Event{Type: domain.EventTradeFailed, Time: trade.Timestamp, Trade: trade, Reason: trade.Reason})
	}
	if e.onTrade != nil {
		e.onTrade(ctx, *trade)
	}
}

func (e *Executor) stale(opp domain.Opportunity, log *slog.Logger) bool {
	age := opp.Age(e.now())
	if age <= e.cfg.Staleness {
		return false
	}
	log.Debug("stale opportunity dropped", slog.Duration("age", age))
	e.count(func(s *Stats) { s.Stale++ })
	return true
}

// pace waits until SubmissionDelay has passed since the previous submission.
func (e *Executor) pace(ctx context.Context) bool {
	if e.lastSubmit.IsZero() || e.cfg.SubmissionDelay <= 0 {
		return true
	}
	wait := e.lastSubmit.Add(e.cfg.SubmissionDelay).Sub(e.now())
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) count(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}
