// Package ledger gates new executions against exposure and daily loss
// limits, records positions and computes P&L on resolution. Every mutation
// persists the full snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

const dayLayout = "2006-01-02"

// Config holds the risk limits.
type Config struct {
	MaxExposure    float64
	DailyLossLimit float64
	// Location defines the calendar day for daily P&L. Defaults to UTC.
	Location *time.Location
}

// Ledger owns all positions and trading stats. It is safe for concurrent
// use; only its methods mutate state.
type Ledger struct {
	cfg    Config
	store  domain.LedgerStore
	events domain.EventSink
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	positions map[string]domain.Position
	stats     domain.TradingStats
	dailyPnL  decimal.Decimal
	dailyDate string

	persistMu sync.Mutex
}

// New creates an empty Ledger. Call Load to restore persisted state.
func New(cfg Config, store domain.LedgerStore, events domain.EventSink, logger *slog.Logger) *Ledger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if events == nil {
		events = domain.EventSinkFunc(func(domain.Event) {})
	}
	return &Ledger{
		cfg:       cfg,
		store:     store,
		events:    events,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
		positions: make(map[string]domain.Position),
	}
}

// Load restores the persisted snapshot. A store with nothing saved yet
// leaves the ledger empty.
func (l *Ledger) Load(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		l.logger.Info("no persisted ledger, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}

	l.mu.Lock()
	l.positions = make(map[string]domain.Position, len(snap.Positions))
	for id, p := range snap.Positions {
		l.positions[id] = p
	}
	l.stats = snap.Stats
	l.dailyPnL = decimal.NewFromFloat(snap.DailyPnL)
	l.dailyDate = snap.DailyDate
	l.rollDayLocked()
	open := l.countLocked(domain.PositionStatusOpen)
	l.mu.Unlock()

	l.logger.Info("ledger restored",
		slog.Int("positions", len(snap.Positions)),
		slog.Int("open", open),
		slog.Int("total_trades", snap.Stats.TotalTrades),
	)
	return nil
}

// CanOpenNewPosition reports whether a position of size at price fits under
// the exposure ceiling and the daily loss limit has not been breached.
func (l *Ledger) CanOpenNewPosition(size, price float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()

	projected := l.exposureLocked().Add(decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)))
	if projected.GreaterThan(decimal.NewFromFloat(l.cfg.MaxExposure)) {
		return false
	}
	if l.dailyPnL.LessThan(decimal.NewFromFloat(-l.cfg.DailyLossLimit)) {
		return false
	}
	return true
}

// AddPosition records a matched trade as an open position.
func (l *Ledger) AddPosition(ctx context.Context, trade domain.Trade) (domain.Position, error) {
	if trade.Status != domain.TradeStatusMatched {
		return domain.Position{}, fmt.Errorf("ledger: add position %s: %w", trade.ID, domain.ErrTradeNotMatched)
	}

	l.mu.Lock()
	if _, ok := l.positions[trade.ID]; ok {
		l.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: add position %s: %w", trade.ID, domain.ErrAlreadyExists)
	}
	opened := trade.Timestamp
	if opened.IsZero() {
		opened = l.now()
	}
	pos := domain.Position{
		ID:         trade.ID,
		MarketID:   trade.MarketID,
		TokenID:    trade.TokenID,
		Outcome:    trade.Outcome,
		EntryPrice: trade.Price,
		Size:       trade.Size,
		OpenedAt:   opened,
		Status:     domain.PositionStatusOpen,
	}
	l.positions[pos.ID] = pos
	l.stats.TotalTrades++
	exposure := l.exposureLocked()
	l.mu.Unlock()

	l.persist(ctx, "add_position")

	l.logger.Info("position opened",
		slog.String("id", pos.ID),
		slog.String("token", pos.TokenID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
		slog.Float64("exposure", exposure.InexactFloat64()),
	)
	if exposure.GreaterThan(decimal.NewFromFloat(l.cfg.MaxExposure)) {
		l.logger.Warn("exposure above ceiling after admission", slog.Float64("exposure", exposure.InexactFloat64()))
	}
	l.events.Emit(domain.Event{Type: domain.EventPositionOpened, Time: l.now(), Position: &pos})
	return pos, nil
}

// MarkPendingResolution flags an open position whose market closed without
// a declared winner.
func (l *Ledger) MarkPendingResolution(ctx context.Context, id string) error {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("ledger: mark pending %s: %w", id, domain.ErrNotFound)
	}
	if pos.Status == domain.PositionStatusPendingResolution {
		l.mu.Unlock()
		return nil
	}
	if pos.Status != domain.PositionStatusOpen {
		l.mu.Unlock()
		return fmt.Errorf("ledger: mark pending %s: %w", id, domain.ErrPositionNotOpen)
	}
	pos.Status = domain.PositionStatusPendingResolution
	l.positions[id] = pos
	l.mu.Unlock()

	l.persist(ctx, "mark_pending")
	l.logger.Info("position pending resolution", slog.String("id", id))
	return nil
}

// ResolvePosition settles a position and returns its realized P&L:
// (isWinner ? size : 0) - entryPrice*size.
func (l *Ledger) ResolvePosition(ctx context.Context, id string, isWinner bool) (domain.Position, float64, error) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return domain.Position{}, 0, fmt.Errorf("ledger: resolve %s: %w", id, domain.ErrNotFound)
	}
	if pos.Status.Resolved() {
		l.mu.Unlock()
		return domain.Position{}, 0, fmt.Errorf("ledger: resolve %s: %w", id, domain.ErrPositionNotOpen)
	}

	size := decimal.NewFromFloat(pos.Size)
	cost := decimal.NewFromFloat(pos.EntryPrice).Mul(size)
	payout := decimal.Zero
	if isWinner {
		payout = size
	}
	pnl := payout.Sub(cost)

	now := l.now()
	pos.PnL = pnl.InexactFloat64()
	pos.ResolvedAt = &now
	if isWinner {
		pos.Status = domain.PositionStatusResolvedWin
	} else {
		pos.Status = domain.PositionStatusResolvedLoss
	}
	l.positions[id] = pos

	l.applyResolutionLocked(isWinner, pnl)
	l.rollDayLocked()
	l.dailyPnL = l.dailyPnL.Add(pnl)
	l.mu.Unlock()

	l.persist(ctx, "resolve_position")

	l.logger.Info("position resolved",
		slog.String("id", id),
		slog.String("status", string(pos.Status)),
		slog.Float64("pnl", pos.PnL),
	)
	l.events.Emit(domain.Event{Type: domain.EventPositionResolved, Time: now, Position: &pos, PnL: pos.PnL})
	return pos, pos.PnL, nil
}

func (l *Ledger) applyResolutionLocked(isWinner bool, pnl decimal.Decimal) {
	s := &l.stats
	if isWinner {
		s.WinningTrades++
		s.TotalProfit = decimal.NewFromFloat(s.TotalProfit).Add(pnl).InexactFloat64()
		if pnl.GreaterThan(decimal.NewFromFloat(s.LargestWin)) {
			s.LargestWin = pnl.InexactFloat64()
		}
	} else {
		loss := pnl.Neg()
		s.LosingTrades++
		s.TotalLoss = decimal.NewFromFloat(s.TotalLoss).Add(loss).InexactFloat64()
		if loss.GreaterThan(decimal.NewFromFloat(s.LargestLoss)) {
			s.LargestLoss = loss.InexactFloat64()
		}
	}

	settled := decimal.NewFromInt(int64(s.WinningTrades + s.LosingTrades))
	if settled.IsPositive() {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(settled).InexactFloat64()
		s.AverageProfit = decimal.NewFromFloat(s.TotalProfit).
			Sub(decimal.NewFromFloat(s.TotalLoss)).
			Div(settled).
			InexactFloat64()
	}
}

// rollDayLocked resets the daily P&L the first time it is touched on a new
// calendar day. Caller must hold l.mu for writing.
func (l *Ledger) rollDayLocked() {
	today := l.now().In(l.cfg.Location).Format(dayLayout)
	if l.dailyDate != today {
		l.dailyPnL = decimal.Zero
		l.dailyDate = today
	}
}

func (l *Ledger) exposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		total = total.Add(decimal.NewFromFloat(p.EntryPrice).Mul(decimal.NewFromFloat(p.Size)))
	}
	return total
}

func (l *Ledger) countLocked(status domain.PositionStatus) int {
	n := 0
	for _, p := range l.positions {
		if p.Status == status {
			n++
		}
	}
	return n
}

// persist writes the full snapshot. Failures are logged; memory stays
// authoritative.
func (l *Ledger) persist(ctx context.Context, op string) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	snap := l.Snapshot()
	if err := l.store.Save(ctx, snap); err != nil {
		l.logger.Error("ledger persist failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make(map[string]domain.Position, len(l.positions))
	for id, p := range l.positions {
		positions[id] = p
	}
	return domain.LedgerSnapshot{
		Positions: positions,
		Stats:     l.stats,
		DailyPnL:  l.dailyPnL.InexactFloat64(),
		DailyDate: l.dailyDate,
		SavedAt:   l.now().UTC(),
	}
}

// Positions returns positions ordered by open time, optionally filtered by
// status. An empty status returns all.
func (l *Ledger) Positions(status domain.PositionStatus) []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Unresolved returns open and pending-resolution positions.
func (l *Ledger) Unresolved() []domain.Position {
	var out []domain.Position
	for _, p := range l.Positions("") {
		if !p.Status.Resolved() {
			out = append(out, p)
		}
	}
	return out
}

// Position returns one position by id.
func (l *Ledger) Position(id string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	return p, ok
}

// Stats returns the aggregate counters.
func (l *Ledger) Stats() domain.TradingStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Exposure returns the cost basis of all open positions.
func (l *Ledger) Exposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exposureLocked().InexactFloat64()
}

// DailyPnL returns today's realized P&L.
func (l *Ledger) DailyPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.dailyDate != l.now().In(l.cfg.Location).Format(dayLayout) {
		return 0
	}
	return l.dailyPnL.InexactFloat64()
}
