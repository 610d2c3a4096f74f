// Package resolver settles ledger positions once their markets close.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// winnerPrice is the last-trade price above which a closed market's token is
// taken as the winner when the venue omits explicit winner flags.
const winnerPrice = 0.99

// MarketSource fetches a single market, closed ones included.
type MarketSource interface {
	FetchMarket(ctx context.Context, id string) (domain.Market, error)
}

// Ledger is the subset of the position ledger the resolver drives.
type Ledger interface {
	Unresolved() []domain.Position
	MarkPendingResolution(ctx context.Context, id string) error
	ResolvePosition(ctx context.Context, id string, isWinner bool) (domain.Position, float64, error)
}

// Resolver polls the venue for the markets behind unresolved positions.
type Resolver struct {
	markets MarketSource
	ledger  Ledger
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// limiterKey is shared with other processes polling the market API.
const limiterKey = "venue:gamma"

// New creates a Resolver.
func New(markets MarketSource, ledger Ledger, logger *slog.Logger) *Resolver {
	return &Resolver{
		markets: markets,
		ledger:  ledger,
		logger:  logger.With(slog.String("component", "resolver")),
	}
}

// SetRateLimiter throttles market fetches through a shared limiter.
func (r *Resolver) SetRateLimiter(l domain.RateLimiter) {
	r.limiter = l
}

// Result counts what a single pass did.
type Result struct {
	Checked  int
	Resolved int
	Pending  int
}

// CheckResolutions runs one pass over all OPEN and PENDING_RESOLUTION
// positions. Fetch failures for a market are logged and skipped; the
// position is retried on the next pass.
func (r *Resolver) CheckResolutions(ctx context.Context) (Result, error) {
	var res Result
	positions := r.ledger.Unresolved()
	if len(positions) == 0 {
		return res, nil
	}

	byMarket := make(map[string][]domain.Position)
	order := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := byMarket[p.MarketID]; !ok {
			order = append(order, p.MarketID)
		}
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}

	for _, marketID := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, limiterKey); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				r.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
			}
		}
		res.Checked++
		m, err := r.markets.FetchMarket(ctx, marketID)
		if err != nil {
			r.logger.WarnContext(ctx, "market fetch failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !m.Closed {
			continue
		}

		winner, ok := winningToken(m)
		for _, pos := range byMarket[marketID] {
			if !ok {
				if pos.Status == domain.PositionStatusPendingResolution {
					continue
				}
				if err := r.ledger.MarkPendingResolution(ctx, pos.ID); err != nil {
					r.logger.ErrorContext(ctx, "mark pending failed", slog.String("position_id", pos.ID), slog.String("error", err.Error()))
					continue
				}
				res.Pending++
				continue
			}

			settled, pnl, err := r.ledger.ResolvePosition(ctx, pos.ID, pos.TokenID == winner.ID)
			if errors.Is(err, domain.ErrPositionNotOpen) {
				continue
			}
			if err != nil {
				return res, fmt.Errorf("resolver: resolve %s: %w", pos.ID, err)
			}
			res.Resolved++
			r.logger.InfoContext(ctx, "position resolved",
				slog.String("position_id", settled.ID),
				slog.String("market_id", marketID),
				slog.String("status", string(settled.Status)),
				slog.Float64("pnl", pnl),
			)
		}
	}
	return res, nil
}

// winningToken prefers the venue's winner flag and falls back to a token
// priced at or above winnerPrice.
func winningToken(m domain.Market) (domain.Token, bool) {
	if t, ok := m.WinningToken(); ok {
		return t, true
	}
	for _, t := range m.Tokens {
		if t.Price >= winnerPrice {
			return t, true
		}
	}
	return domain.Token{}, false
}
