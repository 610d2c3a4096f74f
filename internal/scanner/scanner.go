// Package scanner polls the venue for the full market set and maintains the
// watchlist of markets eligible for monitoring.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// MarketSource returns a fully paginated, stable snapshot of venue markets.
type MarketSource interface {
	FetchAllMarkets(ctx context.Context) ([]domain.Market, error)
}

// Config holds the eligibility thresholds.
type Config struct {
	// CertaintyThreshold applies to markets ending within NearWindow.
	CertaintyThreshold float64
	// FarThreshold applies to markets ending after NearWindow.
	FarThreshold float64
	NearWindow   time.Duration
}

// Eligible reports whether m should be watched at instant now.
func Eligible(m domain.Market, now time.Time, cfg Config) bool {
	if !m.Active || m.Closed || m.Archived {
		return false
	}
	ttl := m.TimeToEnd(now)
	if ttl <= 0 {
		return false
	}
	top, ok := m.HighestToken()
	if !ok {
		return false
	}
	if ttl <= cfg.NearWindow {
		return top.Price >= cfg.CertaintyThreshold
	}
	return top.Price >= cfg.FarThreshold
}

// watchlist is an immutable view; scans replace it wholesale.
type watchlist struct {
	order   []string
	markets map[string]domain.WatchedMarket
	tokens  map[string]string // token id -> market id
}

var emptyWatchlist = &watchlist{
	markets: map[string]domain.WatchedMarket{},
	tokens:  map[string]string{},
}

// Scanner owns the watchlist. Readers never observe a partially built list.
type Scanner struct {
	source MarketSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	current  atomic.Pointer[watchlist]
	lastScan atomic.Int64
}

// New creates a Scanner with an empty watchlist.
func New(source MarketSource, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.NearWindow <= 0 {
		cfg.NearWindow = 24 * time.Hour
	}
	s := &Scanner{
		source: source,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
		now:    time.Now,
	}
	s.current.Store(emptyWatchlist)
	return s
}

// Scan fetches the market set and atomically replaces the watchlist. On a
// fetch error the previous watchlist is kept.
func (s *Scanner) Scan(ctx context.Context) error {
	start := s.now()
	markets, err := s.source.FetchAllMarkets(ctx)
	if err != nil {
		s.logger.Error("scan failed, keeping previous watchlist", slog.String("error", err.Error()))
		return fmt.Errorf("scanner: scan: %w", err)
	}

	now := s.now()
	prev := s.current.Load()
	next := &watchlist{
		markets: make(map[string]domain.WatchedMarket),
		tokens:  make(map[string]string),
	}

	added := 0
	for _, m := range markets {
		if !Eligible(m, now, s.cfg) {
			continue
		}
		if _, dup := next.markets[m.ID]; dup {
			continue
		}
		top, _ := m.HighestToken()
		wm := domain.WatchedMarket{Market: m, AddedAt: now, HighestToken: top}
		if old, ok := prev.markets[m.ID]; ok {
			wm.AddedAt = old.AddedAt
		} else {
			added++
		}
		next.order = append(next.order, m.ID)
		next.markets[m.ID] = wm
		for _, t := range m.Tokens {
			next.tokens[t.ID] = m.ID
		}
	}

	evicted := 0
	for id := range prev.markets {
		if _, ok := next.markets[id]; !ok {
			evicted++
		}
	}

	s.current.Store(next)
	s.lastScan.Store(now.UnixMilli())

	s.logger.Info("scan complete",
		slog.Int("markets", len(markets)),
		slog.Int("watched", len(next.order)),
		slog.Int("added", added),
		slog.Int("evicted", evicted),
		slog.Duration("took", s.now().Sub(start)),
	)
	return nil
}

// Watchlist returns the watched markets in venue order.
func (s *Scanner) Watchlist() []domain.WatchedMarket {
	wl := s.current.Load()
	out := make([]domain.WatchedMarket, 0, len(wl.order))
	for _, id := range wl.order {
		out = append(out, wl.markets[id])
	}
	return out
}

// Len returns the number of watched markets.
func (s *Scanner) Len() int {
	return len(s.current.Load().order)
}

// LastScan returns when the watchlist was last replaced.
func (s *Scanner) LastScan() time.Time {
	ms := s.lastScan.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// HighPriceTokens returns, for every watched market, its highest-priced
// token. Ties go to the first token.
func (s *Scanner) HighPriceTokens() []domain.Token {
	wl := s.current.Load()
	out := make([]domain.Token, 0, len(wl.order))
	for _, id := range wl.order {
		out = append(out, wl.markets[id].HighestToken)
	}
	return out
}

// TokenIDs returns every token id of every watched market.
func (s *Scanner) TokenIDs() []string {
	wl := s.current.Load()
	var out []string
	for _, id := range wl.order {
		for _, t := range wl.markets[id].Market.Tokens {
			out = append(out, t.ID)
		}
	}
	return out
}

// LookupToken finds the watched market owning tokenID.
func (s *Scanner) LookupToken(tokenID string) (domain.WatchedMarket, domain.Token, bool) {
	wl := s.current.Load()
	marketID, ok := wl.tokens[tokenID]
	if !ok {
		return domain.WatchedMarket{}, domain.Token{}, false
	}
	wm := wl.markets[marketID]
	tok, ok := wm.Market.TokenByID(tokenID)
	return wm, tok, ok
}
