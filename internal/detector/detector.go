// Package detector turns feed events and periodic book snapshots for
// watchlisted tokens into trade opportunities.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/alanyoungcy/certaintybot/internal/feed"
)

// BookSource fetches a current order book. It returns domain.ErrNotFound
// when the venue has no book for the token.
type BookSource interface {
	FetchOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Watchlist is the read side of the scanner.
type Watchlist interface {
	LookupToken(tokenID string) (domain.WatchedMarket, domain.Token, bool)
	HighPriceTokens() []domain.Token
	TokenIDs() []string
}

// Subscriber registers asset ids with the feed.
type Subscriber interface {
	Subscribe(assetIDs []string) error
}

// OpportunityHandler receives every emitted opportunity. It may be called
// from several goroutines during a book refresh.
type OpportunityHandler func(ctx context.Context, opp domain.Opportunity)

// Config holds the opportunity rule parameters.
type Config struct {
	CertaintyThreshold  float64
	MaxBuyThreshold     float64
	MinProfitThreshold  float64
	MaxPositionSize     float64
	DefaultMinOrderSize float64
	// Concurrency bounds parallel book fetches during a refresh.
	Concurrency int
	// Cooldown suppresses repeat opportunities per token. Zero disables it.
	Cooldown time.Duration
}

// Detector applies the opportunity rule. It is the single consumer of the
// feed event stream.
type Detector struct {
	cfg       Config
	books     BookSource
	watchlist Watchlist
	feed      Subscriber
	onOpp     OpportunityHandler
	events    domain.EventSink
	logger    *slog.Logger
	now       func() time.Time

	cooldown   *Cooldown
	priceCache domain.PriceCache
	bookCache  domain.OrderbookCache
}

// New creates a Detector. events may be nil.
func New(
	cfg Config,
	books BookSource,
	watchlist Watchlist,
	sub Subscriber,
	onOpp OpportunityHandler,
	events domain.EventSink,
	logger *slog.Logger,
) *Detector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if events == nil {
		events = domain.EventSinkFunc(func(domain.Event) {})
	}
	d := &Detector{
		cfg:       cfg,
		books:     books,
		watchlist: watchlist,
		feed:      sub,
		onOpp:     onOpp,
		events:    events,
		logger:    logger.With(slog.String("component", "detector")),
		now:       time.Now,
	}
	if cfg.Cooldown > 0 {
		d.cooldown = NewCooldown(cfg.Cooldown)
	}
	return d
}

// SetCaches enables write-through of observed prices and evaluated books.
func (d *Detector) SetCaches(prices domain.PriceCache, books domain.OrderbookCache) {
	d.priceCache = prices
	d.bookCache = books
}

// SubscribeToMarkets pushes every watched token id to the feed.
func (d *Detector) SubscribeToMarkets(ctx context.Context) error {
	ids := d.watchlist.TokenIDs()
	if len(ids) == 0 {
		return nil
	}
	if err := d.feed.Subscribe(ids); err != nil {
		return fmt.Errorf("detector: subscribe: %w", err)
	}
	d.logger.Debug("subscribed watchlist tokens", slog.Int("tokens", len(ids)))
	return nil
}

// Run consumes feed events until ctx is done, the stream closes, or the feed
// reports reconnect exhaustion, in which case domain.ErrFeedExhausted is
// returned.
func (d *Detector) Run(ctx context.Context, events <-chan feed.Event) error {
	d.logger.Info("detector started")
	defer d.logger.Info("detector stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (d *Detector) handle(ctx context.Context, ev feed.Event) error {
	switch ev.Kind {
	case feed.EventConnected:
		d.events.Emit(domain.Event{Type: domain.EventFeedConnected, Time: ev.Time})
	case feed.EventDisconnected:
		d.events.Emit(domain.Event{Type: domain.EventFeedDisconnected, Time: ev.Time})
	case feed.EventMaxReconnectExhausted:
		d.events.Emit(domain.Event{Type: domain.EventFeedExhausted, Time: ev.Time})
		return fmt.Errorf("detector: %w", domain.ErrFeedExhausted)
	case feed.EventPriceChange:
		d.onPriceChange(ctx, ev.Price)
	case feed.EventBookUpdate:
		d.Evaluate(ctx, ev.Book)
	}
	return nil
}

func (d *Detector) onPriceChange(ctx context.Context, pc domain.PriceChange) {
	if d.priceCache != nil {
		if err := d.priceCache.SetPrice(ctx, pc.AssetID, pc.Price, pc.Timestamp); err != nil {
			d.logger.Debug("price cache write failed", slog.String("error", err.Error()))
		}
	}
	if pc.Price < d.cfg.CertaintyThreshold || pc.Price > d.cfg.MaxBuyThreshold {
		return
	}
	if _, err := d.CheckBook(ctx, pc.AssetID); err != nil {
		d.logger.Warn("on-demand book check failed",
			slog.String("token", pc.AssetID),
			slog.String("error", err.Error()),
		)
	}
}

// CheckBook fetches the book for tokenID and evaluates it. An absent book is
// not an error.
func (d *Detector) CheckBook(ctx context.Context, tokenID string) (bool, error) {
	snap, err := d.books.FetchOrderBook(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("detector: fetch book %s: %w", tokenID, err)
	}
	if snap.AssetID == "" {
		snap.AssetID = tokenID
	}
	_, found := d.Evaluate(ctx, snap)
	return found, nil
}

// RefreshBooks checks the book of every watched market's highest-priced
// token. Individual fetch failures are logged and do not abort the cycle.
func (d *Detector) RefreshBooks(ctx context.Context) error {
	tokens := d.watchlist.HighPriceTokens()
	if len(tokens) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, tok := range tokens {
		g.Go(func() error {
			if _, err := d.CheckBook(gctx, tok.ID); err != nil {
				d.logger.Warn("book refresh failed",
					slog.String("token", tok.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// Evaluate applies the opportunity rule to snap and, when it holds for a
// watched token, emits an opportunity.
func (d *Detector) Evaluate(ctx context.Context, snap domain.OrderbookSnapshot) (domain.Opportunity, bool) {
	opp, ok := d.check(snap)
	if !ok {
		return domain.Opportunity{}, false
	}

	if d.bookCache != nil {
		if err := d.bookCache.SetSnapshot(ctx, snap.AssetID, snap); err != nil {
			d.logger.Debug("book cache write failed", slog.String("error", err.Error()))
		}
	}
	if d.cooldown != nil && d.cooldown.Active(opp.TokenID) {
		return domain.Opportunity{}, false
	}

	d.logger.Info("opportunity detected",
		slog.String("market", opp.MarketID),
		slog.String("token", opp.TokenID),
		slog.String("outcome", opp.Outcome),
		slog.Float64("ask", opp.AskPrice),
		slog.Float64("ask_size", opp.AskSize),
		slog.Float64("expected_profit", opp.ExpectedProfit),
	)
	d.events.Emit(domain.Event{Type: domain.EventOpportunity, Time: opp.DetectedAt, Opportunity: &opp})
	if d.onOpp != nil {
		d.onOpp(ctx, opp)
	}
	return opp, true
}

// check is the pure opportunity rule.
func (d *Detector) check(snap domain.OrderbookSnapshot) (domain.Opportunity, bool) {
	ask, ok := snap.BestAsk()
	if !ok {
		return domain.Opportunity{}, false
	}
	if ask.Price < d.cfg.CertaintyThreshold || ask.Price > d.cfg.MaxBuyThreshold {
		return domain.Opportunity{}, false
	}

	minSize := snap.MinOrderSize
	if minSize <= 0 {
		minSize = d.cfg.DefaultMinOrderSize
	}
	if ask.Size < minSize {
		return domain.Opportunity{}, false
	}

	profit := ExpectedProfit(ask.Price, ask.Size, d.cfg.MaxPositionSize)
	if profit < d.cfg.MinProfitThreshold {
		return domain.Opportunity{}, false
	}

	wm, tok, ok := d.watchlist.LookupToken(snap.AssetID)
	if !ok {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		MarketID:       wm.Market.ID,
		TokenID:        tok.ID,
		Outcome:        tok.Outcome,
		Question:       wm.Market.Question,
		NegRisk:        wm.Market.NegRisk,
		AskPrice:       ask.Price,
		AskSize:        ask.Size,
		ExpectedProfit: profit,
		Confidence:     ask.Price,
		DetectedAt:     d.now(),
	}, true
}

// ExpectedProfit is (1 - ask) * min(askSize, maxPositionSize).
func ExpectedProfit(askPrice, askSize, maxPositionSize float64) float64 {
	size := decimal.NewFromFloat(askSize)
	if maxPositionSize > 0 {
		size = decimal.Min(size, decimal.NewFromFloat(maxPositionSize))
	}
	return decimal.NewFromInt(1).
		Sub(decimal.NewFromFloat(askPrice)).
		Mul(size).
		InexactFloat64()
}
