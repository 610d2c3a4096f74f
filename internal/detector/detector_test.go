package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/alanyoungcy/certaintybot/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{
	CertaintyThreshold:  0.95,
	MaxBuyThreshold:     0.99,
	MinProfitThreshold:  0.10,
	MaxPositionSize:     100,
	DefaultMinOrderSize: 5,
	Concurrency:         2,
}

type fakeBooks struct {
	mu    sync.Mutex
	books map[string]domain.OrderbookSnapshot
	errs  map[string]error
	calls []string
}

func (f *fakeBooks) FetchOrderBook(_ context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokenID)
	if err := f.errs[tokenID]; err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	snap, ok := f.books[tokenID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeBooks) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeWatchlist struct {
	markets map[string]domain.Market // token id -> market
}

func (w *fakeWatchlist) LookupToken(id string) (domain.WatchedMarket, domain.Token, bool) {
	m, ok := w.markets[id]
	if !ok {
		return domain.WatchedMarket{}, domain.Token{}, false
	}
	tok, _ := m.TokenByID(id)
	top, _ := m.HighestToken()
	return domain.WatchedMarket{Market: m, HighestToken: top}, tok, true
}

func (w *fakeWatchlist) HighPriceTokens() []domain.Token {
	seen := map[string]bool{}
	var out []domain.Token
	for _, id := range []string{"yes-1", "yes-2", "yes-3"} {
		m, ok := w.markets[id]
		if !ok || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		top, _ := m.HighestToken()
		out = append(out, top)
	}
	return out
}

func (w *fakeWatchlist) TokenIDs() []string {
	var out []string
	for id := range w.markets {
		out = append(out, id)
	}
	return out
}

type fakeSub struct{ ids []string }

func (s *fakeSub) Subscribe(ids []string) error {
	s.ids = append(s.ids, ids...)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	opps   []domain.Opportunity
	events []domain.Event
}

func (r *recorder) onOpp(_ context.Context, opp domain.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opps = append(r.opps, opp)
}

func (r *recorder) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) oppCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opps)
}

func watchlistFixture() *fakeWatchlist {
	mk := func(n string) domain.Market {
		return domain.Market{
			ID:       "m-" + n,
			Question: "Will " + n + " happen?",
			Active:   true,
			Tokens: []domain.Token{
				{ID: "yes-" + n, Outcome: "Yes", Price: 0.97},
				{ID: "no-" + n, Outcome: "No", Price: 0.03},
			},
		}
	}
	w := &fakeWatchlist{markets: map[string]domain.Market{}}
	for _, n := range []string{"1", "2", "3"} {
		m := mk(n)
		for _, t := range m.Tokens {
			w.markets[t.ID] = m
		}
	}
	return w
}

func book(asset string, minSize float64, asks ...domain.PriceLevel) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{AssetID: asset, Asks: asks, MinOrderSize: minSize, Timestamp: time.Now()}
}

func newTestDetector(cfg Config, books BookSource, rec *recorder) (*Detector, *fakeSub) {
	sub := &fakeSub{}
	d := New(cfg, books, watchlistFixture(), sub, rec.onOpp, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return d, sub
}

func TestEvaluateRule(t *testing.T) {
	tests := []struct {
		name   string
		snap   domain.OrderbookSnapshot
		want   bool
		profit float64
	}{
		{"qualifies", book("yes-1", 5, domain.PriceLevel{Price: 0.97, Size: 40}), true, 1.2},
		{"best ask is the lowest level", book("yes-1", 5,
			domain.PriceLevel{Price: 0.99, Size: 500},
			domain.PriceLevel{Price: 0.96, Size: 20}), true, 0.8},
		{"size capped by max position", book("yes-1", 5, domain.PriceLevel{Price: 0.96, Size: 1000}), true, 4.0},
		{"ask below certainty", book("yes-1", 5, domain.PriceLevel{Price: 0.90, Size: 100}), false, 0},
		{"ask above max buy", book("yes-1", 5, domain.PriceLevel{Price: 0.995, Size: 100}), false, 0},
		{"size under book minimum", book("yes-1", 50, domain.PriceLevel{Price: 0.97, Size: 40}), false, 0},
		{"size under default minimum", book("yes-1", 0, domain.PriceLevel{Price: 0.97, Size: 4}), false, 0},
		{"profit under threshold", book("yes-1", 5, domain.PriceLevel{Price: 0.99, Size: 5}), false, 0},
		{"token not watched", book("other", 5, domain.PriceLevel{Price: 0.97, Size: 40}), false, 0},
		{"empty book", book("yes-1", 5), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d, _ := newTestDetector(testCfg, &fakeBooks{}, rec)

			opp, ok := d.Evaluate(context.Background(), tt.snap)
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				assert.Zero(t, rec.oppCount())
				return
			}
			require.Equal(t, 1, rec.oppCount())
			assert.Equal(t, "m-1", opp.MarketID)
			assert.Equal(t, "yes-1", opp.TokenID)
			assert.Equal(t, "Yes", opp.Outcome)
			assert.InDelta(t, tt.profit, opp.ExpectedProfit, 1e-9)
			assert.InDelta(t, opp.AskPrice, opp.Confidence, 1e-12)
			assert.False(t, opp.DetectedAt.IsZero())
			require.Len(t, rec.events, 1)
			assert.Equal(t, domain.EventOpportunity, rec.events[0].Type)
		})
	}
}

func TestRepeatedQualifyingBooksEmitRepeatedOpportunities(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDetector(testCfg, &fakeBooks{}, rec)
	snap := book("yes-2", 5, domain.PriceLevel{Price: 0.97, Size: 40})

	d.Evaluate(context.Background(), snap)
	d.Evaluate(context.Background(), snap)
	assert.Equal(t, 2, rec.oppCount())
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	cfg := testCfg
	cfg.Cooldown = time.Minute
	rec := &recorder{}
	d, _ := newTestDetector(cfg, &fakeBooks{}, rec)
	snap := book("yes-2", 5, domain.PriceLevel{Price: 0.97, Size: 40})

	d.Evaluate(context.Background(), snap)
	d.Evaluate(context.Background(), snap)
	assert.Equal(t, 1, rec.oppCount())
}

func TestPriceChangeTriggersBookCheckOnlyInRange(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderbookSnapshot{
		"yes-1": book("yes-1", 5, domain.PriceLevel{Price: 0.97, Size: 40}),
	}}
	rec := &recorder{}
	d, _ := newTestDetector(testCfg, books, rec)

	events := make(chan feed.Event, 4)
	events <- feed.Event{Kind: feed.EventPriceChange, Price: domain.PriceChange{AssetID: "yes-1", Price: 0.50}}
	events <- feed.Event{Kind: feed.EventPriceChange, Price: domain.PriceChange{AssetID: "yes-1", Price: 0.995}}
	events <- feed.Event{Kind: feed.EventPriceChange, Price: domain.PriceChange{AssetID: "yes-1", Price: 0.97}}
	close(events)

	require.NoError(t, d.Run(context.Background(), events))
	assert.Equal(t, 1, books.callCount())
	assert.Equal(t, 1, rec.oppCount())
}

func TestRunRelaysFeedStateAndStopsOnExhaustion(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDetector(testCfg, &fakeBooks{}, rec)

	events := make(chan feed.Event, 4)
	events <- feed.Event{Kind: feed.EventConnected}
	events <- feed.Event{Kind: feed.EventDisconnected}
	events <- feed.Event{Kind: feed.EventMaxReconnectExhausted}
	events <- feed.Event{Kind: feed.EventBookUpdate, Book: book("yes-1", 5, domain.PriceLevel{Price: 0.97, Size: 40})}

	err := d.Run(context.Background(), events)
	require.ErrorIs(t, err, domain.ErrFeedExhausted)

	require.Len(t, rec.events, 3)
	assert.Equal(t, domain.EventFeedConnected, rec.events[0].Type)
	assert.Equal(t, domain.EventFeedDisconnected, rec.events[1].Type)
	assert.Equal(t, domain.EventFeedExhausted, rec.events[2].Type)
	assert.Zero(t, rec.oppCount(), "events after exhaustion are not processed")
}

func TestRefreshBooksToleratesFailures(t *testing.T) {
	books := &fakeBooks{
		books: map[string]domain.OrderbookSnapshot{
			"yes-1": book("yes-1", 5, domain.PriceLevel{Price: 0.97, Size: 40}),
			"yes-3": book("", 5, domain.PriceLevel{Price: 0.98, Size: 40}),
		},
		errs: map[string]error{"yes-2": errors.New("timeout")},
	}
	rec := &recorder{}
	d, _ := newTestDetector(testCfg, books, rec)

	require.NoError(t, d.RefreshBooks(context.Background()))
	assert.Equal(t, 3, books.callCount())
	assert.Equal(t, 2, rec.oppCount())
}

func TestSubscribeToMarkets(t *testing.T) {
	rec := &recorder{}
	d, sub := newTestDetector(testCfg, &fakeBooks{}, rec)
	require.NoError(t, d.SubscribeToMarkets(context.Background()))
	assert.ElementsMatch(t, []string{"yes-1", "no-1", "yes-2", "no-2", "yes-3", "no-3"}, sub.ids)
}

func TestExpectedProfit(t *testing.T) {
	assert.InDelta(t, 2.0, ExpectedProfit(0.98, 100, 100), 1e-12)
	assert.InDelta(t, 2.0, ExpectedProfit(0.98, 500, 100), 1e-12)
	assert.InDelta(t, 0.5, ExpectedProfit(0.95, 10, 100), 1e-12)
}
