package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{CertaintyThreshold: 0.95, FarThreshold: 0.99, NearWindow: 24 * time.Hour}

type fakeSource struct {
	markets []domain.Market
	err     error
}

func (f *fakeSource) FetchAllMarkets(context.Context) ([]domain.Market, error) {
	return f.markets, f.err
}

func market(id string, end time.Time, prices ...float64) domain.Market {
	m := domain.Market{ID: id, Question: "q " + id, EndTime: end, Active: true}
	for i, p := range prices {
		m.Tokens = append(m.Tokens, domain.Token{
			ID:      id + "-" + string(rune('a'+i)),
			Outcome: []string{"Yes", "No", "Maybe"}[i%3],
			Price:   p,
		})
	}
	return m
}

func newTestScanner(src MarketSource, now time.Time) *Scanner {
	s := New(src, testCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	return s
}

func TestEligibility(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		m    domain.Market
		want bool
	}{
		{"near and certain", market("1", now.Add(6*time.Hour), 0.96, 0.04), true},
		{"near exactly at threshold", market("2", now.Add(24*time.Hour), 0.95, 0.05), true},
		{"near but uncertain", market("3", now.Add(time.Hour), 0.90, 0.10), false},
		{"far needs stricter threshold", market("4", now.Add(72*time.Hour), 0.97, 0.03), false},
		{"far and effectively known", market("5", now.Add(72*time.Hour), 0.01, 0.995), true},
		{"already ended", market("6", now.Add(-time.Minute), 0.99, 0.01), false},
		{"no end time", market("7", time.Time{}, 0.99, 0.01), false},
		{"no tokens", market("8", now.Add(time.Hour)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.m, now, testCfg))
		})
	}

	closed := market("9", now.Add(time.Hour), 0.99, 0.01)
	closed.Closed = true
	assert.False(t, Eligible(closed, now, testCfg))

	archived := market("10", now.Add(time.Hour), 0.99, 0.01)
	archived.Archived = true
	assert.False(t, Eligible(archived, now, testCfg))

	inactive := market("11", now.Add(time.Hour), 0.99, 0.01)
	inactive.Active = false
	assert.False(t, Eligible(inactive, now, testCfg))
}

func TestScanReplacesWatchlist(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{markets: []domain.Market{
		market("keep", now.Add(2*time.Hour), 0.97, 0.03),
		market("drop", now.Add(3*time.Hour), 0.96, 0.04),
		market("never", now.Add(3*time.Hour), 0.50, 0.50),
	}}
	s := newTestScanner(src, now)

	require.NoError(t, s.Scan(context.Background()))
	require.Equal(t, 2, s.Len())
	first := s.Watchlist()
	assert.Equal(t, "keep", first[0].Market.ID)
	assert.Equal(t, now, first[0].AddedAt)

	later := now.Add(time.Minute)
	s.now = func() time.Time { return later }
	src.markets = []domain.Market{
		market("keep", now.Add(2*time.Hour), 0.98, 0.02),
		market("drop", now.Add(3*time.Hour), 0.60, 0.40),
		market("new", now.Add(time.Hour), 0.01, 0.99),
	}
	require.NoError(t, s.Scan(context.Background()))

	wl := s.Watchlist()
	require.Len(t, wl, 2)
	assert.Equal(t, "keep", wl[0].Market.ID)
	assert.Equal(t, now, wl[0].AddedAt, "retained market keeps its addedAt")
	assert.InDelta(t, 0.98, wl[0].HighestToken.Price, 1e-9, "snapshot superseded")
	assert.Equal(t, "new", wl[1].Market.ID)
	assert.Equal(t, later, wl[1].AddedAt)
	assert.Equal(t, "new-b", wl[1].HighestToken.ID)

	// Every watched market satisfies the rule and every absent one fails it.
	watched := map[string]bool{}
	for _, w := range wl {
		watched[w.Market.ID] = true
	}
	for _, m := range src.markets {
		assert.Equal(t, Eligible(m, later, testCfg), watched[m.ID], m.ID)
	}

	_, _, ok := s.LookupToken("drop-a")
	assert.False(t, ok)
}

func TestScanErrorKeepsPreviousWatchlist(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{markets: []domain.Market{market("m", now.Add(time.Hour), 0.97, 0.03)}}
	s := newTestScanner(src, now)
	require.NoError(t, s.Scan(context.Background()))

	src.err = errors.New("gamma down")
	err := s.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestHighPriceTokensAndLookup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tie := market("tie", now.Add(time.Hour), 0.96, 0.96, 0.01)
	src := &fakeSource{markets: []domain.Market{
		market("a", now.Add(time.Hour), 0.02, 0.98),
		tie,
	}}
	s := newTestScanner(src, now)
	require.NoError(t, s.Scan(context.Background()))

	toks := s.HighPriceTokens()
	require.Len(t, toks, 2)
	assert.Equal(t, "a-b", toks[0].ID)
	assert.Equal(t, "tie-a", toks[1].ID, "ties go to the first token")

	wm, tok, ok := s.LookupToken("a-b")
	require.True(t, ok)
	assert.Equal(t, "a", wm.Market.ID)
	assert.Equal(t, "No", tok.Outcome)

	assert.Len(t, s.TokenIDs(), 5)
}
