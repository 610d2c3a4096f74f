package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testSnapshot() domain.LedgerSnapshot {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolved := opened.Add(6 * time.Hour)
	return domain.LedgerSnapshot{
		Positions: map[string]domain.Position{
			"t-1": {
				ID: "t-1", MarketID: "m-1", TokenID: "tok-1", Outcome: "Yes",
				EntryPrice: 0.98, Size: 100, OpenedAt: opened,
				Status: domain.PositionStatusResolvedWin, PnL: 2, ResolvedAt: &resolved,
			},
			"t-2": {
				ID: "t-2", MarketID: "m-2", TokenID: "tok-2", Outcome: "No",
				EntryPrice: 0.96, Size: 25, OpenedAt: opened.Add(time.Minute),
				Status: domain.PositionStatusOpen,
			},
		},
		Stats: domain.TradingStats{
			TotalTrades: 2, WinningTrades: 1, TotalProfit: 2, WinRate: 1,
			AverageProfit: 2, LargestWin: 2,
		},
		DailyPnL:  2,
		DailyDate: "2026-03-01",
		SavedAt:   opened.Add(7 * time.Hour),
	}
}

func TestLoadEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	want := testSnapshot()

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Close())
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Positions, got.Positions)
	assert.Equal(t, want.Stats, got.Stats)
}

func TestSaveReplacesSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testSnapshot()))

	next := testSnapshot()
	delete(next.Positions, "t-2")
	next.Stats.TotalTrades = 1
	next.DailyDate = "2026-03-02"
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Positions, 1)
	assert.Equal(t, 1, got.Stats.TotalTrades)
	assert.Equal(t, "2026-03-02", got.DailyDate)
}

func TestAuditLog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "trade_executed", map[string]any{"trade_id": "a", "price": 0.97}))
	require.NoError(t, s.Log(ctx, "position_resolved", map[string]any{"position_id": "a"}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "position_resolved", entries[0].Event)
	assert.Equal(t, "trade_executed", entries[1].Event)
	assert.Equal(t, 0.97, entries[1].Detail["price"])

	entries, err = s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade_executed", entries[0].Event)
}
