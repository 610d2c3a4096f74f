package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// LedgerStore implements domain.LedgerStore on the ledger_positions and
// ledger_stats tables. Each Save rewrites the full snapshot in one
// transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const upsertPosition = `
	INSERT INTO ledger_positions (
		id, market_id, token_id, outcome, entry_price, size,
		opened_at, status, pnl, resolved_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (id) DO UPDATE SET
		status      = EXCLUDED.status,
		pnl         = EXCLUDED.pnl,
		resolved_at = EXCLUDED.resolved_at,
		updated_at  = NOW()`

const upsertStats = `
	INSERT INTO ledger_stats (
		id, total_trades, winning_trades, losing_trades, total_profit, total_loss,
		win_rate, average_profit, largest_win, largest_loss, daily_pnl, daily_date, saved_at
	) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		total_trades   = EXCLUDED.total_trades,
		winning_trades = EXCLUDED.winning_trades,
		losing_trades  = EXCLUDED.losing_trades,
		total_profit   = EXCLUDED.total_profit,
		total_loss     = EXCLUDED.total_loss,
		win_rate       = EXCLUDED.win_rate,
		average_profit = EXCLUDED.average_profit,
		largest_win    = EXCLUDED.largest_win,
		largest_loss   = EXCLUDED.largest_loss,
		daily_pnl      = EXCLUDED.daily_pnl,
		daily_date     = EXCLUDED.daily_date,
		saved_at       = EXCLUDED.saved_at`

// Save writes snap. Entry price, size and open time are immutable, so the
// position upsert only touches the resolution columns.
func (s *LedgerStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ids := make([]string, 0, len(snap.Positions))
	batch := &pgx.Batch{}
	for _, p := range snap.Positions {
		ids = append(ids, p.ID)
		batch.Queue(upsertPosition,
			p.ID, p.MarketID, p.TokenID, p.Outcome, p.EntryPrice, p.Size,
			p.OpenedAt, string(p.Status), p.PnL, p.ResolvedAt,
		)
	}
	batch.Queue(`DELETE FROM ledger_positions WHERE NOT (id = ANY($1))`, ids)
	st := snap.Stats
	batch.Queue(upsertStats,
		st.TotalTrades, st.WinningTrades, st.LosingTrades, st.TotalProfit, st.TotalLoss,
		st.WinRate, st.AverageProfit, st.LargestWin, st.LargestLoss,
		snap.DailyPnL, snap.DailyDate, snap.SavedAt,
	)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: save ledger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save ledger: commit: %w", err)
	}
	return nil
}

// Load reads the snapshot. It returns domain.ErrNotFound when no stats row
// exists yet.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	var snap domain.LedgerSnapshot
	st := &snap.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT total_trades, winning_trades, losing_trades, total_profit, total_loss,
			win_rate, average_profit, largest_win, largest_loss, daily_pnl, daily_date, saved_at
		FROM ledger_stats WHERE id = 1`,
	).Scan(
		&st.TotalTrades, &st.WinningTrades, &st.LosingTrades, &st.TotalProfit, &st.TotalLoss,
		&st.WinRate, &st.AverageProfit, &st.LargestWin, &st.LargestLoss,
		&snap.DailyPnL, &snap.DailyDate, &snap.SavedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load ledger stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, token_id, outcome, entry_price, size,
			opened_at, status, pnl, resolved_at
		FROM ledger_positions`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load ledger positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, scanPosition)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan ledger positions: %w", err)
	}

	snap.SavedAt = snap.SavedAt.UTC()
	snap.Positions = make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		snap.Positions[p.ID] = p
	}
	return snap, nil
}

func scanPosition(row pgx.CollectableRow) (domain.Position, error) {
	var (
		p      domain.Position
		status string
	)
	if err := row.Scan(
		&p.ID, &p.MarketID, &p.TokenID, &p.Outcome, &p.EntryPrice, &p.Size,
		&p.OpenedAt, &status, &p.PnL, &p.ResolvedAt,
	); err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.OpenedAt = p.OpenedAt.UTC()
	if p.ResolvedAt != nil {
		t := p.ResolvedAt.UTC()
		p.ResolvedAt = &t
	}
	return p, nil
}
