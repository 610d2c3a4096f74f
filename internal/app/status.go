package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

type feedState interface{ Connected() bool }

type watchCounter interface{ Len() int }

type queueDepth interface{ QueueDepth() int }

type ledgerView interface {
	Stats() domain.TradingStats
	Exposure() float64
	DailyPnL() float64
	Positions(status domain.PositionStatus) []domain.Position
}

// StatusReporter assembles domain.Status from whichever components the
// current mode runs. Nil components report zero values.
type StatusReporter struct {
	mode      string
	startedAt time.Time
	now       func() time.Time

	feed      feedState
	watchlist watchCounter
	queue     queueDepth
	ledger    ledgerView
}

// NewStatusReporter creates a reporter. Any component may be nil.
func NewStatusReporter(mode string, startedAt time.Time, feed feedState, watchlist watchCounter, queue queueDepth, ledger ledgerView) *StatusReporter {
	return &StatusReporter{
		mode:      mode,
		startedAt: startedAt,
		now:       time.Now,
		feed:      feed,
		watchlist: watchlist,
		queue:     queue,
		ledger:    ledger,
	}
}

// Status returns a point-in-time summary.
func (r *StatusReporter) Status() domain.Status {
	st := domain.Status{
		Mode:          r.mode,
		UptimeSeconds: int64(r.now().Sub(r.startedAt).Seconds()),
	}
	if r.feed != nil {
		st.FeedConnected = r.feed.Connected()
	}
	if r.watchlist != nil {
		st.Watched = r.watchlist.Len()
	}
	if r.queue != nil {
		st.QueueDepth = r.queue.QueueDepth()
	}
	if r.ledger != nil {
		st.OpenPositions = len(r.ledger.Positions(domain.PositionStatusOpen))
		st.Exposure = r.ledger.Exposure()
		st.DailyPnL = r.ledger.DailyPnL()
		st.Stats = r.ledger.Stats()
	}
	return st
}

// LogStatus writes the current status as one structured line. It matches
// the scheduler task signature.
func (r *StatusReporter) LogStatus(logger *slog.Logger) func(context.Context) error {
	return func(context.Context) error {
		st := r.Status()
		logger.Info("status",
			slog.String("mode", st.Mode),
			slog.Bool("feed_connected", st.FeedConnected),
			slog.Int("watched", st.Watched),
			slog.Int("queue_depth", st.QueueDepth),
			slog.Int("open_positions", st.OpenPositions),
			slog.Float64("exposure", st.Exposure),
			slog.Float64("daily_pnl", st.DailyPnL),
			slog.Int("total_trades", st.Stats.TotalTrades),
			slog.Float64("win_rate", st.Stats.WinRate),
			slog.Int64("uptime_s", st.UptimeSeconds),
		)
		return nil
	}
}
