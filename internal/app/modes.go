package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/certaintybot/internal/detector"
	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/alanyoungcy/certaintybot/internal/executor"
	"github.com/alanyoungcy/certaintybot/internal/feed"
	"github.com/alanyoungcy/certaintybot/internal/ledger"
	"github.com/alanyoungcy/certaintybot/internal/resolver"
	"github.com/alanyoungcy/certaintybot/internal/scanner"
	"github.com/alanyoungcy/certaintybot/internal/scheduler"
	"github.com/alanyoungcy/certaintybot/internal/server"
	"github.com/alanyoungcy/certaintybot/internal/server/handler"
	"github.com/alanyoungcy/certaintybot/internal/server/ws"
)

// traderLease guards against two processes trading the same wallet.
const traderLease = "certaintybot:trader"

// TradeMode runs the full pipeline: scan, stream, detect, execute, record
// and resolve.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	if !deps.Clob.IsAuthenticatedForTrading() {
		return fmt.Errorf("app: trade mode: %w", domain.ErrNotAuthenticated)
	}
	return a.runPipeline(ctx, deps, true)
}

// MonitorMode runs the same pipeline as TradeMode but only reports
// opportunities; nothing is submitted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runPipeline(ctx, deps, false)
}

func (a *App) runPipeline(ctx context.Context, deps *Dependencies, trading bool) error {
	cfg := a.cfg
	mode := ModeMonitor
	if trading {
		mode = ModeTrade
	}

	// Single trader per wallet when a lock manager is available.
	sched := scheduler.New(a.logger)
	if trading && deps.LockManager != nil {
		ttl := cfg.Redis.LeaseTTL.Duration
		unlock, err := deps.LockManager.Acquire(ctx, traderLease, ttl)
		if err != nil {
			return fmt.Errorf("app: acquire trader lease: %w", err)
		}
		defer unlock()
		sched.Add(scheduler.Task{
			Name:     "lease",
			Interval: ttl / 3,
			Fatal:    true,
			Fn: func(ctx context.Context) error {
				return deps.LockManager.Refresh(ctx, traderLease, ttl)
			},
		})
	}

	var (
		hub      *ws.Hub
		reporter *StatusReporter
	)
	if cfg.Server.Enabled {
		hub = ws.NewHub(nil, func() domain.Status { return reporter.Status() }, a.logger)
	}
	relay := NewEventRelay(hubPublisher(hub), deps.AuditStore, deps.SignalBus, deps.Notifier, 0, a.logger)

	book := ledger.New(ledger.Config{
		MaxExposure:    cfg.Risk.MaxExposure,
		DailyLossLimit: cfg.Risk.DailyLossLimit,
	}, deps.LedgerStore, relay, a.logger)
	if err := book.Load(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	scan := scanner.New(deps.Gamma, scanner.Config{
		CertaintyThreshold: cfg.Scanner.CertaintyThreshold,
		FarThreshold:       cfg.Scanner.FarThreshold,
		NearWindow:         cfg.Scanner.NearWindow.Duration,
	}, a.logger)

	stream := feed.New(feed.Config{
		URL:          strings.TrimRight(cfg.Polymarket.WsHost, "/") + "/ws/market",
		PingInterval: cfg.Feed.PingInterval.Duration,
		BaseDelay:    cfg.Feed.ReconnectBaseDelay.Duration,
		MaxAttempts:  cfg.Feed.MaxReconnectAttempts,
	}, websocket.DefaultDialer, a.logger)

	exec := executor.New(executor.Config{
		DefaultOrderSize:   cfg.Executor.DefaultOrderSize,
		MaxPositionSize:    cfg.Executor.MaxPositionSize,
		MinProfitThreshold: cfg.Detector.MinProfitThreshold,
		Staleness:          cfg.Executor.Staleness.Duration,
		SubmissionDelay:    cfg.Executor.SubmissionDelay.Duration,
		RateLimit:          cfg.Executor.RateLimit,
		RateWindow:         cfg.Executor.RateWindow.Duration,
	}, deps.Clob, book, a.recordTrade(book), relay, a.logger)
	if deps.RateLimiter != nil {
		exec.SetRateLimiter(deps.RateLimiter)
	}

	onOpp := func(context.Context, domain.Opportunity) {}
	if trading {
		onOpp = func(_ context.Context, opp domain.Opportunity) { exec.QueueOpportunity(opp) }
	}
	detect := detector.New(detector.Config{
		CertaintyThreshold:  cfg.Scanner.CertaintyThreshold,
		MaxBuyThreshold:     cfg.Detector.MaxBuyThreshold,
		MinProfitThreshold:  cfg.Detector.MinProfitThreshold,
		MaxPositionSize:     cfg.Executor.MaxPositionSize,
		DefaultMinOrderSize: cfg.Detector.DefaultMinOrderSize,
		Concurrency:         cfg.Detector.BookConcurrency,
		Cooldown:            cfg.Detector.Cooldown.Duration,
	}, deps.Clob, scan, stream, onOpp, relay, a.logger)
	if deps.PriceCache != nil || deps.BookCache != nil {
		detect.SetCaches(deps.PriceCache, deps.BookCache)
	}

	var queue queueDepth
	if trading {
		queue = exec
	}
	reporter = NewStatusReporter(mode, a.startedAt, stream, scan, queue, book)

	// Initial scan. A failed first scan is fatal; later ones are retried
	// on schedule.
	if err := scan.Scan(ctx); err != nil {
		return fmt.Errorf("app: initial scan: %w", err)
	}
	if err := stream.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial feed connect failed, reconnecting in background",
			slog.String("error", err.Error()),
		)
	}
	if err := detect.SubscribeToMarkets(ctx); err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	sched.Add(scheduler.Task{
		Name:     "scan",
		Interval: cfg.Scanner.Interval.Duration,
		Fn: func(ctx context.Context) error {
			if err := scan.Scan(ctx); err != nil {
				return err
			}
			return detect.SubscribeToMarkets(ctx)
		},
	})
	sched.Add(scheduler.Task{
		Name:           "book_refresh",
		Interval:       cfg.Detector.RefreshInterval.Duration,
		RunImmediately: true,
		Fn:             detect.RefreshBooks,
	})
	sched.Add(scheduler.Task{
		Name:     "status",
		Interval: cfg.StatusInterval.Duration,
		Fn:       reporter.LogStatus(a.logger),
	})
	if cfg.Resolver.Enabled {
		res := resolver.New(deps.Gamma, book, a.logger)
		if deps.RateLimiter != nil {
			res.SetRateLimiter(deps.RateLimiter)
		}
		sched.Add(scheduler.Task{
			Name:     "resolver",
			Interval: cfg.Resolver.Interval.Duration,
			Fn: func(ctx context.Context) error {
				_, err := res.CheckResolutions(ctx)
				return err
			},
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return detect.Run(gctx, stream.Events()) })
	if trading {
		g.Go(func() error { return exec.Run(gctx) })
	}
	g.Go(func() error { return sched.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		return stream.Close()
	})

	if cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, hub, reporter, scan, book)
	}

	return graceful(g.Wait())
}

// recordTrade turns matched trades into ledger positions. Failed trades are
// already reported by the executor.
func (a *App) recordTrade(book *ledger.Ledger) executor.TradeHandler {
	return func(ctx context.Context, trade domain.Trade) {
		if trade.Status != domain.TradeStatusMatched {
			return
		}
		if _, err := book.AddPosition(ctx, trade); err != nil {
			a.logger.ErrorContext(ctx, "failed to record position",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ServerMode serves the API over the persisted ledger without trading. The
// ledger is reloaded periodically and live events are relayed from the
// signal bus when Redis is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	var reporter *StatusReporter
	hub := ws.NewHub(deps.SignalBus, func() domain.Status { return reporter.Status() }, a.logger)

	book := ledger.New(ledger.Config{
		MaxExposure:    a.cfg.Risk.MaxExposure,
		DailyLossLimit: a.cfg.Risk.DailyLossLimit,
	}, deps.LedgerStore, nil, a.logger)
	if err := book.Load(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	reporter = NewStatusReporter(ModeServer, a.startedAt, nil, nil, nil, book)

	g, gctx := errgroup.WithContext(ctx)
	sched := scheduler.New(a.logger,
		scheduler.Task{
			Name:     "ledger_reload",
			Interval: a.cfg.StatusInterval.Duration,
			Fn:       book.Load,
		},
	)
	g.Go(func() error { return sched.Run(gctx) })

	a.startHTTPServer(gctx, g, deps, hub, reporter, nil, book)

	return graceful(g.Wait())
}

// startHTTPServer registers the hub and server goroutines on g. watchlist
// may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	status handler.StatusProvider,
	watchlist handler.WatchlistProvider,
	book *ledger.Ledger,
) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.startedAt),
		Status:    handler.NewStatusHandler(status, watchlist),
		Positions: handler.NewPositionHandler(book, a.logger),
	}
	if deps.PriceCache != nil && deps.BookCache != nil {
		handlers.Prices = handler.NewPriceHandler(deps.PriceCache, deps.BookCache, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
}

// hubPublisher avoids handing a typed nil hub to the relay.
func hubPublisher(hub *ws.Hub) Publisher {
	if hub == nil {
		return nil
	}
	return hub
}

// graceful maps shutdown-by-cancellation to a clean exit.
func graceful(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

