package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/certaintybot/internal/blob/s3"
	"github.com/alanyoungcy/certaintybot/internal/cache/redis"
	"github.com/alanyoungcy/certaintybot/internal/config"
	"github.com/alanyoungcy/certaintybot/internal/crypto"
	"github.com/alanyoungcy/certaintybot/internal/domain"
	"github.com/alanyoungcy/certaintybot/internal/notify"
	"github.com/alanyoungcy/certaintybot/internal/platform/polymarket"
	"github.com/alanyoungcy/certaintybot/internal/store/postgres"
	"github.com/alanyoungcy/certaintybot/internal/store/sqlite"
)

// Dependencies bundles every concrete collaborator the modes need. Redis
// backed fields are nil when Redis is disabled; AuditStore is nil when no
// backend provides one.
type Dependencies struct {
	// Persistence
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Venue
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}
	backend := strings.ToLower(cfg.Store.Backend)

	// --- PostgreSQL (ledger backend and/or audit log) ---
	if backend == "postgres" || cfg.Postgres.Audit {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		if backend == "postgres" {
			deps.LedgerStore = postgres.NewLedgerStore(pool)
		}
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Ledger backend ---
	switch backend {
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.LedgerStore = store
		if deps.AuditStore == nil {
			deps.AuditStore = store
		}

	case "s3":
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.LedgerStore = s3blob.NewLedgerStore(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.Store.S3Key)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		ttl := cfg.Redis.CacheTTL.Duration
		deps.PriceCache = redis.NewPriceCache(redisClient, ttl)
		deps.BookCache = redis.NewOrderbookCache(redisClient, ttl)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Executor.RateLimit, cfg.Executor.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	}

	// --- Venue ---
	timeout := cfg.Polymarket.Timeout.Duration
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.PageSize, timeout)

	var signer *crypto.Signer
	if cfg.Wallet.PrivateKey != "" {
		s, err := crypto.NewSigner(cfg.Wallet.PrivateKey, int64(cfg.Polymarket.ChainID))
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		signer = s
	}
	deps.Clob = polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       cfg.Polymarket.ClobHost,
		Timeout:       timeout,
		SignatureType: cfg.Polymarket.SignatureType,
		FunderAddress: cfg.Wallet.SafeAddress,
	}, signer)

	if signer != nil {
		if cfg.Wallet.APIKey != "" {
			deps.Clob.SetCredentials(crypto.HMACAuth{
				Key:        cfg.Wallet.APIKey,
				Secret:     cfg.Wallet.APISecret,
				Passphrase: cfg.Wallet.APIPassphrase,
			})
		} else if strings.EqualFold(cfg.Mode, "trade") {
			if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
			logger.Info("derived CLOB API credentials", slog.String("address", signer.Address().Hex()))
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.Warn("telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
