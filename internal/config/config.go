// Package config defines the top-level configuration for the certainty bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CERTAINTYBOT_* environment variables.
type Config struct {
	Wallet         WalletConfig     `toml:"wallet"`
	Polymarket     PolymarketConfig `toml:"polymarket"`
	Feed           FeedConfig       `toml:"feed"`
	Scanner        ScannerConfig    `toml:"scanner"`
	Detector       DetectorConfig   `toml:"detector"`
	Executor       ExecutorConfig   `toml:"executor"`
	Risk           RiskConfig       `toml:"risk"`
	Resolver       ResolverConfig   `toml:"resolver"`
	Store          StoreConfig      `toml:"store"`
	Postgres       PostgresConfig   `toml:"postgres"`
	Redis          RedisConfig      `toml:"redis"`
	S3             S3Config         `toml:"s3"`
	Server         ServerConfig     `toml:"server"`
	Notify         NotifyConfig     `toml:"notify"`
	Mode           string           `toml:"mode"`
	LogLevel       string           `toml:"log_level"`
	StatusInterval duration         `toml:"status_interval"`
}

// WalletConfig holds the signing key used for venue orders.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	SafeAddress string `toml:"safe_address"`
	// Pre-provisioned CLOB API credentials. When empty they are derived
	// from the private key at startup.
	APIKey        string `toml:"api_key"`
	APISecret     string `toml:"api_secret"`
	APIPassphrase string `toml:"api_passphrase"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string   `toml:"clob_host"`
	GammaHost     string   `toml:"gamma_host"`
	WsHost        string   `toml:"ws_host"`
	ChainID       int      `toml:"chain_id"`
	SignatureType int      `toml:"signature_type"`
	PageSize      int      `toml:"page_size"`
	Timeout       duration `toml:"timeout"`
}

// FeedConfig controls the push connection and its reconnect policy.
type FeedConfig struct {
	PingInterval         duration `toml:"ping_interval"`
	ReconnectBaseDelay   duration `toml:"reconnect_base_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// ScannerConfig controls market eligibility.
type ScannerConfig struct {
	Interval           duration `toml:"interval"`
	CertaintyThreshold float64  `toml:"certainty_threshold"`
	FarThreshold       float64  `toml:"far_threshold"`
	NearWindow         duration `toml:"near_window"`
}

// DetectorConfig controls the opportunity rule.
type DetectorConfig struct {
	MaxBuyThreshold     float64  `toml:"max_buy_threshold"`
	MinProfitThreshold  float64  `toml:"min_profit_threshold"`
	RefreshInterval     duration `toml:"refresh_interval"`
	DefaultMinOrderSize float64  `toml:"default_min_order_size"`
	BookConcurrency     int      `toml:"book_concurrency"`
	// Cooldown suppresses repeat opportunities per token; 0 keeps every one.
	Cooldown duration `toml:"cooldown"`
}

// ExecutorConfig controls sizing and the submission queue.
type ExecutorConfig struct {
	DefaultOrderSize float64  `toml:"default_order_size"`
	MaxPositionSize  float64  `toml:"max_position_size"`
	Staleness        duration `toml:"staleness"`
	SubmissionDelay  duration `toml:"submission_delay"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
}

// RiskConfig holds the ledger gating limits.
type RiskConfig struct {
	MaxExposure    float64 `toml:"max_exposure"`
	DailyLossLimit float64 `toml:"daily_loss_limit"`
}

// ResolverConfig controls resolution polling of open positions.
type ResolverConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// StoreConfig selects where the ledger snapshot is persisted.
type StoreConfig struct {
	Backend    string `toml:"backend"` // sqlite, postgres, s3
	SQLitePath string `toml:"sqlite_path"`
	S3Key      string `toml:"s3_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Audit         bool   `toml:"audit"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LeaseTTL     duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
			PageSize:      500,
			Timeout:       duration{15 * time.Second},
		},
		Feed: FeedConfig{
			PingInterval:         duration{30 * time.Second},
			ReconnectBaseDelay:   duration{time.Second},
			MaxReconnectAttempts: 10,
		},
		Scanner: ScannerConfig{
			Interval:           duration{time.Minute},
			CertaintyThreshold: 0.95,
			FarThreshold:       0.99,
			NearWindow:         duration{24 * time.Hour},
		},
		Detector: DetectorConfig{
			MaxBuyThreshold:     0.99,
			MinProfitThreshold:  0.10,
			RefreshInterval:     duration{10 * time.Second},
			DefaultMinOrderSize: 5,
			BookConcurrency:     4,
		},
		Executor: ExecutorConfig{
			DefaultOrderSize: 10,
			MaxPositionSize:  100,
			Staleness:        duration{5 * time.Second},
			SubmissionDelay:  duration{250 * time.Millisecond},
			RateLimit:        60,
			RateWindow:       duration{time.Minute},
		},
		Risk: RiskConfig{
			MaxExposure:    500,
			DailyLossLimit: 50,
		},
		Resolver: ResolverConfig{
			Enabled:  true,
			Interval: duration{2 * time.Minute},
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "certaintybot.db",
			S3Key:      "ledger/snapshot.json",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10000,
			LeaseTTL:     duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "certaintybot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "position_resolved", "feed_exhausted"},
		},
		Mode:           "trade",
		LogLevel:       "info",
		StatusInterval: duration{time.Minute},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"s3":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.EqualFold(c.Mode, "trade") && c.Wallet.PrivateKey == "" {
		errs = append(errs, "wallet: private_key must be set for mode trade")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.PageSize < 1 {
		errs = append(errs, "polymarket: page_size must be >= 1")
	}

	// Feed
	if c.Feed.PingInterval.Duration <= 0 {
		errs = append(errs, "feed: ping_interval must be > 0")
	}
	if c.Feed.ReconnectBaseDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_base_delay must be > 0")
	}
	if c.Feed.MaxReconnectAttempts < 1 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 1")
	}

	// Thresholds
	if !inUnit(c.Scanner.CertaintyThreshold) {
		errs = append(errs, "scanner: certainty_threshold must be in (0,1]")
	}
	if !inUnit(c.Scanner.FarThreshold) || c.Scanner.FarThreshold < c.Scanner.CertaintyThreshold {
		errs = append(errs, "scanner: far_threshold must be in (0,1] and >= certainty_threshold")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.NearWindow.Duration <= 0 {
		errs = append(errs, "scanner: near_window must be > 0")
	}
	if !inUnit(c.Detector.MaxBuyThreshold) || c.Detector.MaxBuyThreshold < c.Scanner.CertaintyThreshold {
		errs = append(errs, "detector: max_buy_threshold must be in (0,1] and >= scanner.certainty_threshold")
	}
	if c.Detector.MinProfitThreshold < 0 {
		errs = append(errs, "detector: min_profit_threshold must be >= 0")
	}
	if c.Detector.RefreshInterval.Duration <= 0 {
		errs = append(errs, "detector: refresh_interval must be > 0")
	}
	if c.Detector.Cooldown.Duration < 0 {
		errs = append(errs, "detector: cooldown must be >= 0")
	}
	if c.Detector.BookConcurrency < 1 {
		errs = append(errs, "detector: book_concurrency must be >= 1")
	}

	// Executor
	if c.Executor.DefaultOrderSize <= 0 {
		errs = append(errs, "executor: default_order_size must be > 0")
	}
	if c.Executor.MaxPositionSize <= 0 {
		errs = append(errs, "executor: max_position_size must be > 0")
	}
	if c.Executor.Staleness.Duration <= 0 {
		errs = append(errs, "executor: staleness must be > 0")
	}
	if c.Executor.SubmissionDelay.Duration < 0 {
		errs = append(errs, "executor: submission_delay must be >= 0")
	}

	// Risk
	if c.Risk.MaxExposure <= 0 {
		errs = append(errs, "risk: max_exposure must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}

	if c.Resolver.Enabled && c.Resolver.Interval.Duration <= 0 {
		errs = append(errs, "resolver: interval must be > 0 when enabled")
	}
	if c.StatusInterval.Duration <= 0 {
		errs = append(errs, "status_interval must be > 0")
	}

	// Store
	switch {
	case !validBackends[strings.ToLower(c.Store.Backend)]:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: sqlite, postgres, s3)", c.Store.Backend))
	case c.Store.Backend == "sqlite" && c.Store.SQLitePath == "":
		errs = append(errs, "store: sqlite_path must not be empty")
	case c.Store.Backend == "s3" && c.Store.S3Key == "":
		errs = append(errs, "store: s3_key must not be empty")
	}

	// Postgres
	if c.Store.Backend == "postgres" || c.Postgres.Audit {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be >= 1s")
		}
	}

	// S3
	if c.Store.Backend == "s3" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func inUnit(v float64) bool {
	return v > 0 && v <= 1
}
