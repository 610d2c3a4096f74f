package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CERTAINTYBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CERTAINTYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CERTAINTYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "CERTAINTYBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.APIKey, "CERTAINTYBOT_WALLET_API_KEY")
	setStr(&cfg.Wallet.APISecret, "CERTAINTYBOT_WALLET_API_SECRET")
	setStr(&cfg.Wallet.APIPassphrase, "CERTAINTYBOT_WALLET_API_PASSPHRASE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "CERTAINTYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "CERTAINTYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "CERTAINTYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "CERTAINTYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "CERTAINTYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Feed ──
	setDuration(&cfg.Feed.PingInterval, "CERTAINTYBOT_FEED_PING_INTERVAL")
	setDuration(&cfg.Feed.ReconnectBaseDelay, "CERTAINTYBOT_FEED_RECONNECT_BASE_DELAY")
	setInt(&cfg.Feed.MaxReconnectAttempts, "CERTAINTYBOT_FEED_MAX_RECONNECT_ATTEMPTS")

	// ── Scanner / Detector ──
	setDuration(&cfg.Scanner.Interval, "CERTAINTYBOT_SCANNER_INTERVAL")
	setFloat64(&cfg.Scanner.CertaintyThreshold, "CERTAINTYBOT_SCANNER_CERTAINTY_THRESHOLD")
	setFloat64(&cfg.Scanner.FarThreshold, "CERTAINTYBOT_SCANNER_FAR_THRESHOLD")
	setFloat64(&cfg.Detector.MaxBuyThreshold, "CERTAINTYBOT_DETECTOR_MAX_BUY_THRESHOLD")
	setFloat64(&cfg.Detector.MinProfitThreshold, "CERTAINTYBOT_DETECTOR_MIN_PROFIT_THRESHOLD")
	setDuration(&cfg.Detector.RefreshInterval, "CERTAINTYBOT_DETECTOR_REFRESH_INTERVAL")
	setDuration(&cfg.Detector.Cooldown, "CERTAINTYBOT_DETECTOR_COOLDOWN")

	// ── Executor / Risk ──
	setFloat64(&cfg.Executor.DefaultOrderSize, "CERTAINTYBOT_EXECUTOR_DEFAULT_ORDER_SIZE")
	setFloat64(&cfg.Executor.MaxPositionSize, "CERTAINTYBOT_EXECUTOR_MAX_POSITION_SIZE")
	setDuration(&cfg.Executor.Staleness, "CERTAINTYBOT_EXECUTOR_STALENESS")
	setDuration(&cfg.Executor.SubmissionDelay, "CERTAINTYBOT_EXECUTOR_SUBMISSION_DELAY")
	setFloat64(&cfg.Risk.MaxExposure, "CERTAINTYBOT_RISK_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.DailyLossLimit, "CERTAINTYBOT_RISK_DAILY_LOSS_LIMIT")

	// ── Resolver ──
	setBool(&cfg.Resolver.Enabled, "CERTAINTYBOT_RESOLVER_ENABLED")
	setDuration(&cfg.Resolver.Interval, "CERTAINTYBOT_RESOLVER_INTERVAL")

	// ── Store ──
	setStr(&cfg.Store.Backend, "CERTAINTYBOT_STORE_BACKEND")
	setStr(&cfg.Store.SQLitePath, "CERTAINTYBOT_STORE_SQLITE_PATH")
	setStr(&cfg.Store.S3Key, "CERTAINTYBOT_STORE_S3_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CERTAINTYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CERTAINTYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CERTAINTYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CERTAINTYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CERTAINTYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CERTAINTYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CERTAINTYBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "CERTAINTYBOT_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Audit, "CERTAINTYBOT_POSTGRES_AUDIT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CERTAINTYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CERTAINTYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CERTAINTYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CERTAINTYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "CERTAINTYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CERTAINTYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CERTAINTYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CERTAINTYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CERTAINTYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CERTAINTYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CERTAINTYBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CERTAINTYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CERTAINTYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CERTAINTYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CERTAINTYBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CERTAINTYBOT_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "CERTAINTYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CERTAINTYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CERTAINTYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CERTAINTYBOT_MODE")
	setStr(&cfg.LogLevel, "CERTAINTYBOT_LOG_LEVEL")
	setDuration(&cfg.StatusInterval, "CERTAINTYBOT_STATUS_INTERVAL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
