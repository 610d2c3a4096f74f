package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestTradeModeRequiresKey(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: private_key")
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Scanner.CertaintyThreshold = 1.5
	cfg.Risk.MaxExposure = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, `unknown mode "bogus"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "certainty_threshold")
	assert.Contains(t, msg, "risk: max_exposure")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[scanner]
interval = "30s"
certainty_threshold = 0.96

[executor]
staleness = "3s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CERTAINTYBOT_RISK_MAX_EXPOSURE", "250")
	t.Setenv("CERTAINTYBOT_NOTIFY_EVENTS", "opportunity, trade_failed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Scanner.Interval.Duration)
	assert.InDelta(t, 0.96, cfg.Scanner.CertaintyThreshold, 1e-9)
	assert.InDelta(t, 0.99, cfg.Scanner.FarThreshold, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Executor.Staleness.Duration)
	assert.InDelta(t, 250.0, cfg.Risk.MaxExposure, 1e-9)
	assert.Equal(t, []string{"opportunity", "trade_failed"}, cfg.Notify.Events)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "", out.S3.SecretKey)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
