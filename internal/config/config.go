// Package config defines the top-level configuration for the bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SOLSENTRY_* environment
// variables.
type Config struct {
	DataDir string `toml:"data_dir"`

	Wallet      WalletConfig      `toml:"wallet"`
	RPC         RPCConfig         `toml:"rpc"`
	Jupiter     JupiterConfig     `toml:"jupiter"`
	Dexscreener DexscreenerConfig `toml:"dexscreener"`
	Binance     BinanceConfig     `toml:"binance"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Guard       GuardConfig       `toml:"guard"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Cooldown    CooldownConfig    `toml:"cooldown"`
	Executor    ExecutorConfig    `toml:"executor"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Notify      NotifyConfig      `toml:"notify"`
	Metrics     MetricsConfig     `toml:"metrics"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the Solana signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RPCConfig holds Solana RPC submission parameters.
type RPCConfig struct {
	URL                 string   `toml:"url"`
	MaxAttempts         int      `toml:"max_attempts"`
	RetryInterval       duration `toml:"retry_interval"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	ConfirmPollInterval duration `toml:"confirm_poll_interval"`
}

// JupiterConfig holds Jupiter aggregator parameters.
type JupiterConfig struct {
	BaseURL       string   `toml:"base_url"`
	Timeout       duration `toml:"timeout"`
	TokenDecimals int      `toml:"token_decimals"`
}

// DexscreenerConfig holds Dexscreener API parameters.
type DexscreenerConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// BinanceConfig holds the BTC reference feed parameters.
type BinanceConfig struct {
	RESTURL       string   `toml:"rest_url"`
	WSURL         string   `toml:"ws_url"`
	Symbol        string   `toml:"symbol"`
	StreamEnabled bool     `toml:"stream_enabled"`
	StreamMaxAge  duration `toml:"stream_max_age"`
}

// RedisConfig holds the optional shared price cache parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// PostgresConfig holds the optional trade-history archive parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
}

// S3Config holds the optional snapshot archive parameters.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// GuardConfig holds the market guard tuning.
type GuardConfig struct {
	CheckInterval    duration `toml:"check_interval"`
	PriceWindow      duration `toml:"price_window"`
	VolatilityWindow duration `toml:"volatility_window"`
	BaselineSamples  int      `toml:"baseline_samples"`
	CurrentSamples   int      `toml:"current_samples"`
	RedDrop30mPct    float64  `toml:"red_drop_30m_pct"`
	RedVolMultiplier float64  `toml:"red_vol_multiplier"`
	OrangeDrop4hPct  float64  `toml:"orange_drop_4h_pct"`
	MinorDrop4hPct   float64  `toml:"minor_drop_4h_pct"`
	YellowDrop1hPct  float64  `toml:"yellow_drop_1h_pct"`
	StableDrop1hPct  float64  `toml:"stable_drop_1h_pct"`
	StableDrop30mPct float64  `toml:"stable_drop_30m_pct"`
	StableDuration   duration `toml:"stable_duration"`
}

// MonitorConfig holds the exit monitor tuning.
type MonitorConfig struct {
	SlowInterval           duration `toml:"slow_interval"`
	FastEnabled            bool     `toml:"fast_enabled"`
	FastInterval           duration `toml:"fast_interval"`
	TrailingStopEnabled    bool     `toml:"trailing_stop_enabled"`
	TrailingStopPercent    float64  `toml:"trailing_stop_percent"`
	GuardSensitiveStrategy string   `toml:"guard_sensitive_strategy"`
	ScalpPartialPercent    float64  `toml:"scalp_partial_percent"`
	ScalpFinalMultiple     float64  `toml:"scalp_final_multiple"`
	DipMCTargetMultiple    float64  `toml:"dip_mc_target_multiple"`
}

// CooldownConfig holds the re-entry cooldown tuning.
type CooldownConfig struct {
	TokenCooldown        duration `toml:"token_cooldown"`
	RecentWindow         duration `toml:"recent_window"`
	ConsecutiveThreshold int      `toml:"consecutive_threshold"`
	PauseDuration        duration `toml:"pause_duration"`
}

// ExecutorConfig holds the sell execution tuning.
type ExecutorConfig struct {
	BaseSlippageBps int `toml:"base_slippage_bps"`
	MaxSlippageBps  int `toml:"max_slippage_bps"`
}

// LedgerConfig holds the position ledger tuning.
type LedgerConfig struct {
	DailyLossLimitSOL float64 `toml:"daily_loss_limit_sol"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus listener parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		DataDir: "data",
		RPC: RPCConfig{
			URL:                 "https://api.mainnet-beta.solana.com",
			MaxAttempts:         3,
			RetryInterval:       duration{2 * time.Second},
			ConfirmTimeout:      duration{45 * time.Second},
			ConfirmPollInterval: duration{2 * time.Second},
		},
		Jupiter: JupiterConfig{
			BaseURL:       "https://lite-api.jup.ag",
			Timeout:       duration{10 * time.Second},
			TokenDecimals: 6,
		},
		Dexscreener: DexscreenerConfig{
			BaseURL: "https://api.dexscreener.com",
			Timeout: duration{10 * time.Second},
		},
		Binance: BinanceConfig{
			RESTURL:       "https://api.binance.com",
			WSURL:         "wss://stream.binance.com:9443/ws",
			Symbol:        "BTCUSDT",
			StreamEnabled: true,
			StreamMaxAge:  duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "solsentry",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:          false,
			Region:           "us-east-1",
			UseSSL:           true,
			ForcePathStyle:   true,
			SnapshotInterval: duration{time.Hour},
		},
		Guard: GuardConfig{
			CheckInterval:    duration{5 * time.Minute},
			PriceWindow:      duration{5 * time.Hour},
			VolatilityWindow: duration{2 * time.Hour},
			BaselineSamples:  6,
			CurrentSamples:   3,
			RedDrop30mPct:    5.0,
			RedVolMultiplier: 10.0,
			OrangeDrop4hPct:  4.0,
			MinorDrop4hPct:   2.0,
			YellowDrop1hPct:  3.0,
			StableDrop1hPct:  1.0,
			StableDrop30mPct: 1.0,
			StableDuration:   duration{4 * time.Hour},
		},
		Monitor: MonitorConfig{
			SlowInterval:           duration{time.Minute},
			FastEnabled:            true,
			FastInterval:           duration{10 * time.Second},
			TrailingStopEnabled:    true,
			TrailingStopPercent:    15,
			GuardSensitiveStrategy: "scalp",
			ScalpPartialPercent:    80,
			ScalpFinalMultiple:     1.5,
			DipMCTargetMultiple:    2,
		},
		Cooldown: CooldownConfig{
			TokenCooldown:        duration{30 * time.Minute},
			RecentWindow:         duration{30 * time.Minute},
			ConsecutiveThreshold: 2,
			PauseDuration:        duration{90 * time.Minute},
		},
		Executor: ExecutorConfig{
			BaseSlippageBps: 100,
			MaxSlippageBps:  800,
		},
		Ledger: LedgerConfig{
			DailyLossLimitSOL: 0,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "stop_loss", "partial_exit", "guard_alert", "guard_clear"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9109",
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the accepted guard-sensitive strategy names.
var validStrategies = map[string]bool{
	"scalp":    true,
	"momentum": true,
	"dip":      true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.DataDir == "" {
		errs = append(errs, "data_dir must not be empty")
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// RPC
	if c.RPC.URL == "" {
		errs = append(errs, "rpc: url must not be empty")
	}
	if c.RPC.MaxAttempts < 1 {
		errs = append(errs, "rpc: max_attempts must be >= 1")
	}

	// Feeds
	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Jupiter.TokenDecimals < 0 || c.Jupiter.TokenDecimals > 18 {
		errs = append(errs, fmt.Sprintf("jupiter: token_decimals must be 0-18, got %d", c.Jupiter.TokenDecimals))
	}
	if c.Dexscreener.BaseURL == "" {
		errs = append(errs, "dexscreener: base_url must not be empty")
	}
	if c.Binance.RESTURL == "" {
		errs = append(errs, "binance: rest_url must not be empty")
	}
	if c.Binance.StreamEnabled && c.Binance.WSURL == "" {
		errs = append(errs, "binance: ws_url must not be empty when stream_enabled")
	}

	// Optional stores
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Guard
	if c.Guard.CheckInterval.Duration <= 0 {
		errs = append(errs, "guard: check_interval must be > 0")
	}
	if c.Guard.BaselineSamples < 2 {
		errs = append(errs, "guard: baseline_samples must be >= 2")
	}
	if c.Guard.CurrentSamples < 1 {
		errs = append(errs, "guard: current_samples must be >= 1")
	}
	if c.Guard.RedDrop30mPct <= 0 || c.Guard.YellowDrop1hPct <= 0 || c.Guard.OrangeDrop4hPct <= 0 {
		errs = append(errs, "guard: drop thresholds must be > 0")
	}

	// Monitors
	if c.Monitor.SlowInterval.Duration <= 0 {
		errs = append(errs, "monitor: slow_interval must be > 0")
	}
	if c.Monitor.FastEnabled && c.Monitor.FastInterval.Duration <= 0 {
		errs = append(errs, "monitor: fast_interval must be > 0 when fast_enabled")
	}
	if c.Monitor.TrailingStopEnabled && c.Monitor.TrailingStopPercent <= 0 {
		errs = append(errs, "monitor: trailing_stop_percent must be > 0 when trailing_stop_enabled")
	}
	if !validStrategies[c.Monitor.GuardSensitiveStrategy] {
		errs = append(errs, fmt.Sprintf("monitor: unknown guard_sensitive_strategy %q (valid: scalp, momentum, dip)", c.Monitor.GuardSensitiveStrategy))
	}
	if c.Monitor.ScalpPartialPercent <= 0 || c.Monitor.ScalpPartialPercent > 100 {
		errs = append(errs, fmt.Sprintf("monitor: scalp_partial_percent must be 1-100, got %g", c.Monitor.ScalpPartialPercent))
	}

	// Cooldown
	if c.Cooldown.TokenCooldown.Duration <= 0 {
		errs = append(errs, "cooldown: token_cooldown must be > 0")
	}
	if c.Cooldown.ConsecutiveThreshold < 1 {
		errs = append(errs, "cooldown: consecutive_threshold must be >= 1")
	}
	if c.Cooldown.PauseDuration.Duration <= 0 {
		errs = append(errs, "cooldown: pause_duration must be > 0")
	}

	// Executor
	if c.Executor.BaseSlippageBps <= 0 {
		errs = append(errs, "executor: base_slippage_bps must be > 0")
	}
	if c.Executor.MaxSlippageBps < c.Executor.BaseSlippageBps {
		errs = append(errs, "executor: max_slippage_bps must be >= base_slippage_bps")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
