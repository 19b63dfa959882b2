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
// built-in defaults, applies SOLSENTRY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLSENTRY_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.DataDir, "SOLSENTRY_DATA_DIR")
	setStr(&cfg.LogLevel, "SOLSENTRY_LOG_LEVEL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLSENTRY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLSENTRY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLSENTRY_WALLET_KEY_PASSWORD")

	// ── RPC ──
	setStr(&cfg.RPC.URL, "SOLSENTRY_RPC_URL")
	setInt(&cfg.RPC.MaxAttempts, "SOLSENTRY_RPC_MAX_ATTEMPTS")
	setDuration(&cfg.RPC.RetryInterval, "SOLSENTRY_RPC_RETRY_INTERVAL")
	setDuration(&cfg.RPC.ConfirmTimeout, "SOLSENTRY_RPC_CONFIRM_TIMEOUT")
	setDuration(&cfg.RPC.ConfirmPollInterval, "SOLSENTRY_RPC_CONFIRM_POLL_INTERVAL")

	// ── Feeds ──
	setStr(&cfg.Jupiter.BaseURL, "SOLSENTRY_JUPITER_BASE_URL")
	setInt(&cfg.Jupiter.TokenDecimals, "SOLSENTRY_JUPITER_TOKEN_DECIMALS")
	setDuration(&cfg.Jupiter.Timeout, "SOLSENTRY_JUPITER_TIMEOUT")
	setStr(&cfg.Dexscreener.BaseURL, "SOLSENTRY_DEXSCREENER_BASE_URL")
	setDuration(&cfg.Dexscreener.Timeout, "SOLSENTRY_DEXSCREENER_TIMEOUT")
	setStr(&cfg.Binance.RESTURL, "SOLSENTRY_BINANCE_REST_URL")
	setStr(&cfg.Binance.WSURL, "SOLSENTRY_BINANCE_WS_URL")
	setStr(&cfg.Binance.Symbol, "SOLSENTRY_BINANCE_SYMBOL")
	setBool(&cfg.Binance.StreamEnabled, "SOLSENTRY_BINANCE_STREAM_ENABLED")
	setDuration(&cfg.Binance.StreamMaxAge, "SOLSENTRY_BINANCE_STREAM_MAX_AGE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SOLSENTRY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SOLSENTRY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLSENTRY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLSENTRY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLSENTRY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLSENTRY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLSENTRY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "SOLSENTRY_REDIS_PRICE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SOLSENTRY_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SOLSENTRY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLSENTRY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLSENTRY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLSENTRY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLSENTRY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLSENTRY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLSENTRY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLSENTRY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLSENTRY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLSENTRY_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SOLSENTRY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SOLSENTRY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLSENTRY_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLSENTRY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLSENTRY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLSENTRY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLSENTRY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLSENTRY_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.SnapshotInterval, "SOLSENTRY_S3_SNAPSHOT_INTERVAL")

	// ── Guard ──
	setDuration(&cfg.Guard.CheckInterval, "SOLSENTRY_GUARD_CHECK_INTERVAL")
	setDuration(&cfg.Guard.PriceWindow, "SOLSENTRY_GUARD_PRICE_WINDOW")
	setDuration(&cfg.Guard.VolatilityWindow, "SOLSENTRY_GUARD_VOLATILITY_WINDOW")
	setInt(&cfg.Guard.BaselineSamples, "SOLSENTRY_GUARD_BASELINE_SAMPLES")
	setInt(&cfg.Guard.CurrentSamples, "SOLSENTRY_GUARD_CURRENT_SAMPLES")
	setFloat64(&cfg.Guard.RedDrop30mPct, "SOLSENTRY_GUARD_RED_DROP_30M_PCT")
	setFloat64(&cfg.Guard.RedVolMultiplier, "SOLSENTRY_GUARD_RED_VOL_MULTIPLIER")
	setFloat64(&cfg.Guard.OrangeDrop4hPct, "SOLSENTRY_GUARD_ORANGE_DROP_4H_PCT")
	setFloat64(&cfg.Guard.MinorDrop4hPct, "SOLSENTRY_GUARD_MINOR_DROP_4H_PCT")
	setFloat64(&cfg.Guard.YellowDrop1hPct, "SOLSENTRY_GUARD_YELLOW_DROP_1H_PCT")
	setFloat64(&cfg.Guard.StableDrop1hPct, "SOLSENTRY_GUARD_STABLE_DROP_1H_PCT")
	setFloat64(&cfg.Guard.StableDrop30mPct, "SOLSENTRY_GUARD_STABLE_DROP_30M_PCT")
	setDuration(&cfg.Guard.StableDuration, "SOLSENTRY_GUARD_STABLE_DURATION")

	// ── Monitor ──
	setDuration(&cfg.Monitor.SlowInterval, "SOLSENTRY_MONITOR_SLOW_INTERVAL")
	setBool(&cfg.Monitor.FastEnabled, "SOLSENTRY_MONITOR_FAST_ENABLED")
	setDuration(&cfg.Monitor.FastInterval, "SOLSENTRY_MONITOR_FAST_INTERVAL")
	setBool(&cfg.Monitor.TrailingStopEnabled, "SOLSENTRY_MONITOR_TRAILING_STOP_ENABLED")
	setFloat64(&cfg.Monitor.TrailingStopPercent, "SOLSENTRY_MONITOR_TRAILING_STOP_PERCENT")
	setStr(&cfg.Monitor.GuardSensitiveStrategy, "SOLSENTRY_MONITOR_GUARD_SENSITIVE_STRATEGY")
	setFloat64(&cfg.Monitor.ScalpPartialPercent, "SOLSENTRY_MONITOR_SCALP_PARTIAL_PERCENT")
	setFloat64(&cfg.Monitor.ScalpFinalMultiple, "SOLSENTRY_MONITOR_SCALP_FINAL_MULTIPLE")
	setFloat64(&cfg.Monitor.DipMCTargetMultiple, "SOLSENTRY_MONITOR_DIP_MC_TARGET_MULTIPLE")

	// ── Cooldown ──
	setDuration(&cfg.Cooldown.TokenCooldown, "SOLSENTRY_COOLDOWN_TOKEN_COOLDOWN")
	setDuration(&cfg.Cooldown.RecentWindow, "SOLSENTRY_COOLDOWN_RECENT_WINDOW")
	setInt(&cfg.Cooldown.ConsecutiveThreshold, "SOLSENTRY_COOLDOWN_CONSECUTIVE_THRESHOLD")
	setDuration(&cfg.Cooldown.PauseDuration, "SOLSENTRY_COOLDOWN_PAUSE_DURATION")

	// ── Executor ──
	setInt(&cfg.Executor.BaseSlippageBps, "SOLSENTRY_EXECUTOR_BASE_SLIPPAGE_BPS")
	setInt(&cfg.Executor.MaxSlippageBps, "SOLSENTRY_EXECUTOR_MAX_SLIPPAGE_BPS")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.DailyLossLimitSOL, "SOLSENTRY_LEDGER_DAILY_LOSS_LIMIT_SOL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLSENTRY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLSENTRY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLSENTRY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLSENTRY_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SOLSENTRY_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "SOLSENTRY_METRICS_ADDR")
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
