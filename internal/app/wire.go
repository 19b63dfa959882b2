package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/dmarkhas/solsentry/internal/blob/s3"
	"github.com/dmarkhas/solsentry/internal/cache/redis"
	"github.com/dmarkhas/solsentry/internal/config"
	"github.com/dmarkhas/solsentry/internal/cooldown"
	"github.com/dmarkhas/solsentry/internal/domain"
	"github.com/dmarkhas/solsentry/internal/executor"
	"github.com/dmarkhas/solsentry/internal/guard"
	"github.com/dmarkhas/solsentry/internal/ledger"
	"github.com/dmarkhas/solsentry/internal/metrics"
	"github.com/dmarkhas/solsentry/internal/monitor"
	"github.com/dmarkhas/solsentry/internal/notify"
	"github.com/dmarkhas/solsentry/internal/platform/binance"
	"github.com/dmarkhas/solsentry/internal/platform/dexscreener"
	"github.com/dmarkhas/solsentry/internal/platform/jupiter"
	"github.com/dmarkhas/solsentry/internal/store/docstore"
	"github.com/dmarkhas/solsentry/internal/store/postgres"
	"github.com/dmarkhas/solsentry/internal/wallet"
)

// State document filenames under the data directory.
const (
	tradesFile   = "active_trades.json"
	statsFile    = "trade_stats.json"
	guardFile    = "market_guard.json"
	cooldownFile = "cooldowns.json"
)

// Dependencies bundles everything the application run loop needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger   *ledger.Ledger
	Cooldown *cooldown.Register
	Guard    *guard.Guard
	Executor *executor.SellExecutor
	Slow     *monitor.SlowMonitor
	Fast     *monitor.FastMonitor // nil when disabled

	Wallet      *wallet.Wallet
	BTCStream   *binance.Stream     // nil when disabled
	Snapshotter *s3blob.Snapshotter // nil when disabled
	Notifier    *notify.Notifier
	Metrics     *metrics.Metrics // nil when disabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Wallet ---
	key, err := wallet.LoadKey(wallet.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}
	deps.Wallet, err = wallet.New(key, wallet.Config{
		RPCURL:              cfg.RPC.URL,
		MaxAttempts:         cfg.RPC.MaxAttempts,
		RetryInterval:       cfg.RPC.RetryInterval.Duration,
		ConfirmTimeout:      cfg.RPC.ConfirmTimeout.Duration,
		ConfirmPollInterval: cfg.RPC.ConfirmPollInterval.Duration,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet: %w", err)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Optional trade-history archive ---
	var history domain.HistoryStore
	if cfg.Postgres.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		history = postgres.NewHistory(pgClient.Pool())
	}

	// --- State documents ---
	tradesDoc, err := docstore.New(cfg.DataDir, tradesFile)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: trades document: %w", err)
	}
	statsDoc, err := docstore.New(cfg.DataDir, statsFile)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: stats document: %w", err)
	}
	guardDoc, err := docstore.New(cfg.DataDir, guardFile)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: guard document: %w", err)
	}
	cooldownDoc, err := docstore.New(cfg.DataDir, cooldownFile)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: cooldown document: %w", err)
	}

	// --- Core state owners ---
	deps.Ledger, err = ledger.New(tradesDoc, statsDoc, history, deps.Notifier, ledger.Config{
		DailyLossLimitSOL: cfg.Ledger.DailyLossLimitSOL,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}

	deps.Cooldown, err = cooldown.New(cooldownDoc, cooldown.Config{
		TokenCooldown:        cfg.Cooldown.TokenCooldown.Duration,
		RecentWindow:         cfg.Cooldown.RecentWindow.Duration,
		ConsecutiveThreshold: cfg.Cooldown.ConsecutiveThreshold,
		PauseDuration:        cfg.Cooldown.PauseDuration.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: cooldown: %w", err)
	}

	// --- Feeds ---
	if cfg.Binance.StreamEnabled {
		deps.BTCStream = binance.NewStream(cfg.Binance.WSURL, cfg.Binance.Symbol, cfg.Binance.StreamMaxAge.Duration, logger)
	}
	btc := binance.New(cfg.Binance.RESTURL, cfg.Binance.Symbol, 0, deps.BTCStream)

	marketFeed := dexscreener.New(cfg.Dexscreener.BaseURL, cfg.Dexscreener.Timeout.Duration)
	jup := jupiter.New(cfg.Jupiter.BaseURL, cfg.Jupiter.Timeout.Duration, cfg.Jupiter.TokenDecimals)

	var priceFeed domain.PriceFeed = jup
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		priceFeed = redis.NewCachedPriceFeed(redisClient, jup, cfg.Redis.PriceTTL.Duration, logger)
	}

	// --- Market guard ---
	deps.Guard, err = guard.New(btc, guardDoc, deps.Notifier, history, guard.Config{
		CheckInterval:    cfg.Guard.CheckInterval.Duration,
		PriceWindow:      cfg.Guard.PriceWindow.Duration,
		VolatilityWindow: cfg.Guard.VolatilityWindow.Duration,
		BaselineSamples:  cfg.Guard.BaselineSamples,
		CurrentSamples:   cfg.Guard.CurrentSamples,
		RedDrop30mPct:    cfg.Guard.RedDrop30mPct,
		RedVolMultiplier: cfg.Guard.RedVolMultiplier,
		OrangeDrop4hPct:  cfg.Guard.OrangeDrop4hPct,
		MinorDrop4hPct:   cfg.Guard.MinorDrop4hPct,
		YellowDrop1hPct:  cfg.Guard.YellowDrop1hPct,
		StableDrop1hPct:  cfg.Guard.StableDrop1hPct,
		StableDrop30mPct: cfg.Guard.StableDrop30mPct,
		StableDuration:   cfg.Guard.StableDuration.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: guard: %w", err)
	}

	// --- Executor and monitors ---
	deps.Executor = executor.New(
		deps.Ledger, deps.Cooldown, jup, deps.Wallet, deps.Notifier, deps.Metrics,
		deps.Wallet.Address(),
		executor.Config{
			BaseSlippageBps: cfg.Executor.BaseSlippageBps,
			MaxSlippageBps:  cfg.Executor.MaxSlippageBps,
		}, logger)

	strategy := domain.Strategy(cfg.Monitor.GuardSensitiveStrategy)

	deps.Slow = monitor.NewSlow(
		deps.Ledger, deps.Guard, deps.Cooldown, marketFeed, deps.Executor, deps.Metrics,
		monitor.SlowConfig{
			Interval:               cfg.Monitor.SlowInterval.Duration,
			TrailingStopEnabled:    cfg.Monitor.TrailingStopEnabled,
			TrailingStopPercent:    cfg.Monitor.TrailingStopPercent,
			GuardSensitiveStrategy: strategy,
			Strategy: monitor.StrategyExits{
				ScalpPartialPercent: cfg.Monitor.ScalpPartialPercent,
				ScalpFinalMultiple:  cfg.Monitor.ScalpFinalMultiple,
				DipMCTargetMultiple: cfg.Monitor.DipMCTargetMultiple,
			},
		}, logger)

	if cfg.Monitor.FastEnabled {
		deps.Fast = monitor.NewFast(
			deps.Ledger, deps.Guard, priceFeed, deps.Executor, deps.Metrics,
			monitor.FastConfig{
				Interval:               cfg.Monitor.FastInterval.Duration,
				GuardSensitiveStrategy: strategy,
			}, logger)
	}

	// --- Optional snapshot archive ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Snapshotter = s3blob.NewSnapshotter(s3Client, cfg.DataDir, cfg.S3.SnapshotInterval.Duration, logger)
	}

	return deps, cleanup, nil
}
