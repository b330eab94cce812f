package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/polyoco/updownbot/internal/blob/s3"
	"github.com/polyoco/updownbot/internal/broker"
	"github.com/polyoco/updownbot/internal/cache/redis"
	"github.com/polyoco/updownbot/internal/config"
	"github.com/polyoco/updownbot/internal/crypto"
	"github.com/polyoco/updownbot/internal/domain"
	"github.com/polyoco/updownbot/internal/notify"
	"github.com/polyoco/updownbot/internal/platform/polymarket"
	"github.com/polyoco/updownbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Optional
// backends (Postgres, Redis, S3) are nil when not configured; modes
// degrade by skipping the corresponding work.
type Dependencies struct {
	Gamma  *polymarket.GammaClient
	Broker broker.Broker

	PriceStore  domain.PriceStore
	ResultStore domain.ResultStore
	QuoteCache  domain.QuoteCache
	Archiver    *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from the
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Gamma: polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
	}

	// --- Broker ---
	b, err := buildBroker(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: broker: %w", err)
	}
	deps.Broker = b

	// --- PostgreSQL (optional; configure dsn or host to enable) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
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

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		deps.PriceStore = postgres.NewPriceStore(pool)
		deps.ResultStore = postgres.NewResultStore(pool)
	}

	// --- Redis (optional; set addr to "" to disable) ---
	if cfg.Redis.Addr != "" {
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

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
	}

	// --- S3 blob storage (optional; configure a bucket to enable) ---
	if cfg.S3.Bucket != "" {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), "archives", logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildBroker returns the dry-run broker unless live trading is
// configured, in which case it loads the wallet key, builds the EIP-712
// signer, and derives HMAC credentials from the CLOB.
func buildBroker(ctx context.Context, cfg *config.Config) (broker.Broker, error) {
	if cfg.OCO.DryRun || strings.ToLower(cfg.Mode) != "trade" {
		return broker.NewDryRun(), nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, err
	}

	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		return nil, err
	}
	return clob, nil
}
