// Package config defines the top-level configuration for updownbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"

	"github.com/polyoco/updownbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by UPDOWN_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Feed       FeedConfig       `toml:"feed"`
	OCO        OCOConfig        `toml:"oco"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Simulation SimulationConfig `toml:"simulation"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// FeedConfig tunes the market data feed.
type FeedConfig struct {
	ReceiveTimeoutSec int  `toml:"receive_timeout_sec"`
	ReconnectBaseMs   int  `toml:"reconnect_base_ms"`
	ReconnectMaxMs    int  `toml:"reconnect_max_ms"`
	MaxReconnects     int  `toml:"max_reconnects"`
	AutoReconnect     bool `toml:"auto_reconnect"`
	UpdateBuffer      int  `toml:"update_buffer"`
}

// OCOConfig holds the One-Cancels-Other strategy parameters.
type OCOConfig struct {
	Asset          string  `toml:"asset"`   // "btc" or "eth"
	Horizon        string  `toml:"horizon"` // "15m", "1h", "4h"
	Size           float64 `toml:"size"`
	Threshold      float64 `toml:"threshold"`
	DryRun         bool    `toml:"dry_run"`
	TimeoutSec     int     `toml:"timeout_sec"` // 0 = no deadline
	PollIntervalMs int     `toml:"poll_interval_ms"`
}

// TypedAsset returns the typed asset.
func (c OCOConfig) TypedAsset() domain.Asset {
	return domain.Asset(strings.ToLower(c.Asset))
}

// TypedHorizon returns the typed horizon.
func (c OCOConfig) TypedHorizon() (domain.Horizon, error) {
	switch strings.ToLower(c.Horizon) {
	case "15m", "m15":
		return domain.HorizonM15, nil
	case "1h", "h1":
		return domain.HorizonH1, nil
	case "4h", "h4":
		return domain.HorizonH4, nil
	default:
		return 0, fmt.Errorf("config: unknown horizon %q", c.Horizon)
	}
}

// StrategyConfig tunes the momentum arm trigger that decides when to
// launch an OCO round.
type StrategyConfig struct {
	ArmThreshold float64 `toml:"arm_threshold"` // implied-prob distance from 0.5
	MinUpdates   int     `toml:"min_updates"`   // updates seen before arming
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// SimulationConfig tunes the Monte-Carlo event statistics mode.
type SimulationConfig struct {
	Paths int     `toml:"paths"`
	Mu    float64 `toml:"mu"`    // drift per hour
	Sigma float64 `toml:"sigma"` // volatility per sqrt(hour)
	Seed  int64   `toml:"seed"`  // 0 = nondeterministic
}

// Validate checks the configuration for the selected mode.
func (c *Config) Validate() error {
	mode := strings.ToLower(c.Mode)
	switch mode {
	case "trade", "monitor", "simulate":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if mode == "simulate" {
		return nil
	}

	if c.Polymarket.WsHost == "" {
		return fmt.Errorf("config: polymarket.ws_host is required")
	}
	if c.Polymarket.GammaHost == "" {
		return fmt.Errorf("config: polymarket.gamma_host is required")
	}

	if mode == "trade" {
		if _, err := c.OCO.TypedHorizon(); err != nil {
			return err
		}
		if a := c.OCO.TypedAsset(); a != domain.AssetBTC && a != domain.AssetETH {
			return fmt.Errorf("config: unknown asset %q", c.OCO.Asset)
		}
		if c.OCO.Threshold <= 0 || c.OCO.Threshold >= 1 {
			return fmt.Errorf("config: oco.threshold must be in (0, 1)")
		}
		if c.OCO.Size <= 0 {
			return fmt.Errorf("config: oco.size must be positive")
		}
		if !c.OCO.DryRun {
			if c.Polymarket.ClobHost == "" {
				return fmt.Errorf("config: polymarket.clob_host is required for live trading")
			}
			if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
				return fmt.Errorf("config: wallet credentials are required for live trading")
			}
		}
	}

	return nil
}
