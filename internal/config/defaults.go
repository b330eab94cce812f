package config

// Defaults returns the built-in configuration defaults. Load merges the
// TOML file and environment overrides on top of these.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Feed: FeedConfig{
			ReceiveTimeoutSec: 60,
			ReconnectBaseMs:   1000,
			ReconnectMaxMs:    30000,
			MaxReconnects:     0,
			AutoReconnect:     true,
			UpdateBuffer:      256,
		},
		OCO: OCOConfig{
			Asset:          "btc",
			Horizon:        "15m",
			Size:           100,
			Threshold:      0.8,
			DryRun:         true,
			PollIntervalMs: 2000,
		},
		Strategy: StrategyConfig{
			ArmThreshold: 0.05,
			MinUpdates:   5,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Simulation: SimulationConfig{
			Paths: 1_000_000,
			Sigma: 0.05,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}
