package config

import (
	"time"

	"github.com/raid-guild/payment-watcher-go/notify"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RPC: RPCConfig{
			URL:        "http://localhost:8899",
			Commitment: "confirmed",
			Timeout:    10 * time.Second,
			RateLimit:  20,
			Burst:      5,
		},
		Redis: RedisConfig{
			ChannelPrefix: notify.DefaultChannelPrefix,
		},
		Poll: PollConfig{
			Interval:        10 * time.Second,
			BackoffInterval: 30 * time.Second,
			SignatureLimit:  5,
			Concurrency:     8,
		},
		Verify: VerifyConfig{
			AmountTolerance: "0",
			RequireAmount:   true,
		},
		Currencies: map[string]CurrencyConfig{
			"SOL":  {Kind: "native", Decimals: 9},
			"USDC": {Kind: "token", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		},
		Fees: FeesConfig{
			Default: FeeConfig{
				RatePercent: "2.9",
				Fixed:       "0.30",
			},
			Currencies: map[string]FeeConfig{
				"SOL": {RatePercent: "1", Fixed: "0"},
			},
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
	}
}
