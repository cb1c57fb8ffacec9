package config

import "time"

// Config is the full watcher configuration.
type Config struct {
	RPC        RPCConfig                 `yaml:"rpc" mapstructure:"rpc"`
	Database   DatabaseConfig            `yaml:"database" mapstructure:"database"`
	Redis      RedisConfig               `yaml:"redis" mapstructure:"redis"`
	Poll       PollConfig                `yaml:"poll" mapstructure:"poll"`
	Verify     VerifyConfig              `yaml:"verify" mapstructure:"verify"`
	Currencies map[string]CurrencyConfig `yaml:"currencies" mapstructure:"currencies"`
	Fees       FeesConfig                `yaml:"fees" mapstructure:"fees"`
	HTTP       HTTPConfig                `yaml:"http" mapstructure:"http"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
	Telemetry  TelemetryConfig           `yaml:"telemetry" mapstructure:"telemetry"`
}

// RPCConfig configures the ledger JSON-RPC endpoint
type RPCConfig struct {
	URL        string        `yaml:"url" mapstructure:"url"`
	Commitment string        `yaml:"commitment" mapstructure:"commitment"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit  float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst      int           `yaml:"burst" mapstructure:"burst"`
}

// DatabaseConfig configures the durable store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RedisConfig configures event publishing. An empty address selects the
// in-memory notifier.
type RedisConfig struct {
	Addr          string `yaml:"addr" mapstructure:"addr"`
	Password      string `yaml:"password" mapstructure:"password"`
	DB            int    `yaml:"db" mapstructure:"db"`
	ChannelPrefix string `yaml:"channel_prefix" mapstructure:"channel_prefix"`
}

// PollConfig configures the poll scheduler
type PollConfig struct {
	Interval              time.Duration `yaml:"interval" mapstructure:"interval"`
	BackoffInterval       time.Duration `yaml:"backoff_interval" mapstructure:"backoff_interval"`
	SignatureLimit        int           `yaml:"signature_limit" mapstructure:"signature_limit"`
	Concurrency           int           `yaml:"concurrency" mapstructure:"concurrency"`
	MaxUnresolvedAttempts int           `yaml:"max_unresolved_attempts" mapstructure:"max_unresolved_attempts"`
}

// VerifyConfig configures transfer verification
type VerifyConfig struct {
	AmountTolerance string `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
	RequireAmount   bool   `yaml:"require_amount" mapstructure:"require_amount"`
}

// CurrencyConfig describes one accepted currency. Codes are matched case-insensitively.
type CurrencyConfig struct {
	Kind     string `yaml:"kind" mapstructure:"kind"`
	Mint     string `yaml:"mint,omitempty" mapstructure:"mint"`
	Decimals int32  `yaml:"decimals" mapstructure:"decimals"`
}

// FeesConfig configures the fee schedule
type FeesConfig struct {
	Default    FeeConfig            `yaml:"default" mapstructure:"default"`
	Currencies map[string]FeeConfig `yaml:"currencies" mapstructure:"currencies"`
}

// FeeConfig is one fee rate. Decimals of zero rounds to the currency's smallest unit.
type FeeConfig struct {
	RatePercent string `yaml:"rate_percent" mapstructure:"rate_percent"`
	Fixed       string `yaml:"fixed" mapstructure:"fixed"`
	Decimals    int32  `yaml:"decimals" mapstructure:"decimals"`
}

// HTTPConfig configures the management API
type HTTPConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	StaticAPIKey string `yaml:"static_api_key" mapstructure:"static_api_key"`

	// DatabaseAPIKeys checks keys against the api_keys table instead.
	DatabaseAPIKeys bool `yaml:"database_api_keys" mapstructure:"database_api_keys"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TelemetryConfig configures metric export
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
}
