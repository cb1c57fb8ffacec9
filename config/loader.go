// Package config loads the watcher configuration from defaults, an optional
// YAML file and PAYWATCH_ environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. PAYWATCH_RPC_URL.
const EnvPrefix = "PAYWATCH"

// Load loads the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed viper with the defaults so every key is known to the env lookup
	base, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	// Merge the config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize upper-cases currency codes, which viper folds to lower case.
func (c *Config) normalize() {
	currencies := make(map[string]CurrencyConfig, len(c.Currencies))
	for code, cur := range c.Currencies {
		currencies[strings.ToUpper(code)] = cur
	}
	c.Currencies = currencies

	fees := make(map[string]FeeConfig, len(c.Fees.Currencies))
	for code, f := range c.Fees.Currencies {
		fees[strings.ToUpper(code)] = f
	}
	c.Fees.Currencies = fees
}

// Validate checks the configuration for values the watcher cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.BackoffInterval <= 0 {
		errs = append(errs, errors.New("poll.backoff_interval must be positive"))
	}
	if c.Poll.SignatureLimit <= 0 {
		errs = append(errs, errors.New("poll.signature_limit must be positive"))
	}
	if c.Poll.Concurrency <= 0 {
		errs = append(errs, errors.New("poll.concurrency must be positive"))
	}
	if c.Poll.MaxUnresolvedAttempts < 0 {
		errs = append(errs, errors.New("poll.max_unresolved_attempts must not be negative"))
	}
	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url is required"))
	}
	if c.RPC.Timeout <= 0 {
		errs = append(errs, errors.New("rpc.timeout must be positive"))
	}
	if c.RPC.RateLimit < 0 {
		errs = append(errs, errors.New("rpc.rate_limit must not be negative"))
	}
	if len(c.Currencies) == 0 {
		errs = append(errs, errors.New("at least one currency is required"))
	}
	if _, err := c.Catalogue(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FeeCalculator(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.VerifyConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.DatabaseAPIKeys && c.HTTP.StaticAPIKey != "" {
		errs = append(errs, errors.New("http.static_api_key and http.database_api_keys are exclusive"))
	}
	if c.HTTP.DatabaseAPIKeys && c.Database.URL == "" {
		errs = append(errs, errors.New("http.database_api_keys requires database.url"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// YAML returns the configuration encoded as YAML with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Redis.Password != "" {
		redacted.Redis.Password = redactedValue
	}
	if redacted.HTTP.StaticAPIKey != "" {
		redacted.HTTP.StaticAPIKey = redactedValue
	}
	if redacted.Database.URL != "" {
		redacted.Database.URL = redactURL(redacted.Database.URL)
	}
	return yaml.Marshal(&redacted)
}

const redactedValue = "********"

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redactedValue)
	}
	return u.String()
}
