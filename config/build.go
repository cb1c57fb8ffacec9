package config

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/clients"
	"github.com/raid-guild/payment-watcher-go/core"
	"github.com/raid-guild/payment-watcher-go/fee"
	"github.com/raid-guild/payment-watcher-go/notify"
	"github.com/raid-guild/payment-watcher-go/telemetry"
	"github.com/raid-guild/payment-watcher-go/types"
)

// Catalogue returns the accepted currencies keyed by code.
func (c *Config) Catalogue() (map[string]types.Currency, error) {
	out := make(map[string]types.Currency, len(c.Currencies))
	for code, cur := range c.Currencies {
		kind := types.AssetKind(cur.Kind)
		switch kind {
		case types.AssetKindNative:
		case types.AssetKindToken:
			if cur.Mint == "" {
				return nil, fmt.Errorf("currency %s: token requires a mint", code)
			}
		default:
			return nil, fmt.Errorf("currency %s: unknown kind %q", code, cur.Kind)
		}
		if cur.Decimals < 0 {
			return nil, fmt.Errorf("currency %s: decimals must not be negative", code)
		}
		out[code] = types.Currency{
			Kind:     kind,
			Code:     code,
			Mint:     cur.Mint,
			Decimals: cur.Decimals,
		}
	}
	return out, nil
}

// FeeCalculator builds the fee calculator for the accepted currencies. Each
// currency uses its own entry, or the default rate when it has none.
func (c *Config) FeeCalculator() (*fee.Calculator, error) {
	catalogue, err := c.Catalogue()
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(catalogue))
	for code := range catalogue {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rates := make(map[string]fee.Rate, len(codes))
	for _, code := range codes {
		fc, ok := c.Fees.Currencies[code]
		if !ok {
			fc = c.Fees.Default
		}
		rate, err := fc.rate(catalogue[code].Decimals)
		if err != nil {
			return nil, fmt.Errorf("fees for %s: %w", code, err)
		}
		rates[code] = rate
	}
	return fee.NewCalculator(nil, rates), nil
}

func (f FeeConfig) rate(currencyDecimals int32) (fee.Rate, error) {
	percent, err := parseDecimal(f.RatePercent)
	if err != nil {
		return fee.Rate{}, fmt.Errorf("invalid rate_percent: %w", err)
	}
	fixed, err := parseDecimal(f.Fixed)
	if err != nil {
		return fee.Rate{}, fmt.Errorf("invalid fixed: %w", err)
	}
	if percent.IsNegative() || fixed.IsNegative() {
		return fee.Rate{}, fmt.Errorf("fee must not be negative")
	}

	decimals := f.Decimals
	if decimals <= 0 || decimals > currencyDecimals {
		decimals = currencyDecimals
	}
	return fee.Rate{RatePercent: percent, Fixed: fixed, Decimals: decimals}, nil
}

// VerifyConfig returns the transfer verification settings.
func (c *Config) VerifyConfig() (core.VerifyConfig, error) {
	tolerance, err := parseDecimal(c.Verify.AmountTolerance)
	if err != nil {
		return core.VerifyConfig{}, fmt.Errorf("invalid verify.amount_tolerance: %w", err)
	}
	if tolerance.IsNegative() {
		return core.VerifyConfig{}, fmt.Errorf("verify.amount_tolerance must not be negative")
	}
	return core.VerifyConfig{RequireAmount: c.Verify.RequireAmount, AmountTolerance: tolerance}, nil
}

// PollerConfig returns the poll scheduler settings.
func (c *Config) PollerConfig() (core.PollerConfig, error) {
	verify, err := c.VerifyConfig()
	if err != nil {
		return core.PollerConfig{}, err
	}
	return core.PollerConfig{
		Interval:              c.Poll.Interval,
		BackoffInterval:       c.Poll.BackoffInterval,
		RequestTimeout:        c.RPC.Timeout,
		SignatureLimit:        c.Poll.SignatureLimit,
		Concurrency:           c.Poll.Concurrency,
		MaxUnresolvedAttempts: c.Poll.MaxUnresolvedAttempts,
		Verify:                verify,
	}, nil
}

// LedgerConfig returns the ledger client settings.
func (c *Config) LedgerConfig() clients.LedgerConfig {
	return clients.LedgerConfig{
		RPCURL:     c.RPC.URL,
		Commitment: c.RPC.Commitment,
		RateLimit:  c.RPC.RateLimit,
		Burst:      c.RPC.Burst,
	}
}

// RedisOptions returns the notifier settings.
func (c *Config) RedisOptions() notify.RedisOptions {
	return notify.RedisOptions{
		Addr:          c.Redis.Addr,
		Password:      c.Redis.Password,
		DB:            c.Redis.DB,
		ChannelPrefix: c.Redis.ChannelPrefix,
	}
}

// TelemetryConfig returns the metric export settings.
func (c *Config) TelemetryConfig(serviceName string) telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Telemetry.Enabled,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		ServiceName: serviceName,
	}
}

// Logger builds the process logger from the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.level()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
