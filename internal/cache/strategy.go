package cache

import (
	"time"

	"wealthwatcher/internal/marketdata"
)

// StrategyOptions hold the per-asset-class TTL table. Equities trade
// intraday and go cold fast; exchange rates drift slowly; the bulk market
// dump is refreshed on its own cadence by the provider.
type StrategyOptions struct {
	EquityTTL   time.Duration
	CurrencyTTL time.Duration
	BulkDumpTTL time.Duration
	// StaleMultiplier scales the TTL into the stale window: entries older than
	// TTL but younger than TTL*StaleMultiplier are STALE, beyond that EXPIRED.
	StaleMultiplier int
}

// Strategy decides, at read time, how trustworthy a cached value still is.
type Strategy struct {
	opts StrategyOptions
}

// NewStrategy constructs a Strategy with defaults applied.
func NewStrategy(opts StrategyOptions) *Strategy {
	if opts.EquityTTL <= 0 {
		opts.EquityTTL = 5 * time.Minute
	}
	if opts.CurrencyTTL <= 0 {
		opts.CurrencyTTL = time.Hour
	}
	if opts.BulkDumpTTL <= 0 {
		opts.BulkDumpTTL = 10 * time.Minute
	}
	if opts.StaleMultiplier < 2 {
		opts.StaleMultiplier = 2
	}
	return &Strategy{opts: opts}
}

// TTL returns the freshness window for an asset class.
func (s *Strategy) TTL(class marketdata.AssetClass) time.Duration {
	switch class {
	case marketdata.AssetClassCurrency:
		return s.opts.CurrencyTTL
	case marketdata.AssetClassBulkDump:
		return s.opts.BulkDumpTTL
	default:
		return s.opts.EquityTTL
	}
}

// Classify maps entry age onto FRESH/STALE/EXPIRED. Monotonic in age by
// construction: the thresholds are fixed per class and age only grows.
func (s *Strategy) Classify(class marketdata.AssetClass, fetchedAt, now time.Time) marketdata.Freshness {
	ttl := s.TTL(class)
	age := now.Sub(fetchedAt)
	switch {
	case age < ttl:
		return marketdata.FreshnessFresh
	case age < ttl*time.Duration(s.opts.StaleMultiplier):
		return marketdata.FreshnessStale
	default:
		return marketdata.FreshnessExpired
	}
}
