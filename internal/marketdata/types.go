package marketdata

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketState reflects the trading session reported by the upstream.
type MarketState string

const (
	MarketStateOpen    MarketState = "open"
	MarketStateClosed  MarketState = "closed"
	MarketStateUnknown MarketState = "unknown"
)

// Quote is the normalized priced snapshot shared by all providers.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	Currency      string
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	PreviousClose decimal.Decimal
	State         MarketState
	Timestamp     time.Time
	Source        string
	// Degraded marks a value served from cache after live refresh failed.
	Degraded bool
}

// ExchangeRate converts one unit of the base currency into the quote currency.
type ExchangeRate struct {
	Pair      string
	Rate      decimal.Decimal
	UpdatedAt time.Time
	Source    string
	Degraded  bool
}

// RatePair builds the canonical ordered pair key, e.g. "USD_TWD".
func RatePair(base, quote string) string {
	return strings.ToUpper(base) + "_" + strings.ToUpper(quote)
}

// Freshness is the read-time classification of a cached value.
type Freshness int

const (
	FreshnessFresh Freshness = iota
	FreshnessStale
	FreshnessExpired
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	case FreshnessExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// AssetClass selects the TTL tier applied by the cache strategy.
type AssetClass int

const (
	AssetClassEquity AssetClass = iota
	AssetClassCurrency
	AssetClassBulkDump
)

// SearchResult describes one instrument matched by a symbol search.
type SearchResult struct {
	Symbol      string
	Description string
	Market      string
	Currency    string
}

// NoResultReason explains an empty search outcome to the caller. These are
// user-facing states, not errors.
type NoResultReason string

const (
	NoResultNone         NoResultReason = ""
	NoResultNotFound     NoResultReason = "not_found"
	NoResultAPILimit     NoResultReason = "api_limit"
	NoResultNetwork      NoResultReason = "network"
	NoResultInvalidQuery NoResultReason = "invalid_query"
	NoResultServerError  NoResultReason = "server_error"
)

// SearchOutcome carries either matches or a typed empty-result reason.
type SearchOutcome struct {
	Results []SearchResult
	Reason  NoResultReason
}
