package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashAsset is a cash holding in one currency.
type CashAsset struct {
	ID        int64
	Currency  string
	Amount    decimal.Decimal
	HomeValue decimal.Decimal
	UpdatedAt time.Time
}

// StockAsset is an equity position revalued whenever a fresh quote arrives.
type StockAsset struct {
	ID        int64
	Symbol    string
	Name      string
	Shares    decimal.Decimal
	Market    string
	Price     decimal.Decimal
	Currency  string
	HomeValue decimal.Decimal
	UpdatedAt time.Time
}

// ExchangeRateRow persists one base→quote conversion rate.
type ExchangeRateRow struct {
	Pair      string
	Rate      decimal.Decimal
	UpdatedAt time.Time
}

// NetWorthSnapshot records the home-currency total at a point in time.
type NetWorthSnapshot struct {
	Time     time.Time
	Total    decimal.Decimal
	Degraded bool
}
