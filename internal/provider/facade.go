package provider

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wealthwatcher/internal/marketdata"
)

// FacadeOptions bound the request rates against each upstream.
type FacadeOptions struct {
	// EquityRPS / CurrencyRPS / DumpRPS are requests-per-second ceilings;
	// zero means a conservative default.
	EquityRPS   float64
	CurrencyRPS float64
	DumpRPS     float64
}

// Facade owns the concrete providers and routes a logical request to the
// right one: Taiwan-suffixed symbols go to the bulk-dump provider, everything
// else to the per-symbol equity endpoint. Each upstream sits behind its own
// rate limiter.
type Facade struct {
	equities marketdata.QuoteFetcher
	taiwan   marketdata.QuoteFetcher
	currency marketdata.RateFetcher
	searcher marketdata.SymbolSearcher
	logger   zerolog.Logger

	equityLimit   *rate.Limiter
	taiwanLimit   *rate.Limiter
	currencyLimit *rate.Limiter
}

// NewFacade wires the provider set.
func NewFacade(equities marketdata.QuoteFetcher, taiwan marketdata.QuoteFetcher, currency marketdata.RateFetcher, searcher marketdata.SymbolSearcher, opts FacadeOptions, logger zerolog.Logger) *Facade {
	if opts.EquityRPS <= 0 {
		opts.EquityRPS = 1
	}
	if opts.CurrencyRPS <= 0 {
		opts.CurrencyRPS = 0.5
	}
	if opts.DumpRPS <= 0 {
		opts.DumpRPS = 0.2
	}
	return &Facade{
		equities:      equities,
		taiwan:        taiwan,
		currency:      currency,
		searcher:      searcher,
		logger:        logger.With().Str("component", "provider_facade").Logger(),
		equityLimit:   rate.NewLimiter(rate.Limit(opts.EquityRPS), 5),
		taiwanLimit:   rate.NewLimiter(rate.Limit(opts.DumpRPS), 2),
		currencyLimit: rate.NewLimiter(rate.Limit(opts.CurrencyRPS), 2),
	}
}

// FetchQuote routes a quote request to the matching provider.
func (f *Facade) FetchQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if IsTaiwanListed(symbol) {
		if f.taiwan == nil {
			return nil, errors.New("taiwan provider not configured")
		}
		if err := f.taiwanLimit.Wait(ctx); err != nil {
			return nil, err
		}
		return f.taiwan.FetchQuote(ctx, symbol)
	}

	if f.equities == nil {
		return nil, errors.New("equity provider not configured")
	}
	if err := f.equityLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return f.equities.FetchQuote(ctx, symbol)
}

// FetchRate routes a conversion request to the currency provider.
func (f *Facade) FetchRate(ctx context.Context, base, quote string) (*marketdata.ExchangeRate, error) {
	if f.currency == nil {
		return nil, errors.New("currency provider not configured")
	}
	if err := f.currencyLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return f.currency.FetchRate(ctx, base, quote)
}

// SearchSymbols delegates to the equity provider's search endpoint.
func (f *Facade) SearchSymbols(ctx context.Context, query string) ([]marketdata.SearchResult, error) {
	if f.searcher == nil {
		return nil, errors.New("search provider not configured")
	}
	if err := f.equityLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return f.searcher.SearchSymbols(ctx, query)
}

var (
	_ marketdata.QuoteFetcher   = (*Facade)(nil)
	_ marketdata.RateFetcher    = (*Facade)(nil)
	_ marketdata.SymbolSearcher = (*Facade)(nil)
)
