package marketdata

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound reports that no provider knows the requested instrument.
var ErrNotFound = errors.New("marketdata: instrument not found")

// ErrNoData reports a cold cache combined with exhausted retries. This is the
// only hard failure GetQuote/GetExchangeRate surface for live-data problems.
var ErrNoData = errors.New("marketdata: no live data and no cached value")

// QuoteFetcher retrieves a normalized quote from the provider layer.
// A nil quote with nil error means the instrument is unknown upstream.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}

// RateFetcher retrieves a conversion rate for an ordered currency pair.
type RateFetcher interface {
	FetchRate(ctx context.Context, base, quote string) (*ExchangeRate, error)
}

// SymbolSearcher looks up instruments matching a free-text query.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string) ([]SearchResult, error)
}

// QuoteCache is the read/write contract the service needs from the cache tier.
type QuoteCache interface {
	GetQuote(ctx context.Context, symbol string) (Quote, Freshness, bool)
	PutQuote(ctx context.Context, q Quote) error
}

// RateCache mirrors QuoteCache for exchange rates.
type RateCache interface {
	GetRate(ctx context.Context, pair string) (ExchangeRate, Freshness, bool)
	PutRate(ctx context.Context, r ExchangeRate) error
}

// ServiceOptions tune orchestration behaviour.
type ServiceOptions struct {
	// BackgroundRefreshTimeout bounds refreshes kicked off for stale-but-served
	// values.
	BackgroundRefreshTimeout time.Duration
}

// Service is the market-data orchestrator: cache first, then a deduplicated,
// retried, validated provider fetch, degrading to last-known-good on failure.
type Service struct {
	quotes    QuoteFetcher
	rates     RateFetcher
	search    SymbolSearcher
	quoteCch  QuoteCache
	rateCch   RateCache
	validator *Validator
	retry     *RetryManager
	opts      ServiceOptions
	logger    zerolog.Logger

	quoteFlights *FlightGroup[Quote]
	rateFlights  *FlightGroup[ExchangeRate]
}

// NewService wires the orchestrator.
func NewService(quotes QuoteFetcher, rates RateFetcher, search SymbolSearcher, quoteCache QuoteCache, rateCache RateCache, validator *Validator, retry *RetryManager, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.BackgroundRefreshTimeout <= 0 {
		opts.BackgroundRefreshTimeout = 30 * time.Second
	}
	return &Service{
		quotes:       quotes,
		rates:        rates,
		search:       search,
		quoteCch:     quoteCache,
		rateCch:      rateCache,
		validator:    validator,
		retry:        retry,
		opts:         opts,
		logger:       logger.With().Str("component", "market_data_service").Logger(),
		quoteFlights: NewFlightGroup[Quote](),
		rateFlights:  NewFlightGroup[ExchangeRate](),
	}
}

// GetQuote returns the current quote for symbol. Fresh cache hits skip the
// network entirely; stale hits are served while a background refresh runs;
// expired or missing entries force a live fetch, falling back to the last
// cached value (flagged Degraded) when the fetch cannot complete.
func (s *Service) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	cached, freshness, ok := s.quoteCch.GetQuote(ctx, symbol)
	if ok {
		switch freshness {
		case FreshnessFresh:
			return cached, nil
		case FreshnessStale:
			s.refreshQuoteInBackground(symbol)
			return cached, nil
		}
	}

	q, err := s.refreshQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return Quote{}, err
	}
	if ok {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("serving degraded cached quote")
		cached.Degraded = true
		return cached, nil
	}
	s.logger.Error().Err(err).Str("symbol", symbol).Msg("quote unavailable and cache cold")
	return Quote{}, errors.Join(ErrNoData, err)
}

// GetExchangeRate returns the conversion rate base→quote with the same
// fallback semantics as GetQuote.
func (s *Service) GetExchangeRate(ctx context.Context, base, quote string) (ExchangeRate, error) {
	pair := RatePair(base, quote)

	cached, freshness, ok := s.rateCch.GetRate(ctx, pair)
	if ok {
		switch freshness {
		case FreshnessFresh:
			return cached, nil
		case FreshnessStale:
			s.refreshRateInBackground(base, quote)
			return cached, nil
		}
	}

	r, err := s.refreshRate(ctx, base, quote)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, context.Canceled) {
		return ExchangeRate{}, err
	}
	if ok {
		s.logger.Warn().Err(err).Str("pair", pair).Msg("serving degraded cached rate")
		cached.Degraded = true
		return cached, nil
	}
	s.logger.Error().Err(err).Str("pair", pair).Msg("rate unavailable and cache cold")
	return ExchangeRate{}, errors.Join(ErrNoData, err)
}

// SearchSymbol performs an instrument lookup. Empty outcomes are typed states,
// never errors; only context cancellation propagates as an error.
func (s *Service) SearchSymbol(ctx context.Context, query string) (SearchOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchOutcome{Reason: NoResultInvalidQuery}, nil
	}
	if s.search == nil {
		return SearchOutcome{Reason: NoResultServerError}, nil
	}

	var results []SearchResult
	err := s.retry.Do(ctx, "search", func(ctx context.Context) error {
		res, err := s.search.SearchSymbols(ctx, query)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return SearchOutcome{}, ctx.Err()
		}
		return SearchOutcome{Reason: searchReason(err)}, nil
	}
	if len(results) == 0 {
		return SearchOutcome{Reason: NoResultNotFound}, nil
	}
	return SearchOutcome{Results: results}, nil
}

func searchReason(err error) NoResultReason {
	switch ErrorKindOf(err) {
	case ErrorKindRateLimited:
		return NoResultAPILimit
	case ErrorKindNetworkTransient:
		return NoResultNetwork
	case ErrorKindServerError:
		return NoResultServerError
	default:
		return NoResultServerError
	}
}

func (s *Service) refreshQuote(ctx context.Context, symbol string) (Quote, error) {
	q, _, err := s.quoteFlights.RunOrJoin(ctx, "quote:"+symbol, func(ctx context.Context) (Quote, error) {
		var fetched *Quote
		err := s.retry.Do(ctx, "quote/"+symbol, func(ctx context.Context) error {
			res, err := s.quotes.FetchQuote(ctx, symbol)
			if err != nil {
				return err
			}
			if res != nil {
				if verr := s.validator.ValidateQuote(*res); verr != nil {
					return NewAPIError(ErrorKindMalformedResponse, res.Source, verr)
				}
			}
			fetched = res
			return nil
		})
		if err != nil {
			return Quote{}, err
		}
		if fetched == nil {
			return Quote{}, ErrNotFound
		}
		if err := s.quoteCch.PutQuote(ctx, *fetched); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("cache write-through failed")
		}
		return *fetched, nil
	})
	return q, err
}

func (s *Service) refreshRate(ctx context.Context, base, quote string) (ExchangeRate, error) {
	pair := RatePair(base, quote)
	r, _, err := s.rateFlights.RunOrJoin(ctx, "rate:"+pair, func(ctx context.Context) (ExchangeRate, error) {
		var fetched *ExchangeRate
		err := s.retry.Do(ctx, "rate/"+pair, func(ctx context.Context) error {
			res, err := s.rates.FetchRate(ctx, base, quote)
			if err != nil {
				return err
			}
			if res != nil {
				if verr := s.validator.ValidateRate(*res); verr != nil {
					return NewAPIError(ErrorKindMalformedResponse, res.Source, verr)
				}
			}
			fetched = res
			return nil
		})
		if err != nil {
			return ExchangeRate{}, err
		}
		if fetched == nil {
			return ExchangeRate{}, ErrNotFound
		}
		if err := s.rateCch.PutRate(ctx, *fetched); err != nil {
			s.logger.Error().Err(err).Str("pair", pair).Msg("cache write-through failed")
		}
		return *fetched, nil
	})
	return r, err
}

// refreshQuoteInBackground revalidates a stale entry without blocking the
// caller. Errors are logged only; the stale value already went out.
func (s *Service) refreshQuoteInBackground(symbol string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundRefreshTimeout)
		defer cancel()
		if _, err := s.refreshQuote(ctx, symbol); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Debug().Err(err).Str("symbol", symbol).Msg("background quote refresh failed")
		}
	}()
}

func (s *Service) refreshRateInBackground(base, quote string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundRefreshTimeout)
		defer cancel()
		if _, err := s.refreshRate(ctx, base, quote); err != nil {
			s.logger.Debug().Err(err).Str("pair", RatePair(base, quote)).Msg("background rate refresh failed")
		}
	}()
}
