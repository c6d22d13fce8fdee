package portfolio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
	"wealthwatcher/internal/storage"
)

// Snapshot is the aggregate the UI and the wear channel consume.
type Snapshot struct {
	Total     decimal.Decimal
	UpdatedAt time.Time
	// Degraded is set when any contributing quote or rate was served stale.
	Degraded bool
}

// MarketData is the slice of the market-data orchestrator the portfolio needs.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (marketdata.Quote, error)
	GetExchangeRate(ctx context.Context, base, quote string) (marketdata.ExchangeRate, error)
}

// Service recomputes home-currency totals, revalues holdings when fresh
// market data arrives, and publishes snapshots on a latest-value stream.
type Service struct {
	assets       storage.AssetStore
	rates        storage.RateStore
	snapshots    storage.SnapshotStore
	market       MarketData
	homeCurrency string
	logger       zerolog.Logger

	mu      sync.Mutex
	last    Snapshot
	hasLast bool
	subs    map[int]chan Snapshot
	nextSub int
}

// New constructs the portfolio service.
func New(assets storage.AssetStore, rates storage.RateStore, snapshots storage.SnapshotStore, market MarketData, homeCurrency string, logger zerolog.Logger) *Service {
	if homeCurrency == "" {
		homeCurrency = "TWD"
	}
	return &Service{
		assets:       assets,
		rates:        rates,
		snapshots:    snapshots,
		market:       market,
		homeCurrency: homeCurrency,
		logger:       logger.With().Str("component", "portfolio").Logger(),
		subs:         make(map[int]chan Snapshot),
	}
}

// HomeCurrency returns the currency totals are expressed in.
func (s *Service) HomeCurrency() string { return s.homeCurrency }

// Refresh revalues every holding from current market data, recomputes the
// total, persists a snapshot, and publishes it. Individual instrument
// failures degrade the snapshot instead of aborting the whole pass.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	degraded := false

	symbols, err := s.assets.ListStockSymbols(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, symbol := range symbols {
		if err := s.refreshSymbol(ctx, symbol, &degraded); err != nil {
			if errors.Is(err, context.Canceled) {
				return Snapshot{}, err
			}
			degraded = true
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol revaluation skipped")
		}
	}

	currencies, err := s.assets.ListCashCurrencies(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, currency := range currencies {
		if err := s.refreshCurrency(ctx, currency, &degraded); err != nil {
			if errors.Is(err, context.Canceled) {
				return Snapshot{}, err
			}
			degraded = true
			s.logger.Warn().Err(err).Str("currency", currency).Msg("cash revaluation skipped")
		}
	}

	return s.snapshotAndPublish(ctx, degraded)
}

func (s *Service) refreshSymbol(ctx context.Context, symbol string, degraded *bool) error {
	quote, err := s.market.GetQuote(ctx, symbol)
	if err != nil {
		return err
	}
	if quote.Degraded {
		*degraded = true
	}

	homeRate := decimal.NewFromInt(1)
	if quote.Currency != s.homeCurrency {
		rate, err := s.market.GetExchangeRate(ctx, quote.Currency, s.homeCurrency)
		if err != nil {
			return err
		}
		if rate.Degraded {
			*degraded = true
		}
		homeRate = rate.Rate
		if err := s.rates.UpsertExchangeRate(ctx, storage.ExchangeRateRow{Pair: rate.Pair, Rate: rate.Rate, UpdatedAt: rate.UpdatedAt}); err != nil {
			s.logger.Error().Err(err).Str("pair", rate.Pair).Msg("persist exchange rate failed")
		}
	}

	return s.assets.RevalueStockBySymbol(ctx, symbol, quote.Price, homeRate)
}

func (s *Service) refreshCurrency(ctx context.Context, currency string, degraded *bool) error {
	homeRate := decimal.NewFromInt(1)
	if currency != s.homeCurrency {
		rate, err := s.market.GetExchangeRate(ctx, currency, s.homeCurrency)
		if err != nil {
			return err
		}
		if rate.Degraded {
			*degraded = true
		}
		homeRate = rate.Rate
		if err := s.rates.UpsertExchangeRate(ctx, storage.ExchangeRateRow{Pair: rate.Pair, Rate: rate.Rate, UpdatedAt: rate.UpdatedAt}); err != nil {
			s.logger.Error().Err(err).Str("pair", rate.Pair).Msg("persist exchange rate failed")
		}
	}
	return s.assets.RevalueCashByCurrency(ctx, currency, homeRate)
}

func (s *Service) snapshotAndPublish(ctx context.Context, degraded bool) (Snapshot, error) {
	total, err := s.assets.TotalHomeValue(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Total: total, UpdatedAt: time.Now().UTC(), Degraded: degraded}
	if s.snapshots != nil {
		if err := s.snapshots.InsertSnapshot(ctx, storage.NetWorthSnapshot{Time: snap.UpdatedAt, Total: snap.Total, Degraded: snap.Degraded}); err != nil {
			s.logger.Error().Err(err).Msg("persist snapshot failed")
		}
	}

	s.publish(snap)
	return snap, nil
}

// CurrentTotal recomputes the total from the local store without touching
// the network. Used to answer wear pull requests.
func (s *Service) CurrentTotal(ctx context.Context) (Snapshot, error) {
	total, err := s.assets.TotalHomeValue(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	degraded := s.hasLast && s.last.Degraded
	s.mu.Unlock()

	return Snapshot{Total: total, UpdatedAt: time.Now().UTC(), Degraded: degraded}, nil
}

// Subscribe registers a latest-value-only snapshot stream. The current value,
// when one exists, is delivered immediately. The returned cancel func must be
// called to release the subscription.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	if s.hasLast {
		ch <- s.last
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// publish fans out the newest snapshot, overwriting an unconsumed older value
// so a slow subscriber never blocks the core.
func (s *Service) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = snap
	s.hasLast = true

	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
