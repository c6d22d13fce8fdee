package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wealthwatcher/internal/marketdata"
)

// EntryKind discriminates persisted cache rows.
type EntryKind string

const (
	EntryKindQuote EntryKind = "quote"
	EntryKindRate  EntryKind = "rate"
)

// Entry is the persisted form of one cached market value.
type Entry struct {
	Key       string
	Kind      EntryKind
	Quote     marketdata.Quote
	Rate      marketdata.ExchangeRate
	FetchedAt time.Time
}

// Persistence is the durable tier backing the in-memory map. Implemented by
// the storage package; optional.
type Persistence interface {
	SaveCacheEntry(ctx context.Context, entry Entry) error
	LoadCacheEntries(ctx context.Context) ([]Entry, error)
}

type quoteEntry struct {
	quote     marketdata.Quote
	fetchedAt time.Time
}

type rateEntry struct {
	rate      marketdata.ExchangeRate
	fetchedAt time.Time
}

// Manager is the store of last-known-good market values. Reads classify
// freshness on the fly via the Strategy; writes go through to the persistent
// tier so a restart does not lose the fallback data. Entries are only ever
// replaced, never evicted by size.
type Manager struct {
	strategy *Strategy
	persist  Persistence
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	quotes map[string]quoteEntry
	rates  map[string]rateEntry
}

// NewManager constructs a Manager; persist may be nil.
func NewManager(strategy *Strategy, persist Persistence, logger zerolog.Logger) *Manager {
	return &Manager{
		strategy: strategy,
		persist:  persist,
		logger:   logger.With().Str("component", "cache_manager").Logger(),
		now:      time.Now,
		quotes:   make(map[string]quoteEntry),
		rates:    make(map[string]rateEntry),
	}
}

// WarmStart loads persisted entries into the memory tier.
func (m *Manager) WarmStart(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	entries, err := m.persist.LoadCacheEntries(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		switch e.Kind {
		case EntryKindQuote:
			m.quotes[e.Key] = quoteEntry{quote: e.Quote, fetchedAt: e.FetchedAt}
		case EntryKindRate:
			m.rates[e.Key] = rateEntry{rate: e.Rate, fetchedAt: e.FetchedAt}
		}
	}
	m.logger.Info().Int("entries", len(entries)).Msg("cache warmed from store")
	return nil
}

// GetQuote returns the cached quote for symbol with its read-time freshness.
func (m *Manager) GetQuote(_ context.Context, symbol string) (marketdata.Quote, marketdata.Freshness, bool) {
	m.mu.RLock()
	e, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return marketdata.Quote{}, marketdata.FreshnessExpired, false
	}
	return e.quote, m.strategy.Classify(marketdata.AssetClassEquity, e.fetchedAt, m.now()), true
}

// PutQuote replaces the cached quote and writes through to the store.
func (m *Manager) PutQuote(ctx context.Context, q marketdata.Quote) error {
	fetchedAt := m.now()

	m.mu.Lock()
	m.quotes[q.Symbol] = quoteEntry{quote: q, fetchedAt: fetchedAt}
	m.mu.Unlock()

	if m.persist == nil {
		return nil
	}
	entry := Entry{Key: q.Symbol, Kind: EntryKindQuote, Quote: q, FetchedAt: fetchedAt}
	if err := m.persist.SaveCacheEntry(ctx, entry); err != nil {
		m.logger.Error().Err(err).Str("symbol", q.Symbol).Msg("persist cache entry failed")
		return err
	}
	return nil
}

// GetRate returns the cached exchange rate with its read-time freshness.
func (m *Manager) GetRate(_ context.Context, pair string) (marketdata.ExchangeRate, marketdata.Freshness, bool) {
	m.mu.RLock()
	e, ok := m.rates[pair]
	m.mu.RUnlock()
	if !ok {
		return marketdata.ExchangeRate{}, marketdata.FreshnessExpired, false
	}
	return e.rate, m.strategy.Classify(marketdata.AssetClassCurrency, e.fetchedAt, m.now()), true
}

// PutRate replaces the cached rate and writes through to the store.
func (m *Manager) PutRate(ctx context.Context, r marketdata.ExchangeRate) error {
	fetchedAt := m.now()

	m.mu.Lock()
	m.rates[r.Pair] = rateEntry{rate: r, fetchedAt: fetchedAt}
	m.mu.Unlock()

	if m.persist == nil {
		return nil
	}
	entry := Entry{Key: r.Pair, Kind: EntryKindRate, Rate: r, FetchedAt: fetchedAt}
	if err := m.persist.SaveCacheEntry(ctx, entry); err != nil {
		m.logger.Error().Err(err).Str("pair", r.Pair).Msg("persist cache entry failed")
		return err
	}
	return nil
}

var (
	_ marketdata.QuoteCache = (*Manager)(nil)
	_ marketdata.RateCache  = (*Manager)(nil)
)
