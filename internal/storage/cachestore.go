package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wealthwatcher/internal/cache"
	"wealthwatcher/internal/marketdata"
)

const (
	upsertCacheEntrySQL = `INSERT INTO market_cache (cache_key, kind, payload, fetched_at)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (cache_key) DO UPDATE
    SET kind = EXCLUDED.kind,
        payload = EXCLUDED.payload,
        fetched_at = EXCLUDED.fetched_at;`

	listCacheEntriesSQL = `SELECT cache_key, kind, payload, fetched_at FROM market_cache;`
)

// cachedQuote is the persisted JSON shape; decimals travel as strings.
type cachedQuote struct {
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	Currency      string `json:"currency"`
	Change        string `json:"change"`
	ChangePercent string `json:"change_percent"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	PreviousClose string `json:"previous_close"`
	State         string `json:"state"`
	Timestamp     int64  `json:"timestamp"`
	Source        string `json:"source"`
}

type cachedRate struct {
	Pair      string `json:"pair"`
	Rate      string `json:"rate"`
	UpdatedAt int64  `json:"updated_at"`
	Source    string `json:"source"`
}

// SaveCacheEntry upserts one cached market value.
func (s *Store) SaveCacheEntry(ctx context.Context, entry cache.Entry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var payload []byte
	switch entry.Kind {
	case cache.EntryKindQuote:
		payload, err = json.Marshal(cachedQuote{
			Symbol:        entry.Quote.Symbol,
			Price:         entry.Quote.Price.String(),
			Currency:      entry.Quote.Currency,
			Change:        entry.Quote.Change.String(),
			ChangePercent: entry.Quote.ChangePercent.String(),
			Open:          entry.Quote.Open.String(),
			High:          entry.Quote.High.String(),
			Low:           entry.Quote.Low.String(),
			PreviousClose: entry.Quote.PreviousClose.String(),
			State:         string(entry.Quote.State),
			Timestamp:     entry.Quote.Timestamp.Unix(),
			Source:        entry.Quote.Source,
		})
	case cache.EntryKindRate:
		payload, err = json.Marshal(cachedRate{
			Pair:      entry.Rate.Pair,
			Rate:      entry.Rate.Rate.String(),
			UpdatedAt: entry.Rate.UpdatedAt.Unix(),
			Source:    entry.Rate.Source,
		})
	default:
		return fmt.Errorf("unknown cache entry kind %q", entry.Kind)
	}
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertCacheEntrySQL, entry.Key, string(entry.Kind), payload, entry.FetchedAt); execErr != nil {
		return fmt.Errorf("upsert cache entry: %w", execErr)
	}
	return nil
}

// LoadCacheEntries reads every persisted cache row for warm start.
func (s *Store) LoadCacheEntries(ctx context.Context) ([]cache.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCacheEntriesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list cache entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]cache.Entry, 0)
	for rows.Next() {
		var (
			key       string
			kind      string
			payload   []byte
			fetchedAt time.Time
		)
		if err := rows.Scan(&key, &kind, &payload, &fetchedAt); err != nil {
			return nil, err
		}

		entry := cache.Entry{Key: key, Kind: cache.EntryKind(kind), FetchedAt: fetchedAt}
		switch entry.Kind {
		case cache.EntryKindQuote:
			quote, err := decodeCachedQuote(payload)
			if err != nil {
				return nil, err
			}
			entry.Quote = quote
		case cache.EntryKindRate:
			rate, err := decodeCachedRate(payload)
			if err != nil {
				return nil, err
			}
			entry.Rate = rate
		default:
			continue
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func decodeCachedQuote(payload []byte) (marketdata.Quote, error) {
	var c cachedQuote
	if err := json.Unmarshal(payload, &c); err != nil {
		return marketdata.Quote{}, fmt.Errorf("unmarshal cached quote: %w", err)
	}

	quote := marketdata.Quote{
		Symbol:    c.Symbol,
		Currency:  c.Currency,
		State:     marketdata.MarketState(c.State),
		Timestamp: time.Unix(c.Timestamp, 0).UTC(),
		Source:    c.Source,
	}

	var err error
	if quote.Price, err = decimal.NewFromString(c.Price); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached price: %w", err)
	}
	if quote.Change, err = decimal.NewFromString(c.Change); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached change: %w", err)
	}
	if quote.ChangePercent, err = decimal.NewFromString(c.ChangePercent); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached change percent: %w", err)
	}
	if quote.Open, err = decimal.NewFromString(c.Open); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached open: %w", err)
	}
	if quote.High, err = decimal.NewFromString(c.High); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached high: %w", err)
	}
	if quote.Low, err = decimal.NewFromString(c.Low); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached low: %w", err)
	}
	if quote.PreviousClose, err = decimal.NewFromString(c.PreviousClose); err != nil {
		return marketdata.Quote{}, fmt.Errorf("parse cached previous close: %w", err)
	}
	return quote, nil
}

func decodeCachedRate(payload []byte) (marketdata.ExchangeRate, error) {
	var c cachedRate
	if err := json.Unmarshal(payload, &c); err != nil {
		return marketdata.ExchangeRate{}, fmt.Errorf("unmarshal cached rate: %w", err)
	}

	rate, err := decimal.NewFromString(c.Rate)
	if err != nil {
		return marketdata.ExchangeRate{}, fmt.Errorf("parse cached rate: %w", err)
	}
	return marketdata.ExchangeRate{
		Pair:      c.Pair,
		Rate:      rate,
		UpdatedAt: time.Unix(c.UpdatedAt, 0).UTC(),
		Source:    c.Source,
	}, nil
}

var _ cache.Persistence = (*Store)(nil)
