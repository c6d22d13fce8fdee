package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

// TWSEOptions parameterise the bulk-dump provider.
type TWSEOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// DumpTTL bounds how long one whole-market snapshot serves per-symbol
	// lookups before it is re-fetched.
	DumpTTL time.Duration
}

// TWSE serves Taiwan-listed quotes out of the exchange's daily whole-market
// dump. The upstream has no per-symbol endpoint, so the dump is fetched once,
// cached for DumpTTL, and scanned per lookup. Concurrent lookups during a
// refresh join the same dump fetch.
type TWSE struct {
	opts    TWSEOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	flights *marketdata.FlightGroup[[]twseRow]

	mu        sync.Mutex
	rows      []twseRow
	fetchedAt time.Time
}

// twseRow mirrors the upstream schema: every field arrives as a string.
type twseRow struct {
	Code         string `json:"Code"`
	Name         string `json:"Name"`
	TradeVolume  string `json:"TradeVolume"`
	TradeValue   string `json:"TradeValue"`
	OpeningPrice string `json:"OpeningPrice"`
	HighestPrice string `json:"HighestPrice"`
	LowestPrice  string `json:"LowestPrice"`
	ClosingPrice string `json:"ClosingPrice"`
	Change       string `json:"Change"`
	Transaction  string `json:"Transaction"`
}

// NewTWSE constructs the bulk-dump provider.
func NewTWSE(opts TWSEOptions, logger zerolog.Logger) *TWSE {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.DumpTTL <= 0 {
		opts.DumpTTL = 10 * time.Minute
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openapi.twse.com.tw/v1/exchangeReport/STOCK_DAY_ALL"
	}

	return &TWSE{
		opts:    opts,
		logger:  logger.With().Str("component", "twse_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		flights: marketdata.NewFlightGroup[[]twseRow](),
	}
}

// FetchQuote scans the cached dump for the requested symbol. A symbol absent
// from the dump returns (nil, nil): an ordinary miss, not a provider error.
func (t *TWSE) FetchQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	code := CleanSymbol(symbol)

	rows, fetchedAt, err := t.dump(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Code != code {
			continue
		}
		quote, err := t.parseRow(symbol, row, fetchedAt)
		if err != nil {
			return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "twse", err)
		}
		return quote, nil
	}
	return nil, nil
}

func (t *TWSE) parseRow(symbol string, row twseRow, fetchedAt time.Time) (*marketdata.Quote, error) {
	closing, err := decimal.NewFromString(strings.TrimSpace(row.ClosingPrice))
	if err != nil {
		return nil, fmt.Errorf("parse closing price %q: %w", row.ClosingPrice, err)
	}

	quote := &marketdata.Quote{
		Symbol:    symbol,
		Price:     closing,
		Currency:  "TWD",
		State:     marketdata.MarketStateClosed,
		Timestamp: fetchedAt,
		Source:    "twse",
	}

	if open, err := decimal.NewFromString(strings.TrimSpace(row.OpeningPrice)); err == nil {
		quote.Open = open
	}
	if high, err := decimal.NewFromString(strings.TrimSpace(row.HighestPrice)); err == nil {
		quote.High = high
	}
	if low, err := decimal.NewFromString(strings.TrimSpace(row.LowestPrice)); err == nil {
		quote.Low = low
	}

	change, err := decimal.NewFromString(strings.TrimSpace(row.Change))
	if err != nil {
		// Some rows carry no change figure (new listings, suspensions).
		return quote, nil
	}
	quote.Change = change

	// The dump only supplies the absolute change; derive the percentage from
	// the previous close. A non-positive previous close leaves the percent at
	// zero instead of dividing.
	prevClose := closing.Sub(change)
	quote.PreviousClose = prevClose
	if prevClose.IsPositive() {
		quote.ChangePercent = change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return quote, nil
}

// dump returns the cached whole-market snapshot, re-fetching it under the
// deduplication discipline once the TTL lapses.
func (t *TWSE) dump(ctx context.Context) ([]twseRow, time.Time, error) {
	t.mu.Lock()
	if t.rows != nil && time.Since(t.fetchedAt) < t.opts.DumpTTL {
		rows, at := t.rows, t.fetchedAt
		t.mu.Unlock()
		return rows, at, nil
	}
	t.mu.Unlock()

	rows, _, err := t.flights.RunOrJoin(ctx, "dump", func(ctx context.Context) ([]twseRow, error) {
		fetched, err := t.fetchDump(ctx)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.rows = fetched
		t.fetchedAt = time.Now().UTC()
		t.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	t.mu.Lock()
	at := t.fetchedAt
	t.mu.Unlock()
	return rows, at, nil
}

func (t *TWSE) fetchDump(ctx context.Context) ([]twseRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "wealthwatcher/1.0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read twse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.ClassifyStatus("twse", resp.StatusCode, payload)
	}

	var rows []twseRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "twse", err)
	}
	if len(rows) == 0 {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "twse", errors.New("empty market dump"))
	}

	t.logger.Debug().Int("rows", len(rows)).Msg("market dump refreshed")
	return rows, nil
}

var _ marketdata.QuoteFetcher = (*TWSE)(nil)
