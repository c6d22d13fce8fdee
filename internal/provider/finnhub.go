package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

const (
	finnhubQuotePath  = "/quote"
	finnhubSearchPath = "/search"
)

// FinnhubOptions parameterise the equity quote provider.
type FinnhubOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Finnhub fetches per-symbol quotes and symbol search results.
type Finnhub struct {
	opts    FinnhubOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFinnhub constructs the equity provider.
func NewFinnhub(opts FinnhubOptions, logger zerolog.Logger) *Finnhub {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://finnhub.io/api/v1"
	}

	return &Finnhub{
		opts:    opts,
		logger:  logger.With().Str("component", "finnhub_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type finnhubQuoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

type finnhubSearchResponse struct {
	Count  int `json:"count"`
	Result []struct {
		Description   string `json:"description"`
		DisplaySymbol string `json:"displaySymbol"`
		Symbol        string `json:"symbol"`
		Type          string `json:"type"`
	} `json:"result"`
}

// FetchQuote retrieves the current quote for an exchange-listed symbol.
// Unknown symbols come back as all-zero payloads and map to (nil, nil).
func (f *Finnhub) FetchQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if f.opts.APIKey == "" {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindInvalidCredentials, "finnhub", errors.New("api key not configured"))
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", f.opts.APIKey)

	payload, err := f.get(ctx, finnhubQuotePath, params)
	if err != nil {
		return nil, err
	}

	var res finnhubQuoteResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "finnhub", err)
	}

	if res.Current == 0 && res.Timestamp == 0 {
		// Finnhub reports unknown symbols as an empty quote, not an error.
		return nil, nil
	}

	price := decimal.NewFromFloat(res.Current)
	prevClose := decimal.NewFromFloat(res.PreviousClose)

	change := decimal.NewFromFloat(res.Change)
	changePct := decimal.NewFromFloat(res.ChangePercent)
	if changePct.IsZero() && !prevClose.IsZero() {
		// Derive percent change rather than trusting an absent upstream field.
		changePct = price.Sub(prevClose).Div(prevClose).Mul(decimal.NewFromInt(100)).Round(2)
	}

	quote := &marketdata.Quote{
		Symbol:        symbol,
		Price:         price,
		Currency:      "USD",
		Change:        change,
		ChangePercent: changePct,
		Open:          decimal.NewFromFloat(res.Open),
		High:          decimal.NewFromFloat(res.High),
		Low:           decimal.NewFromFloat(res.Low),
		PreviousClose: prevClose,
		State:         marketdata.MarketStateUnknown,
		Timestamp:     time.Unix(res.Timestamp, 0).UTC(),
		Source:        "finnhub",
	}
	return quote, nil
}

// SearchSymbols looks up instruments matching query.
func (f *Finnhub) SearchSymbols(ctx context.Context, query string) ([]marketdata.SearchResult, error) {
	if f.opts.APIKey == "" {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindInvalidCredentials, "finnhub", errors.New("api key not configured"))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("token", f.opts.APIKey)

	payload, err := f.get(ctx, finnhubSearchPath, params)
	if err != nil {
		return nil, err
	}

	var res finnhubSearchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "finnhub", err)
	}

	results := make([]marketdata.SearchResult, 0, len(res.Result))
	for _, r := range res.Result {
		symbol := r.Symbol
		if r.DisplaySymbol != "" {
			symbol = r.DisplaySymbol
		}
		results = append(results, marketdata.SearchResult{
			Symbol:      symbol,
			Description: r.Description,
			Market:      r.Type,
			Currency:    "USD",
		})
	}
	return results, nil
}

func (f *Finnhub) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := f.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "wealthwatcher/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read finnhub response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.ClassifyStatus("finnhub", resp.StatusCode, payload)
	}
	return payload, nil
}

var (
	_ marketdata.QuoteFetcher   = (*Finnhub)(nil)
	_ marketdata.SymbolSearcher = (*Finnhub)(nil)
)
