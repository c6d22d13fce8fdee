package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

// ExchangeRateOptions parameterise the currency conversion provider.
type ExchangeRateOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// ExchangeRateAPI fetches conversion rates for ordered currency pairs.
type ExchangeRateAPI struct {
	opts    ExchangeRateOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewExchangeRateAPI constructs the currency provider.
func NewExchangeRateAPI(opts ExchangeRateOptions, logger zerolog.Logger) *ExchangeRateAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://v6.exchangerate-api.com/v6"
	}

	return &ExchangeRateAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "exchangerate_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type conversionResponse struct {
	Result           string  `json:"result"`
	ErrorType        string  `json:"error-type"`
	ConversionRate   float64 `json:"conversion_rate"`
	ConversionResult float64 `json:"conversion_result"`
	TimeLastUpdate   int64   `json:"time_last_update_unix"`
}

// FetchRate retrieves the base→quote conversion rate.
func (e *ExchangeRateAPI) FetchRate(ctx context.Context, base, quote string) (*marketdata.ExchangeRate, error) {
	if e.opts.APIKey == "" {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindInvalidCredentials, "exchangerate", errors.New("api key not configured"))
	}

	endpoint := fmt.Sprintf("%s/%s/pair/%s/%s", e.baseURL, e.opts.APIKey, base, quote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "wealthwatcher/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read exchangerate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.ClassifyStatus("exchangerate", resp.StatusCode, payload)
	}

	var res conversionResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, marketdata.NewAPIError(marketdata.ErrorKindMalformedResponse, "exchangerate", err)
	}
	if res.Result != "success" {
		kind := marketdata.ErrorKindUnknown
		if res.ErrorType == "invalid-key" || res.ErrorType == "inactive-account" {
			kind = marketdata.ErrorKindInvalidCredentials
		}
		return nil, marketdata.NewAPIError(kind, "exchangerate", fmt.Errorf("upstream result %q (%s)", res.Result, res.ErrorType))
	}

	rate := decimal.NewFromFloat(res.ConversionRate)
	updatedAt := time.Now().UTC()
	if res.TimeLastUpdate > 0 {
		updatedAt = time.Unix(res.TimeLastUpdate, 0).UTC()
	}

	return &marketdata.ExchangeRate{
		Pair:      marketdata.RatePair(base, quote),
		Rate:      rate,
		UpdatedAt: updatedAt,
		Source:    "exchangerate",
	}, nil
}

var _ marketdata.RateFetcher = (*ExchangeRateAPI)(nil)
