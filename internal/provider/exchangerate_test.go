package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

func TestExchangeRateFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pair/USD/TWD") {
			t.Fatalf("请求路径不正确: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":                "success",
			"conversion_rate":       31.45,
			"time_last_update_unix": 1767225600,
		})
	}))
	defer srv.Close()

	e := NewExchangeRateAPI(ExchangeRateOptions{BaseURL: srv.URL, APIKey: "key", Timeout: time.Second}, noopLogger())

	rate, err := e.FetchRate(context.Background(), "USD", "TWD")
	if err != nil {
		t.Fatalf("FetchRate: %v", err)
	}
	if rate.Pair != "USD_TWD" {
		t.Fatalf("pair 不正确: %s", rate.Pair)
	}
	if !rate.Rate.Equal(decimal.NewFromFloat(31.45)) {
		t.Fatalf("汇率不正确: %s", rate.Rate)
	}
	if rate.UpdatedAt != time.Unix(1767225600, 0).UTC() {
		t.Fatalf("更新时间应取上游时间戳: %s", rate.UpdatedAt)
	}
}

func TestExchangeRateInvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":     "error",
			"error-type": "invalid-key",
		})
	}))
	defer srv.Close()

	e := NewExchangeRateAPI(ExchangeRateOptions{BaseURL: srv.URL, APIKey: "bad", Timeout: time.Second}, noopLogger())

	_, err := e.FetchRate(context.Background(), "USD", "TWD")
	if marketdata.ErrorKindOf(err) != marketdata.ErrorKindInvalidCredentials {
		t.Fatalf("invalid-key 应归为 invalid_credentials: %v", err)
	}
}

func TestExchangeRateMissingAPIKey(t *testing.T) {
	e := NewExchangeRateAPI(ExchangeRateOptions{}, noopLogger())
	_, err := e.FetchRate(context.Background(), "USD", "TWD")
	if marketdata.ErrorKindOf(err) != marketdata.ErrorKindInvalidCredentials {
		t.Fatalf("未配置 API key 应归为 invalid_credentials: %v", err)
	}
}
