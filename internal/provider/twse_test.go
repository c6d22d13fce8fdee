package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

func twseDumpServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"Code": "1101", "Name": "台泥", "ClosingPrice": "35.50", "Change": "-0.25", "OpeningPrice": "35.80", "HighestPrice": "35.90", "LowestPrice": "35.40"},
			{"Code": "2330", "Name": "台積電", "ClosingPrice": "600.00", "Change": "2.00", "OpeningPrice": "598.00", "HighestPrice": "602.00", "LowestPrice": "596.00"},
			{"Code": "2603", "Name": "長榮", "ClosingPrice": "180.00", "Change": ""},
		})
	}))
}

func TestTWSEFetchQuote(t *testing.T) {
	srv := twseDumpServer(t, nil)
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	q, err := tw.FetchQuote(context.Background(), "2330.TW")
	if err != nil {
		t.Fatalf("FetchQuote 不应报错: %v", err)
	}
	if q == nil {
		t.Fatal("2330 应在快照中")
	}
	if q.Symbol != "2330.TW" {
		t.Fatalf("应保留调用方的 symbol, 实际 %s", q.Symbol)
	}
	if !q.Price.Equal(decimal.RequireFromString("600.00")) {
		t.Fatalf("收盘价不正确: %s", q.Price)
	}
	if q.Currency != "TWD" {
		t.Fatalf("台股计价应为 TWD, 实际 %s", q.Currency)
	}
	// 2.00 / (600.00 - 2.00) * 100 = 0.33
	if !q.ChangePercent.Equal(decimal.RequireFromString("0.33")) {
		t.Fatalf("涨跌幅应为 0.33, 实际 %s", q.ChangePercent)
	}
	if !q.PreviousClose.Equal(decimal.RequireFromString("598.00")) {
		t.Fatalf("昨收应为 598.00, 实际 %s", q.PreviousClose)
	}
}

func TestTWSEFetchQuoteMissingChange(t *testing.T) {
	srv := twseDumpServer(t, nil)
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	q, err := tw.FetchQuote(context.Background(), "2603.TW")
	if err != nil {
		t.Fatalf("缺少 Change 字段的行仍应可用: %v", err)
	}
	if q == nil {
		t.Fatal("2603 应在快照中")
	}
	if !q.Change.IsZero() || !q.ChangePercent.IsZero() {
		t.Fatalf("无涨跌数据时应保持零值: change=%s pct=%s", q.Change, q.ChangePercent)
	}
}

func TestTWSEFetchQuoteAbsentSymbol(t *testing.T) {
	srv := twseDumpServer(t, nil)
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	q, err := tw.FetchQuote(context.Background(), "9999.TW")
	if err != nil {
		t.Fatalf("快照中不存在的代码不应报错: %v", err)
	}
	if q != nil {
		t.Fatal("不存在的代码应返回 nil")
	}
}

func TestTWSEDumpCachedAcrossLookups(t *testing.T) {
	var hits atomic.Int32
	srv := twseDumpServer(t, &hits)
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second, DumpTTL: time.Minute}, noopLogger())

	for _, sym := range []string{"2330.TW", "1101.TW", "2603.TW"} {
		if _, err := tw.FetchQuote(context.Background(), sym); err != nil {
			t.Fatalf("FetchQuote(%s): %v", sym, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("TTL 内多次查询应复用同一份快照, 实际请求 %d 次", got)
	}
}

func TestTWSEConcurrentLookupsShareOneFetch(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"Code": "2330", "Name": "台積電", "ClosingPrice": "600.00", "Change": "2.00"},
		})
	}))
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: 5 * time.Second, DumpTTL: time.Minute}, noopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tw.FetchQuote(context.Background(), "2330.TW"); err != nil {
				t.Errorf("并发查询失败: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Fatalf("并发查询应合并为一次快照请求, 实际 %d 次", got)
	}
}

func TestTWSEEmptyDumpIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	_, err := tw.FetchQuote(context.Background(), "2330.TW")
	if err == nil {
		t.Fatal("空快照应报错")
	}
	if marketdata.ErrorKindOf(err) != marketdata.ErrorKindMalformedResponse {
		t.Fatalf("空快照应归为 malformed_response: %v", err)
	}
}

func TestTWSEServerErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tw := NewTWSE(TWSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	_, err := tw.FetchQuote(context.Background(), "2330.TW")
	if marketdata.ErrorKindOf(err) != marketdata.ErrorKindServerError {
		t.Fatalf("502 应归为 server_error: %v", err)
	}
}
