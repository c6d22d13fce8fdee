package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeQuoteFetcher struct {
	mu     sync.Mutex
	calls  int
	quote  *Quote
	err    error
	notify chan struct{}
}

func (f *fakeQuoteFetcher) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.notify != nil {
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.quote == nil {
		return nil, nil
	}
	q := *f.quote
	q.Symbol = symbol
	return &q, nil
}

func (f *fakeQuoteFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRateFetcher struct {
	rate *ExchangeRate
	err  error
}

func (f *fakeRateFetcher) FetchRate(ctx context.Context, base, quote string) (*ExchangeRate, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.rate
	r.Pair = RatePair(base, quote)
	return &r, nil
}

type fakeSearcher struct {
	results []SearchResult
	err     error
}

func (f *fakeSearcher) SearchSymbols(ctx context.Context, query string) ([]SearchResult, error) {
	return f.results, f.err
}

type fakeQuoteCache struct {
	mu        sync.Mutex
	quote     Quote
	freshness Freshness
	hit       bool
	puts      []Quote
}

func (c *fakeQuoteCache) GetQuote(ctx context.Context, symbol string) (Quote, Freshness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quote, c.freshness, c.hit
}

func (c *fakeQuoteCache) PutQuote(ctx context.Context, q Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, q)
	return nil
}

func (c *fakeQuoteCache) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.puts)
}

type fakeRateCache struct {
	mu        sync.Mutex
	rate      ExchangeRate
	freshness Freshness
	hit       bool
	puts      []ExchangeRate
}

func (c *fakeRateCache) GetRate(ctx context.Context, pair string) (ExchangeRate, Freshness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate, c.freshness, c.hit
}

func (c *fakeRateCache) PutRate(ctx context.Context, r ExchangeRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, r)
	return nil
}

func newTestService(quotes QuoteFetcher, rates RateFetcher, search SymbolSearcher, qc QuoteCache, rc RateCache) *Service {
	validator := NewValidator(ValidatorOptions{})
	retry := newTestRetry(RetryOptions{MaxAttempts: 2, ServerErrorAttempts: 2})
	return NewService(quotes, rates, search, qc, rc, validator, retry, ServiceOptions{BackgroundRefreshTimeout: time.Second}, zerolog.Nop())
}

func TestGetQuoteFreshHitSkipsNetwork(t *testing.T) {
	fetcher := &fakeQuoteFetcher{quote: &Quote{Price: decimal.NewFromInt(999)}}
	cache := &fakeQuoteCache{
		quote:     Quote{Symbol: "2330", Price: decimal.NewFromInt(600)},
		freshness: FreshnessFresh,
		hit:       true,
	}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, cache, &fakeRateCache{})

	q, err := svc.GetQuote(context.Background(), "2330")
	if err != nil {
		t.Fatalf("FRESH 命中不应报错: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("应返回缓存值, 实际 %s", q.Price)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("FRESH 命中不应触发网络请求, 实际 %d 次", fetcher.callCount())
	}
}

func TestGetQuoteStaleServesAndRefreshesInBackground(t *testing.T) {
	notify := make(chan struct{}, 1)
	fetcher := &fakeQuoteFetcher{quote: &Quote{Price: decimal.NewFromInt(610)}, notify: notify}
	cache := &fakeQuoteCache{
		quote:     Quote{Symbol: "2330", Price: decimal.NewFromInt(600)},
		freshness: FreshnessStale,
		hit:       true,
	}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, cache, &fakeRateCache{})

	q, err := svc.GetQuote(context.Background(), "2330")
	if err != nil {
		t.Fatalf("STALE 命中不应报错: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(600)) {
		t.Fatal("STALE 应立即返回缓存值")
	}

	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("STALE 命中应触发后台刷新")
	}

	deadline := time.After(2 * time.Second)
	for cache.putCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("后台刷新应写回缓存")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestGetQuoteExpiredFetchesSynchronously(t *testing.T) {
	fetcher := &fakeQuoteFetcher{quote: &Quote{Price: decimal.NewFromInt(620), Source: "finnhub"}}
	cache := &fakeQuoteCache{
		quote:     Quote{Symbol: "2330", Price: decimal.NewFromInt(600)},
		freshness: FreshnessExpired,
		hit:       true,
	}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, cache, &fakeRateCache{})

	q, err := svc.GetQuote(context.Background(), "2330")
	if err != nil {
		t.Fatalf("过期后同步刷新不应报错: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(620)) {
		t.Fatalf("应返回新抓取的值, 实际 %s", q.Price)
	}
	if cache.putCount() != 1 {
		t.Fatal("成功抓取应写回缓存")
	}
}

func TestGetQuoteDegradedFallback(t *testing.T) {
	fetcher := &fakeQuoteFetcher{err: NewAPIError(ErrorKindServerError, "finnhub", errors.New("502"))}
	cache := &fakeQuoteCache{
		quote:     Quote{Symbol: "2330", Price: decimal.NewFromInt(600)},
		freshness: FreshnessExpired,
		hit:       true,
	}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, cache, &fakeRateCache{})

	q, err := svc.GetQuote(context.Background(), "2330")
	if err != nil {
		t.Fatalf("有缓存兜底时不应报错: %v", err)
	}
	if !q.Degraded {
		t.Fatal("兜底值应标记 Degraded")
	}
	if !q.Price.Equal(decimal.NewFromInt(600)) {
		t.Fatal("兜底值应来自缓存")
	}
}

func TestGetQuoteColdCacheReturnsErrNoData(t *testing.T) {
	fetcher := &fakeQuoteFetcher{err: NewAPIError(ErrorKindNetworkTransient, "finnhub", errors.New("timeout"))}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, &fakeQuoteCache{}, &fakeRateCache{})

	_, err := svc.GetQuote(context.Background(), "2330")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("冷缓存加失败应返回 ErrNoData: %v", err)
	}
}

func TestGetQuoteUnknownSymbol(t *testing.T) {
	fetcher := &fakeQuoteFetcher{} // nil quote, nil error
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, &fakeQuoteCache{}, &fakeRateCache{})

	_, err := svc.GetQuote(context.Background(), "9999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知标的应返回 ErrNotFound: %v", err)
	}
}

func TestGetQuoteRejectsInvalidPayload(t *testing.T) {
	fetcher := &fakeQuoteFetcher{quote: &Quote{Price: decimal.NewFromInt(-5), Source: "finnhub"}}
	svc := newTestService(fetcher, &fakeRateFetcher{}, nil, &fakeQuoteCache{}, &fakeRateCache{})

	_, err := svc.GetQuote(context.Background(), "2330")
	if err == nil {
		t.Fatal("校验失败应报错")
	}
	if ErrorKindOf(err) != ErrorKindMalformedResponse {
		t.Fatalf("校验失败应归为 malformed_response: %v", err)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("畸形数据不应重试, 实际 %d 次", fetcher.callCount())
	}
}

func TestGetExchangeRateDegradedFallback(t *testing.T) {
	rates := &fakeRateFetcher{err: NewAPIError(ErrorKindNetworkTransient, "exchangerate", errors.New("timeout"))}
	rc := &fakeRateCache{
		rate:      ExchangeRate{Pair: "USD_TWD", Rate: decimal.NewFromFloat(31.2)},
		freshness: FreshnessExpired,
		hit:       true,
	}
	svc := newTestService(&fakeQuoteFetcher{}, rates, nil, &fakeQuoteCache{}, rc)

	r, err := svc.GetExchangeRate(context.Background(), "USD", "TWD")
	if err != nil {
		t.Fatalf("有缓存兜底时不应报错: %v", err)
	}
	if !r.Degraded {
		t.Fatal("兜底汇率应标记 Degraded")
	}
}

func TestSearchSymbolOutcomes(t *testing.T) {
	t.Run("matches", func(t *testing.T) {
		search := &fakeSearcher{results: []SearchResult{{Symbol: "AAPL", Description: "APPLE INC"}}}
		svc := newTestService(&fakeQuoteFetcher{}, &fakeRateFetcher{}, search, &fakeQuoteCache{}, &fakeRateCache{})

		out, err := svc.SearchSymbol(context.Background(), "apple")
		if err != nil {
			t.Fatalf("搜索成功不应报错: %v", err)
		}
		if len(out.Results) != 1 || out.Reason != NoResultNone {
			t.Fatalf("期望一条结果: %+v", out)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		svc := newTestService(&fakeQuoteFetcher{}, &fakeRateFetcher{}, &fakeSearcher{}, &fakeQuoteCache{}, &fakeRateCache{})
		out, err := svc.SearchSymbol(context.Background(), "   ")
		if err != nil || out.Reason != NoResultInvalidQuery {
			t.Fatalf("空查询应返回 invalid_query: %+v, %v", out, err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		svc := newTestService(&fakeQuoteFetcher{}, &fakeRateFetcher{}, &fakeSearcher{}, &fakeQuoteCache{}, &fakeRateCache{})
		out, err := svc.SearchSymbol(context.Background(), "nosuchthing")
		if err != nil || out.Reason != NoResultNotFound {
			t.Fatalf("无结果应返回 not_found: %+v, %v", out, err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		search := &fakeSearcher{err: NewAPIError(ErrorKindRateLimited, "finnhub", errors.New("429"))}
		svc := newTestService(&fakeQuoteFetcher{}, &fakeRateFetcher{}, search, &fakeQuoteCache{}, &fakeRateCache{})
		out, err := svc.SearchSymbol(context.Background(), "apple")
		if err != nil || out.Reason != NoResultAPILimit {
			t.Fatalf("限流应返回 api_limit 而非错误: %+v, %v", out, err)
		}
	})

	t.Run("network", func(t *testing.T) {
		search := &fakeSearcher{err: NewAPIError(ErrorKindNetworkTransient, "finnhub", errors.New("timeout"))}
		svc := newTestService(&fakeQuoteFetcher{}, &fakeRateFetcher{}, search, &fakeQuoteCache{}, &fakeRateCache{})
		out, err := svc.SearchSymbol(context.Background(), "apple")
		if err != nil || out.Reason != NoResultNetwork {
			t.Fatalf("网络失败应返回 network 而非错误: %+v, %v", out, err)
		}
	})
}
