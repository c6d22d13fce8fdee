package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/marketdata"
)

func TestClassifyMonotonicAging(t *testing.T) {
	s := NewStrategy(StrategyOptions{EquityTTL: 5 * time.Minute, StaleMultiplier: 2})
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		age  time.Duration
		want marketdata.Freshness
	}{
		{0, marketdata.FreshnessFresh},
		{4 * time.Minute, marketdata.FreshnessFresh},
		{5 * time.Minute, marketdata.FreshnessStale},
		{9 * time.Minute, marketdata.FreshnessStale},
		{10 * time.Minute, marketdata.FreshnessExpired},
		{time.Hour, marketdata.FreshnessExpired},
	}

	prev := marketdata.FreshnessFresh
	for _, tc := range cases {
		got := s.Classify(marketdata.AssetClassEquity, fetched, fetched.Add(tc.age))
		if got != tc.want {
			t.Fatalf("age=%s 期望 %v, 实际 %v", tc.age, tc.want, got)
		}
		// 新鲜度只能随时间单调退化
		if got < prev {
			t.Fatalf("age=%s 新鲜度不应回升: %v -> %v", tc.age, prev, got)
		}
		prev = got
	}
}

func TestClassifyPerAssetClassTTL(t *testing.T) {
	s := NewStrategy(StrategyOptions{
		EquityTTL:       5 * time.Minute,
		CurrencyTTL:     time.Hour,
		BulkDumpTTL:     10 * time.Minute,
		StaleMultiplier: 2,
	})
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := fetched.Add(30 * time.Minute)

	if got := s.Classify(marketdata.AssetClassEquity, fetched, at); got != marketdata.FreshnessExpired {
		t.Fatalf("30 分钟后股票报价应为 EXPIRED, 实际 %v", got)
	}
	if got := s.Classify(marketdata.AssetClassCurrency, fetched, at); got != marketdata.FreshnessFresh {
		t.Fatalf("30 分钟后汇率应仍为 FRESH, 实际 %v", got)
	}
	if got := s.Classify(marketdata.AssetClassBulkDump, fetched, at); got != marketdata.FreshnessExpired {
		t.Fatalf("30 分钟后行情快照应为 EXPIRED, 实际 %v", got)
	}
}

func TestManagerQuoteRoundTrip(t *testing.T) {
	m := NewManager(NewStrategy(StrategyOptions{}), nil, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	q := marketdata.Quote{Symbol: "2330", Price: decimal.NewFromInt(600), Currency: "TWD"}
	if err := m.PutQuote(context.Background(), q); err != nil {
		t.Fatalf("PutQuote 不应报错: %v", err)
	}

	got, freshness, ok := m.GetQuote(context.Background(), "2330")
	if !ok {
		t.Fatal("写入后应能读到")
	}
	if freshness != marketdata.FreshnessFresh {
		t.Fatalf("刚写入的条目应为 FRESH, 实际 %v", freshness)
	}
	if !got.Price.Equal(q.Price) {
		t.Fatalf("读回的价格不一致: %s", got.Price)
	}

	// 时间推进后同一条目退化为 STALE 再到 EXPIRED
	now = now.Add(6 * time.Minute)
	if _, freshness, _ = m.GetQuote(context.Background(), "2330"); freshness != marketdata.FreshnessStale {
		t.Fatalf("6 分钟后应为 STALE, 实际 %v", freshness)
	}
	now = now.Add(10 * time.Minute)
	if _, freshness, _ = m.GetQuote(context.Background(), "2330"); freshness != marketdata.FreshnessExpired {
		t.Fatalf("16 分钟后应为 EXPIRED, 实际 %v", freshness)
	}
}

func TestManagerMissReturnsNotOK(t *testing.T) {
	m := NewManager(NewStrategy(StrategyOptions{}), nil, zerolog.Nop())
	if _, _, ok := m.GetQuote(context.Background(), "9999"); ok {
		t.Fatal("未缓存的 symbol 应返回 ok=false")
	}
	if _, _, ok := m.GetRate(context.Background(), "USD_TWD"); ok {
		t.Fatal("未缓存的 pair 应返回 ok=false")
	}
}

type memPersistence struct {
	entries map[string]Entry
	saveErr error
}

func newMemPersistence() *memPersistence {
	return &memPersistence{entries: make(map[string]Entry)}
}

func (p *memPersistence) SaveCacheEntry(ctx context.Context, entry Entry) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.entries[entry.Key] = entry
	return nil
}

func (p *memPersistence) LoadCacheEntries(ctx context.Context) ([]Entry, error) {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestManagerWriteThroughAndWarmStart(t *testing.T) {
	persist := newMemPersistence()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := NewManager(NewStrategy(StrategyOptions{}), persist, zerolog.Nop())
	m.now = func() time.Time { return now }

	q := marketdata.Quote{Symbol: "2330", Price: decimal.NewFromInt(600)}
	r := marketdata.ExchangeRate{Pair: "USD_TWD", Rate: decimal.NewFromFloat(31.5)}
	if err := m.PutQuote(context.Background(), q); err != nil {
		t.Fatalf("PutQuote: %v", err)
	}
	if err := m.PutRate(context.Background(), r); err != nil {
		t.Fatalf("PutRate: %v", err)
	}
	if len(persist.entries) != 2 {
		t.Fatalf("写穿后应有 2 条持久化记录, 实际 %d", len(persist.entries))
	}

	// 重启: 新 Manager 从持久层回灌
	restarted := NewManager(NewStrategy(StrategyOptions{}), persist, zerolog.Nop())
	restarted.now = func() time.Time { return now }
	if err := restarted.WarmStart(context.Background()); err != nil {
		t.Fatalf("WarmStart: %v", err)
	}

	got, _, ok := restarted.GetQuote(context.Background(), "2330")
	if !ok || !got.Price.Equal(q.Price) {
		t.Fatalf("warm start 后应读到持久化的报价: ok=%v", ok)
	}
	gotRate, _, ok := restarted.GetRate(context.Background(), "USD_TWD")
	if !ok || !gotRate.Rate.Equal(r.Rate) {
		t.Fatalf("warm start 后应读到持久化的汇率: ok=%v", ok)
	}
}

func TestManagerPersistFailureKeepsMemoryValue(t *testing.T) {
	persist := newMemPersistence()
	persist.saveErr = errors.New("db down")

	m := NewManager(NewStrategy(StrategyOptions{}), persist, zerolog.Nop())
	q := marketdata.Quote{Symbol: "2330", Price: decimal.NewFromInt(600)}

	if err := m.PutQuote(context.Background(), q); err == nil {
		t.Fatal("持久化失败应上报错误")
	}
	if _, _, ok := m.GetQuote(context.Background(), "2330"); !ok {
		t.Fatal("持久化失败不应丢内存值")
	}
}
