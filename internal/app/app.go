package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealthwatcher/internal/cache"
	"wealthwatcher/internal/config"
	"wealthwatcher/internal/marketdata"
	"wealthwatcher/internal/portfolio"
	"wealthwatcher/internal/provider"
	"wealthwatcher/internal/scheduler"
	"wealthwatcher/internal/service"
	"wealthwatcher/internal/storage"
	"wealthwatcher/internal/wear"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newMarketData assembles the full acquisition pipeline: providers behind the
// facade, classified retries, validation, and the two-tier cache. store may
// be nil, which disables the persistent cache tier.
func (a *App) newMarketData(ctx context.Context, store *storage.Store) *marketdata.Service {
	cfg := a.Config

	strategy := cache.NewStrategy(cache.StrategyOptions{
		EquityTTL:       cfg.Cache.EquityTTL,
		CurrencyTTL:     cfg.Cache.CurrencyTTL,
		BulkDumpTTL:     cfg.Providers.TWSE.DumpTTL,
		StaleMultiplier: cfg.Cache.StaleMultiplier,
	})

	var persist cache.Persistence
	if store != nil {
		persist = store
	}
	cacheMgr := cache.NewManager(strategy, persist, a.Logger)
	if err := cacheMgr.WarmStart(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("cache warm start failed; starting cold")
	}

	finnhub := provider.NewFinnhub(provider.FinnhubOptions{
		BaseURL:   cfg.Providers.Finnhub.BaseURL,
		APIKey:    cfg.Providers.Finnhub.APIKey,
		Timeout:   cfg.Providers.Finnhub.RequestTimeout,
		UserAgent: cfg.Providers.UserAgent,
	}, a.Logger)

	twse := provider.NewTWSE(provider.TWSEOptions{
		BaseURL:   cfg.Providers.TWSE.BaseURL,
		Timeout:   cfg.Providers.TWSE.RequestTimeout,
		UserAgent: cfg.Providers.UserAgent,
		DumpTTL:   cfg.Providers.TWSE.DumpTTL,
	}, a.Logger)

	fx := provider.NewExchangeRateAPI(provider.ExchangeRateOptions{
		BaseURL:   cfg.Providers.ExchangeRate.BaseURL,
		APIKey:    cfg.Providers.ExchangeRate.APIKey,
		Timeout:   cfg.Providers.ExchangeRate.RequestTimeout,
		UserAgent: cfg.Providers.UserAgent,
	}, a.Logger)

	facade := provider.NewFacade(finnhub, twse, fx, finnhub, provider.FacadeOptions{
		EquityRPS:   cfg.Providers.EquityRPS,
		CurrencyRPS: cfg.Providers.CurrencyRPS,
		DumpRPS:     cfg.Providers.DumpRPS,
	}, a.Logger)

	validator := marketdata.NewValidator(marketdata.ValidatorOptions{
		MaxPrice: decimal.NewFromInt(10_000_000),
	})

	retry := marketdata.NewRetryManager(marketdata.RetryOptions{
		MaxAttempts:         cfg.Retry.MaxAttempts,
		ServerErrorAttempts: cfg.Retry.ServerErrorAttempts,
		BaseDelay:           cfg.Retry.BaseDelay,
		MaxDelay:            cfg.Retry.MaxDelay,
	}, a.Logger)

	return marketdata.NewService(facade, facade, facade, cacheMgr, cacheMgr, validator, retry, marketdata.ServiceOptions{}, a.Logger)
}

func (a *App) newPortfolio(market *marketdata.Service, store *storage.Store) *portfolio.Service {
	return portfolio.New(store, store, store, market, a.Config.Portfolio.HomeCurrency, a.Logger)
}

// newWearManager builds the wear side when enabled. The returned close func
// tears the channel down.
func (a *App) newWearManager(ctx context.Context, pf *portfolio.Service) (*wear.Manager, func(), error) {
	if !a.Config.Wear.Enabled {
		return nil, nil, nil
	}

	channel := wear.NewWSChannel(wear.WSChannelOptions{URL: a.Config.Wear.ChannelURL}, a.Logger)
	if err := channel.Connect(ctx); err != nil {
		return nil, nil, err
	}

	mgr := wear.NewManager(channel, pf, wear.SyncOptions{
		ValueThreshold: a.Config.Wear.ValueThreshold,
		TimeThreshold:  a.Config.Wear.TimeThreshold,
		Debounce:       a.Config.Wear.Debounce,
	}, a.Logger)

	closer := func() {
		if err := channel.Close(); err != nil {
			a.Logger.Debug().Err(err).Msg("wear channel close failed")
		}
	}
	return mgr, closer, nil
}

// Run executes the long-running refresh daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the daemon needs the local store")
	}
	defer closeStore()

	market := a.newMarketData(ctx, store)
	pf := a.newPortfolio(market, store)

	wearMgr, closeWear, err := a.newWearManager(ctx, pf)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("wear channel unavailable; continuing without watch sync")
	}
	if closeWear != nil {
		defer closeWear()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Refresh.Interval,
		AlignToStart: a.Config.Refresh.AlignToInterval,
		StartupDelay: a.Config.Refresh.StartupDelay,
	}, a.Logger)

	svc := service.New(sched, pf, wearMgr, store, a.Config.Refresh.AdvisoryLockKey, a.Logger)

	a.Logger.Info().Msg("starting refresh daemon")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh daemon stopped")
	return nil
}

// Refresh executes a single revaluation pass and reports the new total.
func (a *App) Refresh(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot refresh")
	}
	defer closeStore()

	market := a.newMarketData(ctx, store)
	pf := a.newPortfolio(market, store)

	svc := service.New(nil, pf, nil, store, a.Config.Refresh.AdvisoryLockKey, a.Logger)
	return svc.ProcessTick(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting net-worth history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	SnapshotLimit int
}
