package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"wealthwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Wear      WearConfig      `mapstructure:"wear"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// PortfolioConfig sets valuation behaviour.
type PortfolioConfig struct {
	HomeCurrency string `mapstructure:"home_currency"`
}

// RefreshConfig governs the periodic revaluation loop.
type RefreshConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ProvidersConfig groups upstream API connectivity.
type ProvidersConfig struct {
	Finnhub      FinnhubConfig      `mapstructure:"finnhub"`
	TWSE         TWSEConfig         `mapstructure:"twse"`
	ExchangeRate ExchangeRateConfig `mapstructure:"exchangerate"`
	EquityRPS    float64            `mapstructure:"equity_rps"`
	CurrencyRPS  float64            `mapstructure:"currency_rps"`
	DumpRPS      float64            `mapstructure:"dump_rps"`
	UserAgent    string             `mapstructure:"user_agent"`
}

// FinnhubConfig covers the per-symbol equity endpoint.
type FinnhubConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TWSEConfig covers the whole-market dump endpoint.
type TWSEConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DumpTTL        time.Duration `mapstructure:"dump_ttl"`
}

// ExchangeRateConfig covers the currency conversion endpoint.
type ExchangeRateConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig holds the freshness TTL table.
type CacheConfig struct {
	EquityTTL       time.Duration `mapstructure:"equity_ttl"`
	CurrencyTTL     time.Duration `mapstructure:"currency_ttl"`
	StaleMultiplier int           `mapstructure:"stale_multiplier"`
}

// RetryConfig bounds the classified retry policy.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	ServerErrorAttempts int           `mapstructure:"server_error_attempts"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
}

// WearConfig tunes the phone↔watch sync protocol.
type WearConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ChannelURL     string        `mapstructure:"channel_url"`
	ValueThreshold float64       `mapstructure:"value_threshold"`
	TimeThreshold  time.Duration `mapstructure:"time_threshold"`
	Debounce       time.Duration `mapstructure:"debounce"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEALTHWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wealthwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("portfolio.home_currency", "TWD")

	v.SetDefault("refresh.interval", "15m")
	v.SetDefault("refresh.align_to_interval", true)
	v.SetDefault("refresh.startup_delay", "0s")
	v.SetDefault("refresh.advisory_lock_key", int64(0x77656172))

	v.SetDefault("providers.finnhub.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("providers.finnhub.request_timeout", "10s")
	v.SetDefault("providers.twse.base_url", "https://openapi.twse.com.tw/v1/exchangeReport/STOCK_DAY_ALL")
	v.SetDefault("providers.twse.request_timeout", "15s")
	v.SetDefault("providers.twse.dump_ttl", "10m")
	v.SetDefault("providers.exchangerate.base_url", "https://v6.exchangerate-api.com/v6")
	v.SetDefault("providers.exchangerate.request_timeout", "10s")
	v.SetDefault("providers.equity_rps", 1.0)
	v.SetDefault("providers.currency_rps", 0.5)
	v.SetDefault("providers.dump_rps", 0.2)
	v.SetDefault("providers.user_agent", "wealthwatcher/1.0")

	v.SetDefault("cache.equity_ttl", "5m")
	v.SetDefault("cache.currency_ttl", "1h")
	v.SetDefault("cache.stale_multiplier", 2)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.server_error_attempts", 2)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "30s")

	v.SetDefault("wear.enabled", false)
	v.SetDefault("wear.value_threshold", 1000.0)
	v.SetDefault("wear.time_threshold", "15m")
	v.SetDefault("wear.debounce", "2s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than zero")
	}
	if c.Portfolio.HomeCurrency == "" {
		return fmt.Errorf("portfolio.home_currency is required")
	}
	if c.Cache.StaleMultiplier < 2 {
		return fmt.Errorf("cache.stale_multiplier must be at least 2")
	}
	if c.Wear.ValueThreshold < 0 {
		return fmt.Errorf("wear.value_threshold cannot be negative")
	}
	if c.Wear.Enabled && c.Wear.ChannelURL == "" {
		return fmt.Errorf("wear.channel_url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
