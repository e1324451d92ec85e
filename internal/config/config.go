package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Model      ModelConfig      `mapstructure:"model"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Universe   UniverseConfig   `mapstructure:"universe"`
	Market     MarketConfig     `mapstructure:"market"`
	Store      StoreConfig      `mapstructure:"store"`
	News       NewsConfig       `mapstructure:"news"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// BrokerConfig contains brokerage API settings. The engine refuses to start
// against anything that is not a paper endpoint.
type BrokerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	// Feed is the market data feed ("iex" for paper accounts).
	Feed           string `mapstructure:"feed"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxInflight    int    `mapstructure:"max_inflight"`
}

// ModelConfig contains the local LLM endpoint settings
type ModelConfig struct {
	Endpoint              string  `mapstructure:"endpoint"`
	Name                  string  `mapstructure:"name"`
	Temperature           float64 `mapstructure:"temperature"`
	MaxTokens             int     `mapstructure:"max_tokens"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	SessionTimeoutSeconds int     `mapstructure:"session_timeout_seconds"`
	MaxInflight           int     `mapstructure:"max_inflight"`
}

// TradingConfig contains trading behavior settings
type TradingConfig struct {
	Profile              string   `mapstructure:"profile"`
	Symbols              []string `mapstructure:"symbols"`
	CycleIntervalMinutes int      `mapstructure:"cycle_interval_minutes"`
	DryRun               bool     `mapstructure:"dry_run"`
	NewOpportunityBudget int      `mapstructure:"new_opportunity_budget"`
	FillTimeoutSeconds   int      `mapstructure:"fill_timeout_seconds"`
}

// RiskConfig contains the hard pre-trade limits. Percentages are whole
// numbers: 10 means 10%.
type RiskConfig struct {
	MaxPositionSizePct      float64 `mapstructure:"max_position_size_pct"`
	MaxDailyLossPct         float64 `mapstructure:"max_daily_loss_pct"`
	MaxPortfolioExposurePct float64 `mapstructure:"max_portfolio_exposure_pct"`
	MaxTradesPerDay         int     `mapstructure:"max_trades_per_day"`
	// MinConfidenceThreshold overrides the per-profile threshold when > 0.
	MinConfidenceThreshold float64 `mapstructure:"min_confidence_threshold"`
}

// UniverseConfig contains tracked-symbol universe settings
type UniverseConfig struct {
	Size       int    `mapstructure:"size"`
	CacheHours int    `mapstructure:"cache_hours"`
	CachePath  string `mapstructure:"cache_path"`
}

// MarketConfig contains market session settings
type MarketConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// StoreConfig contains persistence paths
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	LogsDir      string `mapstructure:"logs_dir"`
	NewsDir      string `mapstructure:"news_dir"`
}

// NewsConfig contains overnight news pipeline settings
type NewsConfig struct {
	MaxInflight       int `mapstructure:"max_inflight"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
	MetricsPort   int  `mapstructure:"metrics_port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MARKETMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
		}
		// No config file; defaults plus environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Field: "unmarshal", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketmind")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.feed", "iex")
	v.SetDefault("broker.timeout_seconds", 10)
	v.SetDefault("broker.max_inflight", 4)

	v.SetDefault("model.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("model.name", "local")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.max_tokens", 2000)
	v.SetDefault("model.timeout_seconds", 120)
	v.SetDefault("model.session_timeout_seconds", 900)
	v.SetDefault("model.max_inflight", 1)

	v.SetDefault("trading.profile", "moderate")
	v.SetDefault("trading.cycle_interval_minutes", 5)
	v.SetDefault("trading.dry_run", false)
	v.SetDefault("trading.new_opportunity_budget", 10)
	v.SetDefault("trading.fill_timeout_seconds", 30)

	v.SetDefault("risk.max_position_size_pct", 10)
	v.SetDefault("risk.max_daily_loss_pct", 2)
	v.SetDefault("risk.max_portfolio_exposure_pct", 150)
	v.SetDefault("risk.max_trades_per_day", 10)
	v.SetDefault("risk.min_confidence_threshold", 0)

	v.SetDefault("universe.size", 100)
	v.SetDefault("universe.cache_hours", 24)
	v.SetDefault("universe.cache_path", "data/universe_cache.json")

	v.SetDefault("market.timezone", "America/New_York")

	v.SetDefault("store.database_path", "data/marketmind.db")
	v.SetDefault("store.logs_dir", "data/logs")
	v.SetDefault("store.news_dir", "data/news_timelines")

	v.SetDefault("news.max_inflight", 8)
	v.SetDefault("news.requests_per_minute", 100)

	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_port", 9090)
}

// validProfiles are the recognized trading profiles
var validProfiles = map[string]bool{
	"conservative": true,
	"moderate":     true,
	"aggressive":   true,
	"rotator":      true,
	"momentum":     true,
	"value":        true,
}

// Validate checks the configuration for invalid values. Any field outside
// its enumeration or range is a ConfigurationError.
func (c *Config) Validate() error {
	if !validProfiles[c.Trading.Profile] {
		return &ConfigurationError{Field: "trading.profile", Reason: fmt.Sprintf("unknown profile %q", c.Trading.Profile)}
	}
	if c.Trading.CycleIntervalMinutes < 1 {
		return &ConfigurationError{Field: "trading.cycle_interval_minutes", Reason: "must be >= 1"}
	}
	if c.Trading.NewOpportunityBudget < 0 {
		return &ConfigurationError{Field: "trading.new_opportunity_budget", Reason: "must be >= 0"}
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		return &ConfigurationError{Field: "risk.max_position_size_pct", Reason: "must be in (0, 100]"}
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		return &ConfigurationError{Field: "risk.max_daily_loss_pct", Reason: "must be in (0, 100]"}
	}
	if c.Risk.MaxPortfolioExposurePct <= 0 {
		return &ConfigurationError{Field: "risk.max_portfolio_exposure_pct", Reason: "must be > 0"}
	}
	if c.Risk.MaxTradesPerDay < 1 {
		return &ConfigurationError{Field: "risk.max_trades_per_day", Reason: "must be >= 1"}
	}
	if c.Risk.MinConfidenceThreshold < 0 || c.Risk.MinConfidenceThreshold > 100 {
		return &ConfigurationError{Field: "risk.min_confidence_threshold", Reason: "must be in [0, 100]"}
	}
	if c.Universe.Size < 1 {
		return &ConfigurationError{Field: "universe.size", Reason: "must be >= 1"}
	}
	if c.Universe.CacheHours < 1 {
		return &ConfigurationError{Field: "universe.cache_hours", Reason: "must be >= 1"}
	}
	if c.Model.Endpoint == "" {
		return &ConfigurationError{Field: "model.endpoint", Reason: "must not be empty"}
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return &ConfigurationError{Field: "model.temperature", Reason: "must be in [0, 2]"}
	}
	if c.Model.MaxInflight < 1 {
		return &ConfigurationError{Field: "model.max_inflight", Reason: "must be >= 1"}
	}
	if c.Market.Timezone == "" {
		return &ConfigurationError{Field: "market.timezone", Reason: "must not be empty"}
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return &ConfigurationError{Field: "market.timezone", Reason: fmt.Sprintf("unknown timezone %q", c.Market.Timezone)}
	}
	if c.Broker.BaseURL == "" {
		return &ConfigurationError{Field: "broker.base_url", Reason: "must not be empty"}
	}
	return nil
}

// BrokerTimeout returns the per-call broker deadline
func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

// ModelTimeout returns the single-turn model deadline
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// ModelSessionTimeout returns the whole-session deadline for the iterative analyst
func (c *Config) ModelSessionTimeout() time.Duration {
	return time.Duration(c.Model.SessionTimeoutSeconds) * time.Second
}

// CycleInterval returns the trading cycle cadence
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Trading.CycleIntervalMinutes) * time.Minute
}

// FillTimeout returns how long to wait for a market order to fill
func (c *Config) FillTimeout() time.Duration {
	return time.Duration(c.Trading.FillTimeoutSeconds) * time.Second
}
