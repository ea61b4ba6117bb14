package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/signal"
)

// Config represents the complete application configuration
type Config struct {
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Indicators IndicatorsConfig `mapstructure:"indicators"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Watchlist  WatchlistConfig  `mapstructure:"watchlist"`
	Params     ParamsConfig     `mapstructure:"params"`
	Report     ReportConfig     `mapstructure:"report"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// MarketDataConfig holds the daily-bar provider configuration
type MarketDataConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Suffix       string        `mapstructure:"suffix"` // appended to every symbol, e.g. ".VN"
	Period       string        `mapstructure:"period"` // history range requested per symbol
	Timeout      time.Duration `mapstructure:"timeout"`
	RequestGap   time.Duration `mapstructure:"request_gap"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// CacheConfig selects the bar cache backend
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // sqlite, redis or none
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// StorageConfig holds SQLite persistence configuration
type StorageConfig struct {
	DBPath   string `mapstructure:"db_path"`
	MaxScans int    `mapstructure:"max_scans"`
}

// ScanConfig holds scanning behavior configuration
type ScanConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"` // 0 disables scheduled scans
	Mode        string        `mapstructure:"mode"`
	Strategy    string        `mapstructure:"strategy"`
	OnStart     bool          `mapstructure:"on_start"`
}

// IndicatorsConfig holds indicator periods and Alpha Trend settings
type IndicatorsConfig struct {
	MFIPeriod     int     `mapstructure:"mfi_period"`
	RSIPeriod     int     `mapstructure:"rsi_period"`
	ADXPeriod     int     `mapstructure:"adx_period"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	MAPeriod      int     `mapstructure:"ma_period"`
	StopWindow    int     `mapstructure:"stop_window"`
	StopATRMult   float64 `mapstructure:"stop_atr_mult"`
	AlphaCoeff    float64 `mapstructure:"alpha_coeff"`
	AlphaPeriod   int     `mapstructure:"alpha_period"`
	AlphaMFIPivot float64 `mapstructure:"alpha_mfi_pivot"`
	MinBars       int     `mapstructure:"min_bars"`
}

// SignalConfig holds the fixed-strategy thresholds
type SignalConfig struct {
	ADXMin  float64 `mapstructure:"adx_min"`
	MFILow  float64 `mapstructure:"mfi_low"`
	MFIHigh float64 `mapstructure:"mfi_high"`
	RSILow  float64 `mapstructure:"rsi_low"`
	RSIHigh float64 `mapstructure:"rsi_high"`
}

// WatchlistConfig locates the watchlist files
type WatchlistConfig struct {
	Dir          string `mapstructure:"dir"`
	PersonalFile string `mapstructure:"personal_file"`
	MarketFile   string `mapstructure:"market_file"`
}

// ParamsConfig locates the optimized-strategy parameter table
type ParamsConfig struct {
	Path             string  `mapstructure:"path"`
	DefaultTolerance float64 `mapstructure:"default_tolerance"`
}

// ReportConfig holds spreadsheet export configuration
type ReportConfig struct {
	Dir        string `mapstructure:"dir"`
	AutoExport bool   `mapstructure:"auto_export"`
}

// ServerConfig holds dashboard API configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Keys are overridden by MFTREND_<SECTION>_<KEY>, e.g. MFTREND_SCAN_STRATEGY.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("MFTREND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Market data defaults
	v.SetDefault("market_data.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market_data.suffix", ".VN")
	v.SetDefault("market_data.period", "8mo")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.request_gap", "500ms")
	v.SetDefault("market_data.max_retries", 3)
	v.SetDefault("market_data.retry_backoff", "1s")
	v.SetDefault("market_data.user_agent", "Mozilla/5.0 (compatible; mftrend/1.0)")

	// Cache defaults
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/mftrend.db")
	v.SetDefault("storage.max_scans", 50)

	// Scan defaults
	v.SetDefault("scan.concurrency", 4)
	v.SetDefault("scan.interval", "0s")
	v.SetDefault("scan.mode", string(models.ModePersonal))
	v.SetDefault("scan.strategy", string(models.StrategyFixed))
	v.SetDefault("scan.on_start", false)

	// Indicator defaults
	ind := indicator.NormalizeSettings(indicator.Settings{})
	v.SetDefault("indicators.mfi_period", ind.MFIPeriod)
	v.SetDefault("indicators.rsi_period", ind.RSIPeriod)
	v.SetDefault("indicators.adx_period", ind.ADXPeriod)
	v.SetDefault("indicators.atr_period", ind.ATRPeriod)
	v.SetDefault("indicators.ma_period", ind.MAPeriod)
	v.SetDefault("indicators.stop_window", ind.StopWindow)
	v.SetDefault("indicators.stop_atr_mult", ind.StopATRMult)
	v.SetDefault("indicators.alpha_coeff", ind.AlphaCoeff)
	v.SetDefault("indicators.alpha_period", ind.AlphaPeriod)
	v.SetDefault("indicators.alpha_mfi_pivot", ind.AlphaMFIPivot)
	v.SetDefault("indicators.min_bars", ind.MinBars)

	// Signal defaults
	th := signal.DefaultFixedThresholds()
	v.SetDefault("signal.adx_min", th.ADXMin)
	v.SetDefault("signal.mfi_low", th.MFILow)
	v.SetDefault("signal.mfi_high", th.MFIHigh)
	v.SetDefault("signal.rsi_low", th.RSILow)
	v.SetDefault("signal.rsi_high", th.RSIHigh)

	// Watchlist defaults
	v.SetDefault("watchlist.dir", "./data")

	// Params defaults
	v.SetDefault("params.path", "./data/optimized_params.xlsx")
	v.SetDefault("params.default_tolerance", models.DefaultTolerance)

	// Report defaults
	v.SetDefault("report.dir", "./reports")
	v.SetDefault("report.auto_export", false)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate market data config
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.MarketData.Period == "" {
		return fmt.Errorf("market_data.period is required")
	}
	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("market_data.timeout must be positive")
	}
	if c.MarketData.RequestGap < 0 {
		return fmt.Errorf("market_data.request_gap must not be negative")
	}
	if c.MarketData.MaxRetries < 1 {
		return fmt.Errorf("market_data.max_retries must be at least 1")
	}

	// Validate cache config
	switch c.Cache.Backend {
	case "sqlite", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: sqlite, redis, none")
	}
	if c.Cache.Backend != "none" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	// Validate storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxScans < 1 {
		return fmt.Errorf("storage.max_scans must be at least 1")
	}

	// Validate scan config
	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > 64 {
		return fmt.Errorf("scan.concurrency must be between 1 and 64")
	}
	if c.Scan.Interval != 0 && c.Scan.Interval < time.Minute {
		return fmt.Errorf("scan.interval must be 0 or at least 1 minute")
	}
	if _, ok := models.ParseWatchlistMode(c.Scan.Mode); !ok {
		return fmt.Errorf("scan.mode must be one of: personal, market")
	}
	if _, ok := models.ParseStrategy(c.Scan.Strategy); !ok {
		return fmt.Errorf("scan.strategy must be one of: fixed, optimized")
	}

	// Validate indicator config
	for name, p := range map[string]int{
		"mfi_period":   c.Indicators.MFIPeriod,
		"rsi_period":   c.Indicators.RSIPeriod,
		"adx_period":   c.Indicators.ADXPeriod,
		"atr_period":   c.Indicators.ATRPeriod,
		"ma_period":    c.Indicators.MAPeriod,
		"stop_window":  c.Indicators.StopWindow,
		"alpha_period": c.Indicators.AlphaPeriod,
	} {
		if p < 2 {
			return fmt.Errorf("indicators.%s must be at least 2", name)
		}
	}
	if c.Indicators.StopATRMult <= 0 {
		return fmt.Errorf("indicators.stop_atr_mult must be positive")
	}
	if c.Indicators.AlphaCoeff <= 0 {
		return fmt.Errorf("indicators.alpha_coeff must be positive")
	}
	if c.Indicators.AlphaMFIPivot <= 0 || c.Indicators.AlphaMFIPivot >= 100 {
		return fmt.Errorf("indicators.alpha_mfi_pivot must be between 0 and 100")
	}
	if c.Indicators.MinBars < 21 {
		return fmt.Errorf("indicators.min_bars must be at least 21")
	}

	// Validate signal config
	if err := c.FixedThresholds().Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}

	// Validate watchlist and params config
	if c.Watchlist.Dir == "" {
		return fmt.Errorf("watchlist.dir is required")
	}
	if c.Params.DefaultTolerance < 0 || c.Params.DefaultTolerance >= 1 {
		return fmt.Errorf("params.default_tolerance must be in [0, 1)")
	}

	// Validate report config
	if c.Report.AutoExport && c.Report.Dir == "" {
		return fmt.Errorf("report.dir is required when report.auto_export is enabled")
	}

	// Validate server config
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// IndicatorSettings returns the indicator configuration for the frame builder.
func (c *Config) IndicatorSettings() indicator.Settings {
	return indicator.Settings{
		MFIPeriod:     c.Indicators.MFIPeriod,
		RSIPeriod:     c.Indicators.RSIPeriod,
		ADXPeriod:     c.Indicators.ADXPeriod,
		ATRPeriod:     c.Indicators.ATRPeriod,
		MAPeriod:      c.Indicators.MAPeriod,
		StopWindow:    c.Indicators.StopWindow,
		StopATRMult:   c.Indicators.StopATRMult,
		AlphaCoeff:    c.Indicators.AlphaCoeff,
		AlphaPeriod:   c.Indicators.AlphaPeriod,
		AlphaMFIPivot: c.Indicators.AlphaMFIPivot,
		MinBars:       c.Indicators.MinBars,
	}
}

// FixedThresholds returns the fixed-strategy thresholds.
func (c *Config) FixedThresholds() signal.FixedThresholds {
	return signal.FixedThresholds{
		ADXMin:  c.Signal.ADXMin,
		MFILow:  c.Signal.MFILow,
		MFIHigh: c.Signal.MFIHigh,
		RSILow:  c.Signal.RSILow,
		RSIHigh: c.Signal.RSIHigh,
	}
}

// WatchlistFiles returns the configured file name per mode; empty entries
// are omitted so the store falls back to its default names.
func (c *Config) WatchlistFiles() map[models.WatchlistMode]string {
	files := make(map[models.WatchlistMode]string, 2)
	if c.Watchlist.PersonalFile != "" {
		files[models.ModePersonal] = c.Watchlist.PersonalFile
	}
	if c.Watchlist.MarketFile != "" {
		files[models.ModeMarket] = c.Watchlist.MarketFile
	}
	return files
}
