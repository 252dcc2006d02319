// Package config defines all configuration for the arbitrage executor.
// Config is loaded from a YAML file (default: configs/config.yaml), with
// env vars and CLI flags layered on top — flags override env, env
// overrides YAML, YAML overrides defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Server   ServerConfig   `mapstructure:"server"`
	VenueL   VenueLConfig   `mapstructure:"venue_l"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the front-end bridge's TCP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// VenueLConfig holds venue-L connection and account details.
type VenueLConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	WSURL               string `mapstructure:"ws_url"`
	APIKeyPrivateKey    string `mapstructure:"api_key_private_key"`
	AccountIndex        int    `mapstructure:"account_index"`
	APIKeyIndex         int    `mapstructure:"api_key_index"`
	MarketIndex         int    `mapstructure:"market_index"`
	BaseAmountMultiplier decimal.Decimal `mapstructure:"base_amount_multiplier"`
	PriceMultiplier      decimal.Decimal `mapstructure:"price_multiplier"`
	TickSize             decimal.Decimal `mapstructure:"tick_size"`
	OrderRateLimit       float64 `mapstructure:"order_rate_limit"`
	OrderRateBurst       float64 `mapstructure:"order_rate_burst"`
	AccountRateLimit     float64 `mapstructure:"account_rate_limit"`
	AccountRateBurst     float64 `mapstructure:"account_rate_burst"`
}

// StrategyConfig tunes the signal engine.
//
//   - Ticker: the underlying symbol being arbitraged (e.g. "BTC").
//   - OrderQuantity: fixed size per signal, in underlying units.
//   - MaxPosition: F-venue position cap the signal engine checks before
//     emitting (the risk gate enforces RiskConfig.MaxPosition).
//   - ThresholdOffset: added to the rolling mean spread to form the
//     adaptive trigger threshold.
//   - MinSamples: minimum spread observations before signals fire.
//   - MinSignalInterval: minimum time between two signals.
//   - PriceBuffer: loaded from config; the signal engine does not read it
//     (the F-leg limit price is always one tick inside the touch).
type StrategyConfig struct {
	Ticker            string        `mapstructure:"ticker"`
	OrderQuantity     decimal.Decimal `mapstructure:"order_quantity"`
	MaxPosition       decimal.Decimal `mapstructure:"max_position"`
	LongThreshold     decimal.Decimal `mapstructure:"long_threshold"`
	ShortThreshold    decimal.Decimal `mapstructure:"short_threshold"`
	ThresholdOffset   decimal.Decimal `mapstructure:"threshold_offset"`
	MinSamples        int           `mapstructure:"min_samples"`
	MinSignalInterval time.Duration `mapstructure:"min_signal_interval"`
	PriceBuffer       decimal.Decimal `mapstructure:"price_buffer"`
	TickSize          decimal.Decimal `mapstructure:"tick_size"`
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
}

// RiskConfig sets the hard limits enforced by the risk gate before any
// signal is admitted, plus the circuit breaker's trip conditions.
type RiskConfig struct {
	MaxPosition          decimal.Decimal `mapstructure:"max_position"`
	MaxPositionImbalance decimal.Decimal `mapstructure:"max_position_imbalance"`
	MaxDailyLoss         decimal.Decimal `mapstructure:"max_daily_loss"`
	MaxLatencyMs         int           `mapstructure:"max_latency_ms"`
	MaxErrorRate         float64       `mapstructure:"max_error_rate"`
	MinBalance           decimal.Decimal `mapstructure:"min_balance"`
	CircuitBreakerWindow     time.Duration `mapstructure:"circuit_breaker_window"`
	CircuitBreakerThreshold  int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerResetAfter time.Duration `mapstructure:"circuit_breaker_reset_after"`
}

// TelegramConfig controls the operator notification channel. Enabled is
// derived, not configured directly: true once both BotToken and GroupID
// are non-empty.
type TelegramConfig struct {
	Enabled             bool          `mapstructure:"-"`
	BotToken            string        `mapstructure:"bot_token"`
	GroupID             string        `mapstructure:"group_id"`
	AccountLabel        string        `mapstructure:"account_label"`
	StatusReportInterval time.Duration `mapstructure:"status_report_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// Flags holds the CLI-overridable subset of Config, bound via pflag.
type Flags struct {
	ConfigPath      string
	Ticker          string
	Size            string
	MaxPosition     string
	ThresholdOffset string
	Port            int
	LogLevel        string
	DryRun          bool
}

// BindFlags registers the executor's CLI flags on fs and returns the
// backing struct. Call Parse on fs before passing Flags to Load.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "configs/config.yaml", "path to YAML config file")
	fs.StringVar(&f.Ticker, "ticker", "", "underlying ticker symbol (overrides config)")
	fs.StringVar(&f.Size, "size", "", "order quantity per signal (overrides config)")
	fs.StringVar(&f.MaxPosition, "max-position", "", "per-venue position cap (overrides config)")
	fs.StringVar(&f.ThresholdOffset, "threshold-offset", "", "adaptive threshold offset (overrides config)")
	fs.IntVar(&f.Port, "port", 0, "bridge listen port (overrides config)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.DryRun, "dry-run", false, "log venue-L orders instead of placing them")
	return f
}

// Load reads config from path with env var overrides layered on top,
// then applies flags (flags win over env, env wins over YAML).
func Load(path string, flags *Flags) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Telegram.Enabled = cfg.Telegram.BotToken != "" && cfg.Telegram.GroupID != ""

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8765)
	v.SetDefault("venue_l.base_url", "")
	v.SetDefault("venue_l.ws_url", "")
	v.SetDefault("venue_l.account_index", 0)
	v.SetDefault("venue_l.api_key_index", 0)
	v.SetDefault("venue_l.market_index", 0)
	v.SetDefault("venue_l.order_rate_limit", 2.0)
	v.SetDefault("venue_l.order_rate_burst", 10.0)
	v.SetDefault("venue_l.account_rate_limit", 1.0)
	v.SetDefault("venue_l.account_rate_burst", 5.0)
	v.SetDefault("strategy.ticker", "BTC")
	v.SetDefault("strategy.order_quantity", "0.001")
	v.SetDefault("strategy.max_position", "0.01")
	v.SetDefault("strategy.long_threshold", "10")
	v.SetDefault("strategy.short_threshold", "10")
	v.SetDefault("strategy.threshold_offset", "10")
	v.SetDefault("strategy.min_samples", 100)
	v.SetDefault("strategy.min_signal_interval", "1s")
	v.SetDefault("strategy.price_buffer", "0.5")
	v.SetDefault("strategy.tick_size", "0.1")
	v.SetDefault("strategy.cycle_interval", "1s")
	v.SetDefault("strategy.snapshot_interval", "60s")
	v.SetDefault("risk.max_position", "0.01")
	v.SetDefault("risk.max_position_imbalance", "0.005")
	v.SetDefault("risk.max_daily_loss", "100")
	v.SetDefault("risk.max_latency_ms", 500)
	v.SetDefault("risk.max_error_rate", 0.1)
	v.SetDefault("risk.min_balance", "10")
	v.SetDefault("risk.circuit_breaker_window", "60s")
	v.SetDefault("risk.circuit_breaker_threshold", 10)
	v.SetDefault("risk.circuit_breaker_reset_after", "300s")
	v.SetDefault("telegram.account_label", "A1")
	v.SetDefault("telegram.status_report_interval", "1800s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "logs")
}

// bindEnvVars binds the spec's un-prefixed env var names to their
// mapstructure keys, since the teacher's dotted-key-to-SNAKE_CASE
// replacer convention doesn't apply here (these names don't mirror the
// key hierarchy).
func bindEnvVars(v *viper.Viper) {
	pairs := map[string]string{
		"server.host":              "WS_SERVER_HOST",
		"server.port":              "WS_SERVER_PORT",
		"venue_l.api_key_private_key": "API_KEY_PRIVATE_KEY",
		"venue_l.account_index":    "LIGHTER_ACCOUNT_INDEX",
		"venue_l.api_key_index":    "LIGHTER_API_KEY_INDEX",
		"venue_l.market_index":     "LIGHTER_MARKET_INDEX",
		"strategy.ticker":          "TICKER",
		"strategy.order_quantity":  "ORDER_QUANTITY",
		"strategy.max_position":    "MAX_POSITION",
		"risk.max_position":        "MAX_POSITION",
		"strategy.threshold_offset": "THRESHOLD_OFFSET",
		"strategy.min_samples":     "MIN_SAMPLES",
		"risk.max_daily_loss":      "MAX_DAILY_LOSS",
		"risk.max_latency_ms":      "MAX_LATENCY_MS",
		"risk.min_balance":         "MIN_BALANCE",
		"telegram.bot_token":       "TELEGRAM_BOT_TOKEN",
		"telegram.group_id":        "TELEGRAM_GROUP_ID",
		"telegram.account_label":   "ACCOUNT_LABEL",
		"telegram.status_report_interval": "TELEGRAM_STATUS_INTERVAL",
		"logging.level":            "LOG_LEVEL",
		"logging.format":           "LOG_FORMAT",
		"logging.dir":              "LOG_DIR",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

func applyFlags(cfg *Config, f *Flags) {
	if f.Ticker != "" {
		cfg.Strategy.Ticker = f.Ticker
	}
	if f.Size != "" {
		if d, err := decimal.NewFromString(f.Size); err == nil {
			cfg.Strategy.OrderQuantity = d
		}
	}
	if f.MaxPosition != "" {
		if d, err := decimal.NewFromString(f.MaxPosition); err == nil {
			cfg.Strategy.MaxPosition = d
			cfg.Risk.MaxPosition = d
		}
	}
	if f.ThresholdOffset != "" {
		if d, err := decimal.NewFromString(f.ThresholdOffset); err == nil {
			cfg.Strategy.ThresholdOffset = d
		}
	}
	if f.Port != 0 {
		cfg.Server.Port = f.Port
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.DryRun {
		cfg.DryRun = true
	}
}

// Validate checks structural sanity, not business rules.
func (c *Config) Validate() error {
	if c.VenueL.APIKeyPrivateKey == "" {
		return fmt.Errorf("venue_l.api_key_private_key is required (set API_KEY_PRIVATE_KEY)")
	}
	if c.Strategy.Ticker == "" {
		return fmt.Errorf("strategy.ticker is required")
	}
	if c.Strategy.OrderQuantity.IsZero() || c.Strategy.OrderQuantity.IsNegative() {
		return fmt.Errorf("strategy.order_quantity must be > 0")
	}
	if c.Strategy.MaxPosition.IsZero() || c.Strategy.MaxPosition.IsNegative() {
		return fmt.Errorf("strategy.max_position must be > 0")
	}
	if c.Strategy.MinSamples <= 0 {
		return fmt.Errorf("strategy.min_samples must be > 0")
	}
	if c.Risk.MaxPosition.IsZero() || c.Risk.MaxPosition.IsNegative() {
		return fmt.Errorf("risk.max_position must be > 0")
	}
	if c.Risk.MaxLatencyMs <= 0 {
		return fmt.Errorf("risk.max_latency_ms must be > 0")
	}
	return nil
}
