// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"grid_hedge_bot/risk"

	"gopkg.in/yaml.v2"
)

// HedgeConfig holds the parameters of the grid-hedging state machine.
// Distances are fractions of price: 0.004 means 0.4%.
type HedgeConfig struct {
	Leverage        int     `yaml:"leverage"`
	InitialSide     string  `yaml:"initial_side"`
	RiskTier        string  `yaml:"risk_tier"`
	EntryDistance   float64 `yaml:"entry_distance"`
	TakeProfit      float64 `yaml:"take_profit"`
	StopLoss        float64 `yaml:"stop_loss"` // reserved, not used by the state machine
	Epsilon         float64 `yaml:"epsilon"`
	CycleSidePolicy string  `yaml:"cycle_side_policy"`
	MaxCycles       int     `yaml:"max_cycles"` // 0 = unlimited
	MaxOpenFailures int     `yaml:"max_open_failures"`
}

// SimulationConfig drives the paper exchange used when use_simulation is true.
type SimulationConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	InitialPrice   float64 `yaml:"initial_price"`
	Mode           string  `yaml:"mode"` // sine, random_walk or static
	Amplitude      float64 `yaml:"amplitude"`
	Volatility     float64 `yaml:"volatility"`
	IntervalMillis int     `yaml:"interval_millis"`
	MinQty         float64 `yaml:"min_qty"`
	StepSize       float64 `yaml:"step_size"`
	TickSize       float64 `yaml:"tick_size"`
	Seed           int64   `yaml:"seed"`
}

// MarketDataConfig configures the kline websocket stream.
type MarketDataConfig struct {
	KlineInterval       string `yaml:"kline_interval"`
	ReconnectMaxSeconds int    `yaml:"reconnect_max_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds       int    `yaml:"http_timeout_seconds"`
	RecvWindowSeconds        int    `yaml:"recv_window_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	TimeSyncIntervalMinutes  int    `yaml:"time_sync_interval_minutes"`
	OrderMaxRetries          int    `yaml:"order_max_retries"`
	RetryBaseMillis          int    `yaml:"retry_base_millis"`
	FillTimeoutSeconds       int    `yaml:"fill_timeout_seconds"`
	StopCloseTimeoutSeconds  int    `yaml:"stop_close_timeout_seconds"`
	QuoteAsset               string `yaml:"quote_asset"`
	MetricsAddr              string `yaml:"metrics_addr"` // empty disables /metrics
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string            `yaml:"symbol"`
	MarginType    string            `yaml:"margin_type"`
	UseSimulation bool              `yaml:"use_simulation"`
	Hedge         *HedgeConfig      `yaml:"hedge"`
	Simulation    *SimulationConfig `yaml:"simulation"`
	MarketData    *MarketDataConfig `yaml:"market_data"`
	Normal        *NormalConfig     `yaml:"normal_config"`
	Logs          *LogConfig        `yaml:"logs"`
}

// NewConfig returns a Config with safe operational defaults. Strategy
// parameters have no defaults and must come from config.yaml.
func NewConfig() *Config {
	return &Config{
		Hedge: &HedgeConfig{
			CycleSidePolicy: "repeat",
			MaxOpenFailures: 3,
		},
		Simulation: &SimulationConfig{
			Mode:           "sine",
			IntervalMillis: 1000,
			MinQty:         0.001,
			StepSize:       0.001,
			TickSize:       0.1,
		},
		MarketData: &MarketDataConfig{
			KlineInterval:       "1m",
			ReconnectMaxSeconds: 30,
			ReadTimeoutSeconds:  60,
		},
		Normal: &NormalConfig{
			OrderMaxRetries:         3,
			RetryBaseMillis:         500,
			FillTimeoutSeconds:      15,
			StopCloseTimeoutSeconds: 30,
			QuoteAsset:              "USDT",
		},
		Logs: &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found at %s, program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	cfg.MarginType = strings.ToUpper(strings.TrimSpace(cfg.MarginType))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func missing(format string, args ...interface{}) error {
	return fmt.Errorf("%w: Critical config missing: %s", risk.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: Config error: %s", risk.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return missing("'symbol' must be explicitly specified in config.yaml")
	}
	if c.MarginType != "" && c.MarginType != "ISOLATED" && c.MarginType != "CROSSED" {
		return invalid("margin_type if specified must be 'ISOLATED' or 'CROSSED'")
	}

	if c.Hedge == nil {
		return missing("'hedge' configuration block must be provided in config.yaml")
	}
	h := c.Hedge
	if h.Leverage <= 0 {
		return missing("'hedge.leverage' must be explicitly specified in config.yaml and be positive")
	}
	side := strings.ToLower(h.InitialSide)
	if side != "long" && side != "short" {
		return invalid("hedge.initial_side must be 'long' or 'short', got %q", h.InitialSide)
	}
	if _, err := risk.ParseTier(h.RiskTier); err != nil {
		return err
	}
	if h.EntryDistance <= 0 || h.EntryDistance >= 1 {
		return missing("'hedge.entry_distance' must be a fraction in (0, 1), got %v", h.EntryDistance)
	}
	if h.TakeProfit <= 0 || h.TakeProfit >= 1 {
		return missing("'hedge.take_profit' must be a fraction in (0, 1), got %v", h.TakeProfit)
	}
	if h.StopLoss < 0 || h.StopLoss >= 1 {
		return invalid("hedge.stop_loss must be a fraction in [0, 1), got %v", h.StopLoss)
	}
	if h.Epsilon < 0 {
		return invalid("hedge.epsilon cannot be negative")
	}
	switch strings.ToLower(h.CycleSidePolicy) {
	case "", "repeat", "alternate", "follow_last":
	default:
		return invalid("hedge.cycle_side_policy must be 'repeat', 'alternate' or 'follow_last', got %q", h.CycleSidePolicy)
	}
	if h.MaxCycles < 0 {
		return invalid("hedge.max_cycles cannot be negative")
	}
	if h.MaxOpenFailures <= 0 {
		return invalid("hedge.max_open_failures must be positive")
	}

	if c.UseSimulation {
		s := c.Simulation
		if s == nil {
			return missing("'simulation' block must be provided when use_simulation is true")
		}
		if s.InitialBalance <= 0 || s.InitialPrice <= 0 {
			return missing("'simulation.initial_balance' and 'simulation.initial_price' must be positive")
		}
		switch s.Mode {
		case "sine", "random_walk", "static":
		default:
			return invalid("simulation.mode must be 'sine', 'random_walk' or 'static', got %q", s.Mode)
		}
	}

	if c.MarketData == nil || c.MarketData.KlineInterval == "" {
		return missing("'market_data.kline_interval' must be specified (e.g., '1m')")
	}

	if c.Normal == nil {
		return missing("'normal_config' configuration block must be provided in config.yaml")
	}
	n := c.Normal
	if n.HTTPTimeoutSeconds <= 0 {
		return missing("'normal_config.http_timeout_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if n.RecvWindowSeconds <= 0 {
		return missing("'normal_config.recv_window_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if n.HeartbeatIntervalMinutes <= 0 {
		return missing("'normal_config.heartbeat_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if n.TimeSyncIntervalMinutes <= 0 {
		return missing("'normal_config.time_sync_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if n.OrderMaxRetries < 0 {
		return invalid("normal_config.order_max_retries cannot be negative")
	}
	if n.StopCloseTimeoutSeconds <= 0 {
		return invalid("normal_config.stop_close_timeout_seconds must be positive")
	}
	if n.LogDirectory == "" {
		return missing("'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}
	if n.StateDirectory == "" {
		return missing("'normal_config.state_directory' must be explicitly specified in config.yaml (e.g., 'state')")
	}

	if c.Logs == nil {
		return missing("'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return missing("'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return missing("'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return missing("'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return missing("'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}
	return nil
}

const (
	defaultBaseURL   = "https://fapi.binance.com"
	defaultWSBaseURL = "wss://fstream.binance.com"
)

type EnvConfig struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
	WSBaseURL string
}

// LoadEnvConfig reads credentials and endpoints from the environment.
// BINANCE_TESTNET_BASE_URL is still honoured when BINANCE_BASE_URL is unset.
func LoadEnvConfig() *EnvConfig {
	env := &EnvConfig{
		ApiKey:    os.Getenv("BINANCE_API_KEY"),
		ApiSecret: os.Getenv("BINANCE_SECRET_KEY"),
		BaseURL:   os.Getenv("BINANCE_BASE_URL"),
		WSBaseURL: os.Getenv("BINANCE_WS_URL"),
	}
	if env.BaseURL == "" {
		env.BaseURL = os.Getenv("BINANCE_TESTNET_BASE_URL")
	}
	if env.BaseURL == "" {
		env.BaseURL = defaultBaseURL
	}
	if env.WSBaseURL == "" {
		env.WSBaseURL = defaultWSBaseURL
	}
	return env
}

// Validate requires API credentials for live trading.
func (e *EnvConfig) Validate() error {
	if e.ApiKey == "" || e.ApiSecret == "" {
		return missing("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set for live trading (use .env or the environment)")
	}
	return nil
}
