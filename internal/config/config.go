// Package config loads service configuration from a YAML file with
// environment overrides for credentials and connection strings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Bybit    BybitConfig    `mapstructure:"bybit"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`

	// Cooldown is how long a (symbol, source) pair stays blocked after a
	// position closes.
	Cooldown time.Duration `mapstructure:"cooldown"`

	// Symbols is the set of symbols the startup sweep checks for
	// unrecorded exchange orders.
	Symbols []string `mapstructure:"symbols"`
}

// AMQPConfig configures the signal queue consumer.
type AMQPConfig struct {
	URL             string `mapstructure:"url"`
	Queue           string `mapstructure:"queue"`
	Prefetch        int    `mapstructure:"prefetch"`
	MaxRedeliveries int    `mapstructure:"max_redeliveries"`
}

// PostgresConfig configures the deal store.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BybitConfig configures the exchange client.
type BybitConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Testnet    bool          `mapstructure:"testnet"`
}

// RiskConfig configures stop-loss and take-profit derivation.
type RiskConfig struct {
	DefaultStopLossPct   float64 `mapstructure:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64 `mapstructure:"default_take_profit_pct"`
	UseATR               bool    `mapstructure:"use_atr"`
}

// MonitorConfig configures the TP/SL sweep loop.
type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	UseStream bool          `mapstructure:"use_stream"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config.yaml from path and applies environment overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Secrets and connection strings come from the environment in
	// deployment; the file is for everything else.
	bindings := map[string]string{
		"amqp.url":         "AMQP_URL",
		"postgres.dsn":     "POSTGRES_DSN",
		"bybit.api_key":    "BYBIT_API_KEY",
		"bybit.api_secret": "BYBIT_API_SECRET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("amqp.queue", "trading_signals")
	v.SetDefault("amqp.prefetch", 8)
	v.SetDefault("amqp.max_redeliveries", 5)
	v.SetDefault("bybit.timeout", 10*time.Second)
	v.SetDefault("bybit.max_retries", 3)
	v.SetDefault("risk.default_stop_loss_pct", 2.0)
	v.SetDefault("risk.default_take_profit_pct", 3.0)
	v.SetDefault("monitor.interval", time.Minute)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("cooldown", time.Hour)
	v.SetDefault("symbols", []string{"BTCUSDT"})
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.AMQP.URL == "" {
		return fmt.Errorf("amqp.url is required (AMQP_URL)")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required (POSTGRES_DSN)")
	}
	if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
		return fmt.Errorf("bybit credentials are required (BYBIT_API_KEY, BYBIT_API_SECRET)")
	}
	if c.Risk.DefaultStopLossPct <= 0 || c.Risk.DefaultStopLossPct >= 100 {
		return fmt.Errorf("risk.default_stop_loss_pct must be in (0, 100), got %v", c.Risk.DefaultStopLossPct)
	}
	if c.Risk.DefaultTakeProfitPct <= 0 || c.Risk.DefaultTakeProfitPct >= 100 {
		return fmt.Errorf("risk.default_take_profit_pct must be in (0, 100), got %v", c.Risk.DefaultTakeProfitPct)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %v", c.Cooldown)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %v", c.Monitor.Interval)
	}
	return nil
}
