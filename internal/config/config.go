// Package config loads orchestrator configuration from file, environment, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved orchestrator configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Bus        BusConfig        `mapstructure:"bus"`
	Store      StoreConfig      `mapstructure:"store"`
	Sizing     SizingConfig     `mapstructure:"sizing"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Contracts  map[string]ContractSpec `mapstructure:"contracts"`
	LogLevel   string           `mapstructure:"log_level"`
}

// HTTPConfig controls the HTTP Query Surface.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BusConfig controls the Message Bus Adapter.
type BusConfig struct {
	// Driver selects "redis" or "memory". Memory is used for tests and degraded
	// local operation; it never survives a process restart.
	Driver string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// StoreConfig controls the Persistent State Store's key namespace.
type StoreConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// SizingConfig controls the Symbol & Sizing Resolver's outbound calls.
type SizingConfig struct {
	AccountBalanceURL string        `mapstructure:"account_balance_url"`
	FrontMonthURL     string        `mapstructure:"front_month_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BreakerMaxFailures uint32       `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
	DefaultRiskPct     float64      `mapstructure:"default_risk_pct"`
	MaxContracts       int64        `mapstructure:"max_contracts"`
}

// RiskConfig controls Validation & Admission business rules.
type RiskConfig struct {
	TradingEnabled      bool    `mapstructure:"trading_enabled"`
	MaxPositionSize     int64   `mapstructure:"max_position_size"`
	DailyLossLimit      float64 `mapstructure:"daily_loss_limit"`
	AllowReversal       bool    `mapstructure:"allow_reversal"`
	ReconcileFreshness  time.Duration `mapstructure:"reconcile_freshness"`
}

// ReconcileConfig controls the Reconciliation Engine's matching heuristics
// and timeouts. These were flagged as an Open Question in the spec and are
// deliberately configuration, not constants.
type ReconcileConfig struct {
	PriceTolerancePoints float64       `mapstructure:"price_tolerance_points"`
	TimeToleranceSeconds int           `mapstructure:"time_tolerance_seconds"`
	BracketTolerancePoints float64     `mapstructure:"bracket_tolerance_points"`
	SyncTimeout          time.Duration `mapstructure:"sync_timeout"`
}

// ContractSpec describes a tradable underlying's contract family.
type ContractSpec struct {
	FullSymbol  string  `mapstructure:"full_symbol"`
	MicroSymbol string  `mapstructure:"micro_symbol"`
	FullPointValue  float64 `mapstructure:"full_point_value"`
	MicroPointValue float64 `mapstructure:"micro_point_value"`
	TickSize    float64 `mapstructure:"tick_size"`
}

// Load reads configuration from an optional file, environment variables
// prefixed ORCH_, and the supplied defaults, in that precedence order
// (env overrides file, file overrides defaults).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("orchestrator")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if len(cfg.Contracts) == 0 {
		cfg.Contracts = DefaultContracts()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.redis_addr", "localhost:6379")
	v.SetDefault("bus.redis_db", 0)

	v.SetDefault("store.namespace", "orchestrator")

	v.SetDefault("sizing.timeout", 5*time.Second)
	v.SetDefault("sizing.max_retries", 2)
	v.SetDefault("sizing.breaker_max_failures", uint32(5))
	v.SetDefault("sizing.breaker_open_timeout", 30*time.Second)
	v.SetDefault("sizing.default_risk_pct", 0.01)
	v.SetDefault("sizing.max_contracts", int64(10))

	v.SetDefault("risk.trading_enabled", true)
	v.SetDefault("risk.max_position_size", int64(5))
	v.SetDefault("risk.daily_loss_limit", 1000.0)
	v.SetDefault("risk.allow_reversal", false)
	v.SetDefault("risk.reconcile_freshness", 30*time.Second)

	v.SetDefault("reconcile.price_tolerance_points", 10.0)
	v.SetDefault("reconcile.time_tolerance_seconds", 300)
	v.SetDefault("reconcile.bracket_tolerance_points", 1.0)
	v.SetDefault("reconcile.sync_timeout", 10*time.Second)

	v.SetDefault("log_level", "info")
}

// DefaultContracts returns the built-in futures contract table (§6 of the spec).
func DefaultContracts() map[string]ContractSpec {
	return map[string]ContractSpec{
		"NQ": {FullSymbol: "NQ", MicroSymbol: "MNQ", FullPointValue: 20, MicroPointValue: 2, TickSize: 0.25},
		"ES": {FullSymbol: "ES", MicroSymbol: "MES", FullPointValue: 50, MicroPointValue: 5, TickSize: 0.25},
		"RTY": {FullSymbol: "RTY", MicroSymbol: "M2K", FullPointValue: 50, MicroPointValue: 5, TickSize: 0.1},
	}
}
