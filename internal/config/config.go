// Package config loads the engine configuration from yaml, applies
// defaults, and validates thresholds before anything starts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Every threshold of the
// aggregation, sizing, resolution and ranking passes lives here; none are
// hardcoded in the domain packages.
type Config struct {
	Instruments []string `yaml:"instruments" validate:"min=1,dive,required"`

	Features struct {
		MinLookback  int `yaml:"min_lookback" default:"200" validate:"gte=100"`
		HurstWindow  int `yaml:"hurst_window" default:"100" validate:"gte=100"`
		VolWindow    int `yaml:"vol_window" default:"20" validate:"gt=1"`
		VolHistory   int `yaml:"vol_history" default:"100" validate:"gt=10"`
		EGARCHWindow int `yaml:"egarch_window" default:"500" validate:"gte=50"`
	} `yaml:"features"`

	Confluence struct {
		FireThreshold float64            `yaml:"fire_threshold" default:"2.0" validate:"gt=0"`
		MinConfidence float64            `yaml:"min_confidence" default:"0.6" validate:"gte=0,lte=1"`
		Weights       map[string]float64 `yaml:"weights"`
	} `yaml:"confluence"`

	Risk struct {
		MinTrades   int     `yaml:"min_trades" default:"30" validate:"gt=0"`
		KellyScale  float64 `yaml:"kelly_scale" default:"0.5" validate:"gt=0,lte=1"`
		MaxFraction float64 `yaml:"max_fraction" default:"0.25" validate:"gt=0,lte=1"`
		StopVolMult float64 `yaml:"stop_vol_mult" default:"1.5" validate:"gt=0"`
		RewardRisk  float64 `yaml:"reward_risk" default:"2.0" validate:"gt=0"`
		TargetVol   float64 `yaml:"target_vol" default:"0.02" validate:"gt=0"`
		MinStopPct  float64 `yaml:"min_stop_pct" default:"0.005" validate:"gt=0"`
	} `yaml:"risk"`

	ForwardTest struct {
		MaxHolding time.Duration `yaml:"max_holding" default:"720h"`
	} `yaml:"forward_test"`

	Ranker struct {
		MinTrades     int           `yaml:"min_trades" default:"30" validate:"gt=0"`
		PThreshold    float64       `yaml:"p_threshold" default:"0.05" validate:"gt=0,lt=1"`
		CorrThreshold float64       `yaml:"corr_threshold" default:"0.8" validate:"gt=0,lte=1"`
		Cadence       time.Duration `yaml:"cadence" default:"24h"`
		Window        time.Duration `yaml:"window" default:"2160h"`
	} `yaml:"ranker"`

	Engine struct {
		MaxHistory       int     `yaml:"max_history" default:"1000" validate:"gte=250"`
		FallbackFraction float64 `yaml:"fallback_fraction" default:"0.01" validate:"gt=0,lte=1"`
	} `yaml:"engine"`

	Poll struct {
		Interval time.Duration `yaml:"interval" default:"1m"`
		Lookback time.Duration `yaml:"lookback" default:"1000h"`
	} `yaml:"poll"`

	Postgres struct {
		DSN     string        `yaml:"dsn"`
		Timeout time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"postgres"`

	ClickHouse struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table" default:"bars"`
	} `yaml:"clickhouse"`

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl" default:"48h"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		SignalTopic  string   `yaml:"signal_topic" default:"confluence.signals"`
		OutcomeTopic string   `yaml:"outcome_topic" default:"confluence.outcomes"`
	} `yaml:"kafka"`

	Stream struct {
		URL         string        `yaml:"url"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"90s"`
	} `yaml:"stream"`

	HTTP struct {
		Addr string `yaml:"addr" default:":9090"`
	} `yaml:"http"`

	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes yaml bytes into a validated Config.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
