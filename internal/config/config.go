// Package config loads the engine configuration from a YAML file plus an
// optional .env file, with environment variables taking precedence for
// deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Market  MarketConfig  `yaml:"market"`
	Risk    RiskConfig    `yaml:"risk"`
	Feed    FeedConfig    `yaml:"feed"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// MarketConfig controls admission and clearing rules.
type MarketConfig struct {
	CutoffHour               int     `yaml:"cutoff_hour"`        // day-ahead cutoff, local hour of day
	MaxBidsPerHour           int     `yaml:"max_bids_per_hour"`  // pending-bid quota per (owner, date, hour)
	StartingCashBalance      float64 `yaml:"starting_cash"`      // initial portfolio balance, $
	RepriceIntervalSeconds   int     `yaml:"reprice_interval_seconds"`
	SchedulerIntervalSeconds int     `yaml:"scheduler_interval_seconds"`
}

// RiskConfig holds the limits the analytics breach flags are checked against.
type RiskConfig struct {
	MaxPositionSizeMWh  float64 `yaml:"max_position_size_mwh"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxConcentrationPct float64 `yaml:"max_concentration_pct"`
}

// FeedConfig controls the external market-data client.
type FeedConfig struct {
	BaseURL          string  `yaml:"base_url"` // empty → simulated feed
	APIKey           string  `yaml:"api_key"`
	Region           string  `yaml:"region"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	StalenessSeconds int     `yaml:"staleness_seconds"` // max age of a cached quote used as fallback
	RequestsPerSec   float64 `yaml:"requests_per_sec"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"` // empty → in-memory store
	RedisURL    string `yaml:"redis_url"`    // empty → no cache layer
	CacheTTL    int    `yaml:"cache_ttl_seconds"`
}

// EventsConfig controls the Kafka event publisher.
type EventsConfig struct {
	Brokers     []string `yaml:"brokers"` // empty → events only broadcast over WebSocket
	TopicPrefix string   `yaml:"topic_prefix"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path and applies .env/environment overrides.
// A missing file is not an error: defaults plus environment are enough to
// run with the in-memory store and simulated feed.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if cfg.Market.CutoffHour < 0 || cfg.Market.CutoffHour > 23 {
		return nil, fmt.Errorf("config: cutoff_hour %d out of range", cfg.Market.CutoffHour)
	}

	return &cfg, nil
}

// RepriceInterval returns the repricing tick as a time.Duration.
func (c *Config) RepriceInterval() time.Duration {
	return time.Duration(c.Market.RepriceIntervalSeconds) * time.Second
}

// SchedulerInterval returns the clearing-scheduler tick as a time.Duration.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Market.SchedulerIntervalSeconds) * time.Second
}

// FeedTimeout returns the price-feed request timeout.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// FeedStaleness returns the maximum age of a fallback quote.
func (c *Config) FeedStaleness() time.Duration {
	return time.Duration(c.Feed.StalenessSeconds) * time.Second
}

// StartingCash returns the initial portfolio balance as a decimal.
func (c *Config) StartingCash() decimal.Decimal {
	return decimal.NewFromFloat(c.Market.StartingCashBalance)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = []string{v}
	}
	if v := os.Getenv("FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("FEED_REGION"); v != "" {
		cfg.Feed.Region = v
	}
	if v := os.Getenv("CUTOFF_HOUR"); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Market.CutoffHour = h
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Market.CutoffHour == 0 {
		cfg.Market.CutoffHour = 11
	}
	if cfg.Market.MaxBidsPerHour <= 0 {
		cfg.Market.MaxBidsPerHour = 10
	}
	if cfg.Market.StartingCashBalance <= 0 {
		cfg.Market.StartingCashBalance = 100000
	}
	if cfg.Market.RepriceIntervalSeconds <= 0 {
		cfg.Market.RepriceIntervalSeconds = 300
	}
	if cfg.Market.SchedulerIntervalSeconds <= 0 {
		cfg.Market.SchedulerIntervalSeconds = 60
	}
	if cfg.Risk.MaxPositionSizeMWh <= 0 {
		cfg.Risk.MaxPositionSizeMWh = 1000
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		cfg.Risk.MaxDailyLoss = 50000
	}
	if cfg.Risk.MaxConcentrationPct <= 0 {
		cfg.Risk.MaxConcentrationPct = 25
	}
	if cfg.Feed.Region == "" {
		cfg.Feed.Region = "CAISO"
	}
	if cfg.Feed.TimeoutSeconds <= 0 {
		cfg.Feed.TimeoutSeconds = 10
	}
	if cfg.Feed.StalenessSeconds <= 0 {
		cfg.Feed.StalenessSeconds = 900
	}
	if cfg.Feed.RequestsPerSec <= 0 {
		cfg.Feed.RequestsPerSec = 2
	}
	if cfg.Storage.CacheTTL <= 0 {
		cfg.Storage.CacheTTL = 30
	}
	if cfg.Events.TopicPrefix == "" {
		cfg.Events.TopicPrefix = "energy-market"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
