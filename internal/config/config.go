package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration.
type Config struct {
	Env         string        `yaml:"env"`
	Server      ServerConfig  `yaml:"server"`
	WS          WSConfig      `yaml:"ws"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Log         LogConfig     `yaml:"log"`
	DatabaseURL string        `yaml:"database_url"` // empty = in-memory store
	Kafka       KafkaConfig   `yaml:"kafka"`
	Engine      EngineConfig  `yaml:"engine"`
	Markets     []Market      `yaml:"markets"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type WSConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty = disabled
	Topic   string   `yaml:"topic"`
}

type EngineConfig struct {
	// MarketBuySlippage pads the best-ask reservation for market buy
	// orders, e.g. "0.05" reserves 5% above the current best ask.
	MarketBuySlippage decimal.Decimal `yaml:"market_buy_slippage"`
	// MaxDepth caps depth query responses.
	MaxDepth int `yaml:"max_depth"`
}

// Market defines one tradable symbol and its asset pair.
type Market struct {
	Symbol string `yaml:"symbol"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
}

func Default() Config {
	return Config{
		Env:     "dev",
		Server:  ServerConfig{Addr: ":8000"},
		WS:      WSConfig{Addr: ":8001"},
		Metrics: MetricsConfig{Addr: ":9100"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Kafka:   KafkaConfig{Topic: "exchange.events"},
		Engine: EngineConfig{
			MarketBuySlippage: decimal.RequireFromString("0.05"),
			MaxDepth:          50,
		},
	}
}

// Load reads YAML config from path, then applies env overrides. A .env file
// next to the binary is honored the same way the rest of the environment is.
func Load(path string) (Config, error) {
	// Missing .env just means system environment only.
	_ = godotenv.Load()

	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("EXCHANGE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("EXCHANGE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate ensures required fields are present and consistent.
func Validate(cfg Config) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if len(cfg.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	seen := make(map[string]bool)
	for _, m := range cfg.Markets {
		if m.Symbol == "" || m.Base == "" || m.Quote == "" {
			return fmt.Errorf("market %q needs symbol, base and quote", m.Symbol)
		}
		if m.Base == m.Quote {
			return fmt.Errorf("market %s: base and quote must differ", m.Symbol)
		}
		if seen[m.Symbol] {
			return fmt.Errorf("duplicate market %s", m.Symbol)
		}
		seen[m.Symbol] = true
	}
	if cfg.Engine.MarketBuySlippage.IsNegative() {
		return errors.New("engine.market_buy_slippage must not be negative")
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}
