package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
env: test
markets:
  - symbol: BTCUSDT
    base: BTC
    quote: USDT
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0.05", cfg.Engine.MarketBuySlippage.String())
	assert.Equal(t, 50, cfg.Engine.MaxDepth)
	require.Len(t, cfg.Markets, 1)
	assert.Equal(t, "BTCUSDT", cfg.Markets[0].Symbol)
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
env: prod
server:
  addr: ":9000"
log:
  level: debug
  format: console
engine:
  market_buy_slippage: "0.1"
  max_depth: 10
markets:
  - symbol: ETHUSDT
    base: ETH
    quote: USDT
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "0.1", cfg.Engine.MarketBuySlippage.String())
	assert.Equal(t, 10, cfg.Engine.MaxDepth)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-wins")
	t.Setenv("EXCHANGE_SERVER_ADDR", ":7777")
	t.Setenv("EXCHANGE_KAFKA_BROKERS", "kafka1:9092,kafka2:9092")
	t.Setenv("EXCHANGE_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-wins", cfg.DatabaseURL)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Markets = []Market{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}}
		return cfg
	}

	assert.NoError(t, Validate(base()))

	cfg := base()
	cfg.Markets = nil
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Markets = append(cfg.Markets, Market{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"})
	assert.Error(t, Validate(cfg), "duplicate symbol")

	cfg = base()
	cfg.Markets[0].Quote = "BTC"
	assert.Error(t, Validate(cfg), "base equals quote")

	cfg = base()
	cfg.Markets[0].Base = ""
	assert.Error(t, Validate(cfg), "missing base")

	cfg = base()
	cfg.Kafka.Brokers = []string{"kafka:9092"}
	cfg.Kafka.Topic = ""
	assert.Error(t, Validate(cfg), "brokers without topic")
}
