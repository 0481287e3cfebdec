package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "live.toml", `
[live]
enabled = true
symbols = ["ethusdt", " btcusdt "]
`)
	main := writeFile(t, dir, "config.toml", `
include = ["live.toml"]

[backtest]
initial_capital = 5000
commission = 0

[results]
backend = "SQLite"
`)

	cfg, err := Load(main)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 0.0, cfg.Backtest.Commission, "explicit zero must survive defaults")
	assert.Equal(t, defaultSlippage, cfg.Backtest.Slippage)
	assert.Equal(t, "sqlite", cfg.Results.Backend)
	assert.Equal(t, defaultResultsDSN, cfg.Results.DSN)
	assert.Equal(t, defaultDataMinBars, cfg.Data.MinBars)
	assert.True(t, cfg.Live.Enabled)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.Live.Symbols)
	assert.Equal(t, defaultLiveQueueSize, cfg.Live.QueueSize)
	assert.True(t, cfg.Backtest.StoreCandles)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", `include = ["b.toml"]`)
	writeFile(t, dir, "b.toml", `include = ["a.toml"]`)

	_, err := Load(filepath.Join(dir, "a.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "循环")
}

func TestValidateRejectsBadSections(t *testing.T) {
	t.Run("unknown results backend", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "c.toml", "[results]\nbackend = \"mongo\"\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "results.backend")
	})
	t.Run("commission out of range", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "c.toml", "[backtest]\ncommission = 1.5\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "backtest.commission")
	})
	t.Run("csv exchange without dir", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "c.toml", "[data]\nexchange = \"csv\"\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "data.csv_dir")
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, defaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, float64(defaultInitialCapital), cfg.Backtest.InitialCapital)
	assert.Equal(t, "json", cfg.Results.Backend)
	assert.NoError(t, validate(cfg))
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[http]\naddr = \":8000\"\n")
	t.Setenv("TRADELAB_HTTP_ADDR", ":7000")
	t.Setenv("TRADELAB_DATA_RATE_LIMIT_PER_MIN", "120")
	t.Setenv("TRADELAB_LIVE_SYMBOLS", "ethusdt,solusdt")
	t.Setenv("TRADELAB_CONFIG", path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 120, cfg.Data.RateLimitPerMin)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Live.Symbols)
}
