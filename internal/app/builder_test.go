package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tradelab/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csvDir := filepath.Join(dir, "csv")
	require.NoError(t, os.MkdirAll(csvDir, 0o755))
	cfg := config.Default()
	cfg.Data.Exchange = "csv"
	cfg.Data.CSVDir = csvDir
	cfg.Data.CacheDir = filepath.Join(dir, "candles")
	cfg.Results.Dir = filepath.Join(dir, "results")
	cfg.Presets.Path = filepath.Join(dir, "missing.yaml")
	return cfg
}

func TestBuildWiresServices(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.presets)
	assert.NotNil(t, app.LiveService())
	require.NotNil(t, app.Summary)
	assert.Equal(t, "csv", app.Summary.Data.Source)
	assert.Contains(t, app.Summary.Backtest.Strategies, "insidebar")

	w := httptest.NewRecorder()
	app.backtest.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/backtests", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	app.backtest.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/live/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildFailsOnBadData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.CSVDir = filepath.Join(t.TempDir(), "nope")
	_, err := NewAppBuilder(cfg).Build(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	app, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	app.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestBuildClosesDataOnStoreFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Results.Backend = "sqlite"
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Results.DSN = filepath.Join(blocker, "results.db")
	built := 0
	_, err := NewAppBuilder(cfg, WithDataStack(func(c config.DataConfig) (*DataStack, error) {
		built++
		return buildDataStack(c)
	})).Build(context.Background())
	assert.Equal(t, 1, built)
	assert.Error(t, err)
}
