package backtest

import (
	"context"
	"testing"

	"tradelab/internal/ledger"
	"tradelab/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveServiceLifecycle(t *testing.T) {
	feed := newFakeFeed()
	loader := &stubLoader{bars: rising(30, 100)}
	svc, err := NewLiveService(LiveConfig{Interval: "1h", HistoryBars: 10, Ledger: ledger.Config{InitialCapital: 1000}}, feed, loader, nil, nil)
	require.NoError(t, err)
	defer svc.Close()

	_, _, err = svc.Metrics()
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = svc.Stop()
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = svc.Start(context.Background(), LiveRequest{Symbol: "btcusdt", Preset: "ib_rr"})
	assert.Error(t, err, "presets not configured")

	st, err := svc.Start(context.Background(), LiveRequest{Symbol: "btcusdt", Strategy: strategy.KindDynGrid})
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, "1h", st.Interval)
	assert.Equal(t, strategy.KindDynGrid, st.Strategy)
	assert.Equal(t, int32(1), loader.calls.Load())

	ch, cancel := svc.Hub().Subscribe()
	defer cancel()
	env := <-ch
	assert.Len(t, env.Historical, 10)

	first := svc.Current()
	_, err = svc.Start(context.Background(), LiveRequest{Symbol: "ethusdt"})
	require.NoError(t, err)
	assert.False(t, first.Running())
	assert.NotEqual(t, first.ID(), svc.Current().ID())

	m, st, err := svc.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 0, m.NumTrades)
	assert.Equal(t, strategy.KindStochMR, st.Strategy)

	st, err = svc.Stop()
	require.NoError(t, err)
	assert.False(t, st.Running)
}
