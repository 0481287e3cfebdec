package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradelab/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func minuteBars(startMs int64, n int) Series {
	out := make(Series, n)
	for i := range out {
		out[i] = Bar{
			Time:  time.UnixMilli(startMs + int64(i)*60_000).UTC(),
			Open:  float64(i),
			High:  float64(i) + 1,
			Low:   float64(i) - 1,
			Close: float64(i),
		}
	}
	return out
}

func TestCandleCacheIntegrity(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCandleCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()
	tf, _ := ParseTimeframe("1m")

	bars := minuteBars(0, 10)
	// 去掉第 3~4 根制造缺口
	stored := append(Series{}, bars[:3]...)
	stored = append(stored, bars[5:]...)
	n, err := cache.Put(ctx, "btcusdt", "1m", stored)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	report, err := cache.CheckIntegrity(ctx, "BTCUSDT", tf, 0, 11*60_000)
	require.NoError(t, err)
	assert.Equal(t, int64(12), report.Expected)
	assert.Equal(t, int64(8), report.Present)
	assert.Equal(t, []Gap{{From: 180_000, To: 240_000}, {From: 600_000, To: 660_000}}, report.Gaps)

	got, err := cache.Range(ctx, "BTCUSDT", "1m", 0, 11*60_000)
	require.NoError(t, err)
	assert.Len(t, got, 8)
	assert.Equal(t, stored[3].Time, got[3].Time)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, req FetchRequest) (Series, error) {
	args := m.Called(ctx, req)
	if s, ok := args.Get(0).(Series); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSource) Name() string { return "mock" }

func TestLoaderFillsGaps(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCandleCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	bars := minuteBars(0, 5)
	_, err = cache.Put(ctx, "ETHUSDT", "1m", bars[:2])
	require.NoError(t, err)

	src := &mockSource{}
	src.On("Fetch", mock.Anything, FetchRequest{Symbol: "ETHUSDT", Interval: "1m", Start: 120_000, End: 240_000, Limit: 3}).
		Return(bars[2:], nil).Once()

	loader, err := NewLoader(LoaderConfig{Cache: cache, Source: src, RateLimitPerMin: 6000})
	require.NoError(t, err)

	got, err := loader.Load(ctx, "ethusdt", "1m", 0, 240_000)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	src.AssertExpectations(t)

	// 第二次完全命中缓存
	got, err = loader.Load(ctx, "ETHUSDT", "1m", 0, 240_000)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	src.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestLoaderTripsBreakerOnRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCandleCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	src := &mockSource{}
	src.On("Fetch", mock.Anything, mock.Anything).Return(Series(nil), errors.New("503")).Times(5)

	loader, err := NewLoader(LoaderConfig{Cache: cache, Source: src, RateLimitPerMin: 60000})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = loader.Load(ctx, "BTCUSDT", "1m", 0, 60_000)
		require.Error(t, err)
	}
	_, err = loader.Load(ctx, "BTCUSDT", "1m", 0, 60_000)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	src.AssertNumberOfCalls(t, "Fetch", 5)
}
