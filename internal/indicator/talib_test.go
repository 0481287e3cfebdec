package indicator

import (
	"testing"
	"time"

	"tradelab/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampBars(n int) market.Series {
	out := make(market.Series, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := float64(i + 1)
		out[i] = market.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func TestTalibReadiness(t *testing.T) {
	specs := []Spec{
		{Name: "sma", Kind: KindSMA, Period: 5},
		{Name: "rsi", Kind: KindRSI, Period: 14},
		{Name: "macd", Kind: KindMACD, Fast: 12, Slow: 26, Signal: 9},
		{Name: "stoch", Kind: KindStoch, Period: 14, Fast: 3, Slow: 3},
		{Name: "vol_sma", Kind: KindSMA, Period: 3, Field: FieldVolume},
	}
	p, err := NewTalib(rampBars(60), specs)
	require.NoError(t, err)

	snap := p.Compute(3)
	_, ok := snap.Get("sma")
	assert.False(t, ok, "sma(5) not ready at index 3")

	snap = p.Compute(4)
	v, ok := snap.Get("sma")
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)
	assert.InDelta(t, 10.0, snap.Value("vol_sma"), 1e-9)

	assert.False(t, p.Compute(32).Has("macd"))
	assert.True(t, p.Compute(33).Has("macd", "macd_signal", "macd_hist"))
	assert.True(t, p.Compute(17).Has("stoch_k", "stoch_d"))
	assert.False(t, p.Compute(16).Has("stoch_k"))
	assert.Equal(t, 33, MaxLookback(specs))
}

func TestTalibIsCausal(t *testing.T) {
	bars := rampBars(40)
	specs := []Spec{{Name: "ema", Kind: KindEMA, Period: 10}, {Name: "atr", Kind: KindATR, Period: 14}}
	full, err := NewTalib(bars, specs)
	require.NoError(t, err)
	partial, err := NewTalib(bars[:25], specs)
	require.NoError(t, err)

	for _, name := range []string{"ema", "atr"} {
		assert.InDelta(t, full.Compute(24).Value(name), partial.Compute(24).Value(name), 1e-9, name)
	}
}

func TestSpecValidation(t *testing.T) {
	_, err := NewTalib(nil, []Spec{{Name: "bad", Kind: KindMACD, Fast: 26, Slow: 12, Signal: 9}})
	assert.Error(t, err)
	_, err = NewTalib(nil, []Spec{{Name: "x", Kind: "nope", Period: 3}})
	assert.Error(t, err)
}
