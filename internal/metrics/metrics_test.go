package metrics

import (
	"encoding/json"
	"math"
	"testing"

	"tradelab/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profit(v float64) *float64 { return &v }

func filled(side ledger.Side, price float64, p *float64) ledger.ExecutedOrder {
	return ledger.ExecutedOrder{Side: side, Price: price, Size: 1, Profit: p, Status: ledger.StatusFilled}
}

func TestComputeBuySellExample(t *testing.T) {
	orders := []ledger.ExecutedOrder{
		filled(ledger.SideBuy, 100, nil),
		filled(ledger.SideSell, 110, profit(10)),
	}
	m := Compute(orders, 10000, 10010)
	assert.InDelta(t, 10, m.TotalProfit, 1e-12)
	// num_trades 统计买卖两笔，因此胜率为 0.5 而不是 1。
	assert.Equal(t, 2, m.NumTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.InDelta(t, 5, m.AvgProfitPerTrade, 1e-12)
	assert.InDelta(t, 0, m.MaxDrawdown, 1e-12)
	// returns = [0, 0.001]，均值 0.0005，总体标准差 0.0005。
	assert.InDelta(t, 1, m.SharpeRatio, 1e-9)
}

func TestComputeAllZeroProfits(t *testing.T) {
	orders := []ledger.ExecutedOrder{
		filled(ledger.SideBuy, 100, profit(0)),
		filled(ledger.SideSell, 100, profit(0)),
		filled(ledger.SideBuy, 90, nil),
	}
	m := Compute(orders, 5000, 5000)
	assert.Equal(t, 3, m.NumTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.AvgProfitPerTrade)
	assert.Zero(t, m.SharpeRatio)
}

func TestComputeNoTradesKeepsAllKeys(t *testing.T) {
	m := Compute(nil, 10000, 9500)
	assert.Equal(t, 0, m.NumTrades)
	assert.InDelta(t, -500, m.TotalProfit, 1e-12)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.AvgProfitPerTrade)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.SharpeRatio)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var keys map[string]any
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"total_profit", "num_trades", "win_rate", "avg_profit_per_trade", "max_drawdown", "sharpe_ratio"} {
		assert.Contains(t, keys, k)
	}
}

func TestComputeEmptyWhenFinalNonPositive(t *testing.T) {
	orders := []ledger.ExecutedOrder{filled(ledger.SideSell, 1, profit(-10000))}
	for _, final := range []float64{0, -5} {
		m := Compute(orders, 10000, final)
		assert.True(t, m.Empty)
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(raw))
	}

	var back Metrics
	require.NoError(t, json.Unmarshal([]byte(`{}`), &back))
	assert.True(t, back.Empty)
	require.NoError(t, json.Unmarshal([]byte(`{"num_trades":4,"win_rate":0.25}`), &back))
	assert.False(t, back.Empty)
	assert.Equal(t, 4, back.NumTrades)
}

func TestComputeCountsCanceledAndRejected(t *testing.T) {
	orders := []ledger.ExecutedOrder{
		{Side: ledger.SideBuy, Status: ledger.StatusCanceled},
		{Side: ledger.SideBuy, Status: ledger.StatusRejected},
		{Side: ledger.SideBuy, Price: 10},
		filled(ledger.SideSell, 12, profit(2)),
	}
	m := Compute(orders, 100, 102)
	assert.Equal(t, 4, m.NumTrades)
	assert.InDelta(t, 0.25, m.WinRate, 1e-12)
	assert.InDelta(t, 0.5, m.AvgProfitPerTrade, 1e-12)

	// 过期未成交的入场单也算一笔
	expired := []ledger.ExecutedOrder{{Side: ledger.SideBuy, Price: 105, Size: 10, Status: ledger.StatusCanceled}}
	m = Compute(expired, 10000, 10000)
	assert.Equal(t, 1, m.NumTrades)
	assert.Zero(t, m.WinRate)
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	orders := []ledger.ExecutedOrder{filled(ledger.SideSell, 110, profit(10)), filled(ledger.SideSell, 90, profit(-5))}
	before := append([]ledger.ExecutedOrder(nil), orders...)
	_ = Compute(orders, 1000, 1005)
	assert.Equal(t, before, orders)
}

func TestOrderWalkDrawdownBoundsAndMonotonic(t *testing.T) {
	worsening := []float64{50, -100, -200, -400, -800, -1600}
	series := DrawdownSeries(worsening, 1000)
	for i, dd := range series {
		assert.GreaterOrEqual(t, dd, 0.0)
		assert.LessOrEqual(t, dd, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, dd, series[i-1])
		}
	}
	assert.Equal(t, 1.0, series[len(series)-1], "equity below zero clamps to 1")
	assert.InDelta(t, 300.0/1050, series[2], 1e-12)
	assert.Equal(t, series[len(series)-1], OrderWalkDrawdown(worsening, 1000))

	assert.Zero(t, OrderWalkDrawdown([]float64{-5}, 0), "zero peak")
}

func TestEquityCurve(t *testing.T) {
	curve := []ledger.EquityPoint{{Equity: 100}, {Equity: 120}, {Equity: 90}, {Equity: 130}}
	em := FromCurve(curve)
	assert.InDelta(t, 0.25, em.MaxDrawdown, 1e-12)
	assert.InDelta(t, 130, em.Peak, 1e-12)
	assert.InDelta(t, 90, em.Valley, 1e-12)

	returns := []float64{0.2, -0.25, 130.0/90 - 1}
	mean := (returns[0] + returns[1] + returns[2]) / 3
	var v float64
	for _, r := range returns {
		v += (r - mean) * (r - mean)
	}
	assert.InDelta(t, mean/math.Sqrt(v/3), em.SharpeRatio, 1e-12)

	assert.Zero(t, EquityCurveDrawdown(nil))
	assert.Zero(t, EquityCurveSharpe([]float64{100}))
	assert.Zero(t, EquityCurveSharpe([]float64{100, 100, 100}))
}
