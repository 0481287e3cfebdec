// Package metrics 把订单列表与资金归约为固定的绩效指标。所有函数只读输入。
package metrics

import (
	"encoding/json"
	"math"

	"tradelab/internal/ledger"
)

// Metrics 是一次运行的绩效指标。Empty 为 true 时序列化为 {}（最终权益 <= 0）。
type Metrics struct {
	TotalProfit       float64 `json:"total_profit"`
	NumTrades         int     `json:"num_trades"`
	WinRate           float64 `json:"win_rate"`
	AvgProfitPerTrade float64 `json:"avg_profit_per_trade"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	Empty             bool    `json:"-"`
}

type metricsAlias Metrics

func (m Metrics) MarshalJSON() ([]byte, error) {
	if m.Empty {
		return []byte("{}"), nil
	}
	return json.Marshal(metricsAlias(m))
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*m = Metrics{Empty: true}
		return nil
	}
	var alias metricsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Metrics(alias)
	return nil
}

// Compute 计算订单级指标。
// num_trades 统计订单列表中的全部订单（买 + 卖，含撤销/拒绝），胜率与平均收益也以此为分母。
func Compute(orders []ledger.ExecutedOrder, initialCapital, finalValue float64) Metrics {
	if finalValue <= 0 {
		return Metrics{Empty: true}
	}
	m := Metrics{TotalProfit: finalValue - initialCapital}

	profits := make([]float64, 0, len(orders))
	for _, o := range orders {
		profits = append(profits, o.ProfitValue())
	}
	m.NumTrades = len(profits)
	if m.NumTrades == 0 {
		return m
	}

	wins := 0
	sum := 0.0
	for _, p := range profits {
		if p > 0 {
			wins++
		}
		sum += p
	}
	m.WinRate = float64(wins) / float64(m.NumTrades)
	m.AvgProfitPerTrade = sum / float64(m.NumTrades)
	m.MaxDrawdown = OrderWalkDrawdown(profits, initialCapital)
	if initialCapital > 0 {
		returns := make([]float64, len(profits))
		for i, p := range profits {
			returns[i] = p / initialCapital
		}
		m.SharpeRatio = sharpe(returns)
	}
	return m
}

// OrderWalkDrawdown 以 initial + 累计收益作为权益逐单回放，返回最大回撤比例，范围 [0,1]。
func OrderWalkDrawdown(profits []float64, initialCapital float64) float64 {
	equity := initialCapital
	peak := equity
	worst := 0.0
	for _, p := range profits {
		equity += p
		if equity > peak {
			peak = equity
		}
		worst = math.Max(worst, drawdown(peak, equity))
	}
	return worst
}

// DrawdownSeries 返回逐单回放时每一步的最大回撤（单调不减）。
func DrawdownSeries(profits []float64, initialCapital float64) []float64 {
	out := make([]float64, len(profits))
	equity := initialCapital
	peak := equity
	worst := 0.0
	for i, p := range profits {
		equity += p
		if equity > peak {
			peak = equity
		}
		worst = math.Max(worst, drawdown(peak, equity))
		out[i] = worst
	}
	return out
}

func drawdown(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity) / peak
	switch {
	case dd < 0:
		return 0
	case dd > 1:
		return 1
	}
	return dd
}

// sharpe = mean / 总体标准差，不年化；标准差为 0 时返回 0。
func sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std
}
