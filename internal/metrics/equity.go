package metrics

import "tradelab/internal/ledger"

// EquityMetrics 基于逐根资金曲线的补充指标。
type EquityMetrics struct {
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	Peak        float64 `json:"peak"`
	Valley      float64 `json:"valley"`
}

// FromCurve 计算资金曲线指标。
func FromCurve(curve []ledger.EquityPoint) EquityMetrics {
	values := make([]float64, len(curve))
	for i, pt := range curve {
		values[i] = pt.Equity
	}
	out := EquityMetrics{
		MaxDrawdown: EquityCurveDrawdown(values),
		SharpeRatio: EquityCurveSharpe(values),
	}
	for i, v := range values {
		if i == 0 || v > out.Peak {
			out.Peak = v
		}
		if i == 0 || v < out.Valley {
			out.Valley = v
		}
	}
	return out
}

// EquityCurveDrawdown 用资金曲线的历史最高点计算最大回撤，范围 [0,1]。
func EquityCurveDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if dd := drawdown(peak, v); dd > worst {
			worst = dd
		}
	}
	return worst
}

// EquityCurveSharpe 以逐根收益率计算（总体标准差，不年化）。
func EquityCurveSharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, equity[i]/prev-1)
	}
	return sharpe(returns)
}
