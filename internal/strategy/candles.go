package strategy

import (
	"math"

	"tradelab/internal/market"
)

// isHammer 检查窗口最后一根：阳线、最低价等于近 5 根最低、上影线 > 2 倍实体。
func isHammer(window market.Series) bool {
	if len(window) == 0 {
		return false
	}
	cur := window[len(window)-1]
	if cur.Close <= cur.Open {
		return false
	}
	lowest := math.Inf(1)
	for _, b := range window.Tail(5) {
		lowest = math.Min(lowest, b.Low)
	}
	return math.Abs(cur.Low-lowest) < 1e-12 && (cur.High-cur.Close) > 2*(cur.Close-cur.Open)
}

// isDoji 实体小于振幅的 10%。
func isDoji(b market.Bar) bool {
	return math.Abs(b.Close-b.Open) < b.Range()*0.1
}

func lowestLow(s market.Series) float64 {
	out := math.Inf(1)
	for _, b := range s {
		out = math.Min(out, b.Low)
	}
	return out
}

func highestHigh(s market.Series) float64 {
	out := math.Inf(-1)
	for _, b := range s {
		out = math.Max(out, b.High)
	}
	return out
}
