package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne  = decimal.NewFromInt(1)
	decZero = decimal.Zero
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// withSlippage 按方向恶化成交价：买入上浮、卖出下调。
func withSlippage(side Side, price, pct float64) float64 {
	if pct <= 0 {
		return price
	}
	base := decFromFloat(price)
	slip := decFromFloat(pct)
	if side == SideBuy {
		return decToFloat(base.Mul(decOne.Add(slip)))
	}
	return decToFloat(base.Mul(decOne.Sub(slip)))
}

// stopTriggered 判断止损/止损入场单是否被本根 K 线触发。
// 买入止损单看 high 上穿，卖出止损单看 low 下穿。
func stopTriggered(side Side, high, low, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if side == SideBuy {
		return decimalGTE(high, stop)
	}
	return decimalLTE(low, stop)
}

// limitTouched 判断限价单是否被触及：买入看 low，卖出看 high。
func limitTouched(side Side, high, low, limit float64) bool {
	if limit <= 0 {
		return false
	}
	if side == SideBuy {
		return decimalLTE(low, limit)
	}
	return decimalGTE(high, limit)
}

// stopFillPrice 在跳空越过触发价时按开盘价成交。
func stopFillPrice(side Side, open, stop float64) float64 {
	if side == SideBuy {
		return math.Max(open, stop)
	}
	return math.Min(open, stop)
}

// limitFillPrice 在开盘即优于限价时按开盘价成交。
func limitFillPrice(side Side, open, limit float64) float64 {
	if side == SideBuy {
		return math.Min(open, limit)
	}
	return math.Max(open, limit)
}

// pnl = (exit-entry)*size，空头取反。
func pnl(side Side, entry, exit, size float64) decimal.Decimal {
	diff := decFromFloat(exit).Sub(decFromFloat(entry)).Mul(decFromFloat(size))
	if side == SideSell {
		return diff.Neg()
	}
	return diff
}
