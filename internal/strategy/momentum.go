package strategy

import (
	"math"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
)

const (
	momEMAShort = "ema_short"
	momEMALong  = "ema_long"
	momRSI      = "rsi"
	momStoch    = "stoch"
	momStochK   = momStoch + "_k"
	momStochD   = momStoch + "_d"
	momADX      = "adx"
)

// Momentum 顺势做多：均线多头 + RSI 区间 + 超卖区 %K 上穿 %D + ADX 确认。
// RSI 过热或短均线下穿长均线时市价离场。
type Momentum struct {
	p      MomentumParams
	specs  []indicator.Spec
	warmup int
}

func NewMomentum(p MomentumParams) (*Momentum, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	specs := []indicator.Spec{
		{Name: momEMAShort, Kind: indicator.KindEMA, Period: p.EMAShort},
		{Name: momEMALong, Kind: indicator.KindEMA, Period: p.EMALong},
		{Name: momRSI, Kind: indicator.KindRSI, Period: p.RSIPeriod},
		{Name: momStoch, Kind: indicator.KindStoch, Period: p.StochK, Fast: p.StochSmooth, Slow: p.StochD},
		{Name: momADX, Kind: indicator.KindADX, Period: p.ADXPeriod},
	}
	// 交叉判断需要上一根的快照，多等一根。
	return &Momentum{p: p, specs: specs, warmup: indicator.MaxLookback(specs) + 2}, nil
}

func (m *Momentum) Kind() Kind                   { return KindMomentum }
func (m *Momentum) Indicators() []indicator.Spec { return m.specs }
func (m *Momentum) Warmup() int                  { return m.warmup }
func (m *Momentum) CooldownOnClose() int         { return 0 }
func (m *Momentum) Params() any                  { return m.p }

func (m *Momentum) OnBar(in Input) ([]ledger.Intent, int) {
	cd := nextCooldown(in.Cooldown)
	names := []string{momEMAShort, momEMALong, momRSI, momStochK, momStochD, momADX}
	if !ready(in, m.warmup) || !in.Indicators.Has(names...) || !in.Prev.Has(names...) {
		return nil, cd
	}
	cur, prev := in.Indicators, in.Prev
	if in.Position.HasExposure() {
		rsiHot := cur.Value(momRSI) > m.p.RSIExit
		trendLost := crossedBelow(prev.Value(momEMAShort), prev.Value(momEMALong), cur.Value(momEMAShort), cur.Value(momEMALong))
		if rsiHot {
			return []ledger.Intent{exitAll("rsi_overbought")}, cd
		}
		if trendLost {
			return []ledger.Intent{exitAll("ema_cross_down")}, cd
		}
		return nil, cd
	}
	if !canEnter(in) {
		return nil, cd
	}
	price := in.Bar.Close
	rsi := cur.Value(momRSI)
	k, d := cur.Value(momStochK), cur.Value(momStochD)
	signal := cur.Value(momEMAShort) > cur.Value(momEMALong) &&
		price > cur.Value(momEMALong) &&
		rsi > m.p.RSILow && rsi < m.p.RSIHigh &&
		crossedAbove(prev.Value(momStochK), prev.Value(momStochD), k, d) && k < m.p.StochOversold &&
		cur.Value(momADX) > m.p.ADXThreshold
	if !signal {
		return nil, cd
	}
	stopDistance := price * m.p.StopLossPerc / 100
	size := riskSize(in.Equity, m.p.StopLossPerc, stopDistance)
	if size <= 0 {
		return nil, cd
	}
	if in.Cash > 0 {
		size = math.Min(size, in.Cash*m.p.MaxCashFraction/price)
	}
	intent := ledger.Intent{
		Side:    ledger.SideBuy,
		Kind:    ledger.KindMarket,
		Size:    size,
		Purpose: ledger.PurposeEntry,
		Reason:  "momentum",
	}
	if m.p.UseBracket {
		intent.Bracket = &ledger.Bracket{
			StopDistance:   stopDistance,
			TargetDistance: price * m.p.TakeProfitPerc / 100,
		}
	}
	return []ledger.Intent{intent}, cd
}
