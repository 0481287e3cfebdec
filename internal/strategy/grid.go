package strategy

import (
	"math"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
)

const (
	gridRSI    = "rsi"
	gridMACD   = "macd"
	gridATR    = "atr"
	gridVol    = "volatility"
	gridPivot  = "pivot"
	gridSignal = gridMACD + "_signal"
)

// Grid 是箱体支撑 + K 线形态 + RSI/MACD 确认的均值回归。
// 入场后按 ATR 阶梯管理：硬止损、一次部分止盈、最终止盈。
type Grid struct {
	p      GridParams
	specs  []indicator.Spec
	warmup int
}

func NewGrid(p GridParams) (*Grid, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	specs := []indicator.Spec{
		{Name: gridRSI, Kind: indicator.KindRSI, Period: p.RSILength},
		{Name: gridMACD, Kind: indicator.KindMACD, Fast: p.MACDFast, Slow: p.MACDSlow, Signal: p.MACDSignal},
		{Name: gridATR, Kind: indicator.KindATR, Period: p.ATRPeriod},
		{Name: gridVol, Kind: indicator.KindStdDev, Period: p.VolatilityPeriod},
		{Name: gridPivot, Kind: indicator.KindSMA, Period: p.PivotPeriod},
	}
	warmup := indicator.MaxLookback(specs) + 1
	if p.BoxLookback > warmup {
		warmup = p.BoxLookback
	}
	return &Grid{p: p, specs: specs, warmup: warmup}, nil
}

func (g *Grid) Kind() Kind                   { return KindGrid }
func (g *Grid) Indicators() []indicator.Spec { return g.specs }
func (g *Grid) Warmup() int                  { return g.warmup }
func (g *Grid) Params() any                  { return g.p }

func (g *Grid) CooldownOnClose() int {
	if g.p.UseCooldown {
		return g.p.CooldownBars
	}
	return 0
}

func (g *Grid) OnBar(in Input) ([]ledger.Intent, int) {
	cd := nextCooldown(in.Cooldown)
	if !ready(in, g.warmup) || !in.Indicators.Has(gridRSI, gridMACD, gridSignal, gridATR, gridVol, gridPivot) {
		return nil, cd
	}
	if in.Position.HasExposure() {
		return g.manage(in), cd
	}
	if !canEnter(in) || !g.entrySignal(in) {
		return nil, cd
	}
	if intent, ok := g.entry(in); ok {
		return []ledger.Intent{intent}, cd
	}
	return nil, cd
}

func (g *Grid) entrySignal(in Input) bool {
	bar := in.Bar
	snap := in.Indicators
	boxLow, _ := g.BoxBounds(in)

	nearSupport := bar.Close > boxLow*0.98 && bar.Close < boxLow*1.02
	if !nearSupport {
		return false
	}
	if !isHammer(in.History.Tail(5)) && !isDoji(bar) {
		return false
	}
	threshold := g.p.RSIThreshold
	if g.p.UseStricterRSI {
		threshold = 50
	}
	if snap.Value(gridRSI) <= threshold {
		return false
	}
	if g.p.MACDAboveSignal {
		return snap.Value(gridMACD) > snap.Value(gridSignal)
	}
	return snap.Value(gridMACD) > 0
}

// BoxBounds 返回当前箱体上下沿。
func (g *Grid) BoxBounds(in Input) (low, high float64) {
	box := in.History.Tail(g.p.BoxLookback)
	pivot := in.Indicators.Value(gridPivot)
	return math.Min(pivot*0.98, lowestLow(box)), math.Max(pivot*1.02, highestHigh(box))
}

func (g *Grid) entry(in Input) (ledger.Intent, bool) {
	price := in.Bar.Close
	atr := in.Indicators.Value(gridATR)
	volFactor := math.Max(in.Indicators.Value(gridVol)/price, g.p.VolatilityThreshold)
	stop := price - atr*g.p.ATRMultiplier*(1+volFactor)
	size := riskSize(in.Equity, g.p.RiskPercent, price-stop)
	if size <= 0 {
		return ledger.Intent{}, false
	}
	levels := &ledger.Levels{
		Stop:        stop,
		FinalTarget: price + atr*g.p.FinalATRMult,
	}
	if g.p.PartialExit {
		levels.PartialTarget = price + atr*g.p.PartialATRMult
	}
	return ledger.Intent{
		Side:    ledger.SideBuy,
		Kind:    ledger.KindMarket,
		Size:    size,
		Purpose: ledger.PurposeEntry,
		Levels:  levels,
		Reason:  "box_support",
	}, true
}

// manage 依次检查硬止损、部分止盈（每笔仓位一次）、最终止盈。
func (g *Grid) manage(in Input) []ledger.Intent {
	pos := in.Position
	bar := in.Bar
	if pos.StopPrice > 0 && bar.Low <= pos.StopPrice {
		return []ledger.Intent{exitAll("stop_loss")}
	}
	if pos.FinalTargetPrice > 0 && bar.High >= pos.FinalTargetPrice {
		return []ledger.Intent{exitAll("final_target")}
	}
	if g.p.PartialExit && g.p.PartialPct > 0 && pos.State == ledger.StateOpen && pos.PartialTargetPrice > 0 && bar.High >= pos.PartialTargetPrice {
		return []ledger.Intent{{
			Kind:    ledger.KindMarket,
			Size:    pos.InitialSize * g.p.PartialPct / 100,
			Purpose: ledger.PurposePartial,
			Reason:  "partial_target",
		}}
	}
	return nil
}
