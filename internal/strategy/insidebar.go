package strategy

import (
	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
)

const (
	ibTrend  = "trend_ema"
	ibVolSMA = "volume_sma"
	ibATR    = "atr"
)

// EntryExpirer 由挂止损/限价入场单的策略实现，返回入场单有效 K 线数。
type EntryExpirer interface {
	EntryValidity() int
}

// InsideBar 在内包线被突破时于突破位挂止损入场单，成交后挂出止损 + 止盈括号单。
type InsideBar struct {
	p      InsideBarParams
	specs  []indicator.Spec
	need   []string
	warmup int
}

func NewInsideBar(p InsideBarParams) (*InsideBar, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var specs []indicator.Spec
	if p.UseTrendFilter {
		specs = append(specs, indicator.Spec{Name: ibTrend, Kind: indicator.KindEMA, Period: p.TrendEMA})
	}
	if p.UseVolumeFilter {
		specs = append(specs, indicator.Spec{Name: ibVolSMA, Kind: indicator.KindSMA, Period: p.VolumeSMA, Field: indicator.FieldVolume})
	}
	if p.UseATRTP {
		specs = append(specs, indicator.Spec{Name: ibATR, Kind: indicator.KindATR, Period: p.ATRLength})
	}
	need := make([]string, 0, len(specs))
	for _, s := range specs {
		need = append(need, s.Outputs()...)
	}
	warmup := 3
	if lb := indicator.MaxLookback(specs) + 1; lb > warmup {
		warmup = lb
	}
	return &InsideBar{p: p, specs: specs, need: need, warmup: warmup}, nil
}

func (s *InsideBar) Kind() Kind                   { return KindInsideBar }
func (s *InsideBar) Indicators() []indicator.Spec { return s.specs }
func (s *InsideBar) Warmup() int                  { return s.warmup }
func (s *InsideBar) CooldownOnClose() int         { return 0 }
func (s *InsideBar) Params() any                  { return s.p }
func (s *InsideBar) EntryValidity() int           { return s.p.EntryValidBars }

func (s *InsideBar) OnBar(in Input) ([]ledger.Intent, int) {
	cd := nextCooldown(in.Cooldown)
	if !ready(in, s.warmup) || !in.Indicators.Has(s.need...) {
		return nil, cd
	}
	n := len(in.History)
	cur, prev, prev2 := in.History[n-1], in.History[n-2], in.History[n-3]

	inside := prev.High < prev2.High && prev.Low > prev2.Low
	if !inside {
		return nil, cd
	}
	var rangePerc float64
	if prev.Close != 0 {
		rangePerc = (prev.High - prev.Low) / prev.Close * 100
	}
	if rangePerc < s.p.MinInsideBarSize {
		return nil, cd
	}
	longCond := cur.High > prev.High
	shortCond := cur.Low < prev.Low
	if s.p.UseTrendFilter {
		ema := in.Indicators.Value(ibTrend)
		longCond = longCond && cur.Close > ema
		shortCond = shortCond && cur.Close < ema
	}
	if s.p.UseVolumeFilter {
		volOK := cur.Volume > in.Indicators.Value(ibVolSMA)*s.p.VolMultiplier
		longCond = longCond && volOK
		shortCond = shortCond && volOK
	}
	if !canEnter(in) {
		return nil, cd
	}
	// 多空同时成立时只取多头，保持单一仓位。
	if longCond && prev.High > prev.Low {
		if intent, ok := s.entry(in, ledger.SideBuy, prev.High, prev.Low); ok {
			return []ledger.Intent{intent}, cd
		}
	}
	if shortCond && prev.High > prev.Low {
		if intent, ok := s.entry(in, ledger.SideSell, prev.Low, prev.High); ok {
			return []ledger.Intent{intent}, cd
		}
	}
	return nil, cd
}

func (s *InsideBar) entry(in Input, side ledger.Side, price, stop float64) (ledger.Intent, bool) {
	dist := price - stop
	if side == ledger.SideSell {
		dist = stop - price
	}
	size := riskSize(in.Equity, s.p.RiskPercent, dist)
	if size <= 0 {
		return ledger.Intent{}, false
	}
	bracket := &ledger.Bracket{Stop: stop}
	if s.p.UseATRTP {
		bracket.TargetDistance = in.Indicators.Value(ibATR) * s.p.ATRMult
	} else {
		bracket.TargetRR = s.p.RRRatio
	}
	return ledger.Intent{
		Side:    side,
		Kind:    ledger.KindStop,
		Price:   price,
		Size:    size,
		Purpose: ledger.PurposeEntry,
		Bracket: bracket,
		Reason:  "inside_bar_breakout",
	}, true
}
