package strategy

import (
	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
)

const (
	smrStoch  = "stoch"
	smrK      = smrStoch + "_k"
	smrD      = smrStoch + "_d"
	smrSMA    = "sma"
	smrHTFSMA = "htf_sma"
	smrATR    = "atr"
)

// StochMR 在超卖/超买区的 %K/%D 交叉处逆势入场，价格回到 SMA 基线时平仓。
type StochMR struct {
	p      StochMRParams
	specs  []indicator.Spec
	warmup int
}

func NewStochMR(p StochMRParams) (*StochMR, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	specs := []indicator.Spec{
		{Name: smrStoch, Kind: indicator.KindStoch, Period: p.StochK, Fast: p.StochSmooth, Slow: p.StochD},
		{Name: smrSMA, Kind: indicator.KindSMA, Period: p.SMALength},
		{Name: smrHTFSMA, Kind: indicator.KindSMA, Period: p.HTFSMALength},
		{Name: smrATR, Kind: indicator.KindATR, Period: p.ATRLength},
	}
	return &StochMR{p: p, specs: specs, warmup: indicator.MaxLookback(specs) + 2}, nil
}

func (s *StochMR) Kind() Kind                   { return KindStochMR }
func (s *StochMR) Indicators() []indicator.Spec { return s.specs }
func (s *StochMR) Warmup() int                  { return s.warmup }
func (s *StochMR) CooldownOnClose() int         { return 0 }
func (s *StochMR) Params() any                  { return s.p }

func (s *StochMR) OnBar(in Input) ([]ledger.Intent, int) {
	cd := nextCooldown(in.Cooldown)
	if !ready(in, s.warmup) || !in.Indicators.Has(smrK, smrD, smrSMA, smrHTFSMA, smrATR) || !in.Prev.Has(smrK, smrD) {
		return nil, cd
	}
	cur, prev := in.Indicators, in.Prev
	price := in.Bar.Close
	sma := cur.Value(smrSMA)

	if pos := in.Position; pos.HasExposure() {
		// 回归基线平仓，优先于括号单。
		if (pos.IsLong() && price >= sma) || (!pos.IsLong() && price <= sma) {
			return []ledger.Intent{exitAll("mean_reverted")}, cd
		}
		return nil, cd
	}
	if !canEnter(in) || price <= 0 {
		return nil, cd
	}
	k, d := cur.Value(smrK), cur.Value(smrD)
	atr := cur.Value(smrATR)
	htf := cur.Value(smrHTFSMA)
	band := atr / price

	long := k < s.p.Oversold &&
		crossedAbove(prev.Value(smrK), prev.Value(smrD), k, d) &&
		price < sma*(1-band) &&
		price > htf
	short := s.p.AllowShort &&
		k > s.p.Overbought &&
		crossedBelow(prev.Value(smrK), prev.Value(smrD), k, d) &&
		price > sma*(1+band) &&
		price < htf

	var side ledger.Side
	switch {
	case long:
		side = ledger.SideBuy
	case short:
		side = ledger.SideSell
	default:
		return nil, cd
	}
	stopDistance := atr * s.p.SLATRMult
	size := riskSize(in.Equity, s.p.RiskPercent, stopDistance)
	if size <= 0 {
		return nil, cd
	}
	return []ledger.Intent{{
		Side:    side,
		Kind:    ledger.KindMarket,
		Size:    size,
		Purpose: ledger.PurposeEntry,
		Bracket: &ledger.Bracket{
			StopDistance:   stopDistance,
			TargetDistance: atr * s.p.TPATRMult,
		},
		Reason: "stoch_reversion",
	}}, cd
}
