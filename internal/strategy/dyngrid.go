package strategy

import (
	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
)

// DynGrid 是动态枢轴网格：跌破枢轴一定比例买入固定金额，涨过买价一定比例卖出同等数量。
// 每次信号后枢轴移到信号收盘价，同一时刻只持有一手。
// 卖出阈值以买入信号价为基准，与枢轴一致，不受成交滑点影响。
type DynGrid struct {
	p        DynGridParams
	pivot    float64
	hasPivot bool
	buyPrice float64
}

func NewDynGrid(p DynGridParams) (*DynGrid, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &DynGrid{p: p}, nil
}

func (g *DynGrid) Kind() Kind                   { return KindDynGrid }
func (g *DynGrid) Indicators() []indicator.Spec { return nil }
func (g *DynGrid) Warmup() int                  { return 1 }
func (g *DynGrid) CooldownOnClose() int         { return 0 }
func (g *DynGrid) Params() any                  { return g.p }

// Pivot 返回当前枢轴价。
func (g *DynGrid) Pivot() float64 { return g.pivot }

func (g *DynGrid) OnBar(in Input) ([]ledger.Intent, int) {
	price := in.Bar.Close
	if !g.hasPivot {
		g.pivot, g.hasPivot = price, true
	}
	cd := in.Cooldown
	var intents []ledger.Intent

	switch pos := in.Position; {
	case pos.HasExposure():
		basis := g.buyPrice
		if basis <= 0 {
			basis = pos.EntryPrice
		}
		if price > basis*(1+g.p.PercentRange) {
			intents = append(intents, ledger.Intent{
				Side:    ledger.SideSell,
				Kind:    ledger.KindMarket,
				Size:    pos.Size,
				Purpose: ledger.PurposeExit,
				Reason:  "grid_sell",
			})
			g.pivot = price
			g.buyPrice = 0
		}
	case canEnter(in) && price < g.pivot*(1-g.p.PercentRange) && in.Cash >= g.p.OrderSize && price > 0:
		intents = append(intents, ledger.Intent{
			Side:    ledger.SideBuy,
			Kind:    ledger.KindMarket,
			Size:    g.p.OrderSize / price,
			Purpose: ledger.PurposeEntry,
			Reason:  "grid_buy",
		})
		g.pivot = price
		g.buyPrice = price
		cd = g.p.CooldownBars
	}
	return intents, nextCooldown(cd)
}
