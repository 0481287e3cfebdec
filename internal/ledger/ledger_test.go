package ledger

import (
	"testing"
	"time"

	"tradelab/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Open:  o,
		High:  h,
		Low:   l,
		Close: c,
	}
}

func TestMarketEntryFillsAtNextOpen(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	l.ProcessBar(0, bar(0, 100, 101, 99, 100))
	l.Submit(0, bar(0, 100, 101, 99, 100), []Intent{{Side: SideBuy, Kind: KindMarket, Size: 1, Purpose: PurposeEntry}})
	require.Equal(t, StateEntrySubmitted, l.Position().State)

	l.ProcessBar(1, bar(1, 102, 105, 101, 104))
	pos := l.Position()
	require.Equal(t, StateOpen, pos.State)
	assert.InDelta(t, 102, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 9898, l.Cash(), 1e-9)

	l.Submit(1, bar(1, 102, 105, 101, 104), []Intent{{Kind: KindMarket, Purpose: PurposeExit}})
	l.ProcessBar(2, bar(2, 110, 111, 109, 110))
	assert.True(t, l.Position().IsFlat())
	assert.InDelta(t, 10008, l.FinalValue(), 1e-9)

	orders := l.Orders()
	require.Len(t, orders, 2)
	assert.Nil(t, orders[0].Profit)
	assert.InDelta(t, 8, orders[1].ProfitValue(), 1e-9)
	require.Len(t, l.Trades(), 1)
}

func TestCommissionAndSlippage(t *testing.T) {
	l := New(Config{InitialCapital: 1000, Commission: 0.01, Slippage: 0.01})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{Side: SideBuy, Kind: KindMarket, Size: 1, Purpose: PurposeEntry}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	pos := l.Position()
	assert.InDelta(t, 101, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1000-101-1.01, l.Cash(), 1e-9)

	l.Submit(1, bar(1, 100, 100, 100, 100), []Intent{{Kind: KindMarket, Purpose: PurposeExit}})
	l.ProcessBar(2, bar(2, 100, 100, 100, 100))
	orders := l.Orders()
	// 卖出 99，手续费 0.99；收益 = -2 - 1.01 - 0.99
	assert.InDelta(t, 99, orders[1].Price, 1e-9)
	assert.InDelta(t, -4, orders[1].ProfitValue(), 1e-9)
	assert.InDelta(t, 996, l.Cash(), 1e-9)
}

func TestBracketStopWinsWhenBothLegsHit(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{
		Side: SideBuy, Kind: KindMarket, Size: 1, Purpose: PurposeEntry,
		Bracket: &Bracket{StopDistance: 5, TargetRR: 2},
	}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	pos := l.Position()
	assert.InDelta(t, 95, pos.StopPrice, 1e-9)
	assert.InDelta(t, 110, pos.FinalTargetPrice, 1e-9)

	l.ProcessBar(2, bar(2, 100, 120, 90, 100))
	orders := l.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, KindStop, orders[1].Kind)
	assert.InDelta(t, 95, orders[1].Price, 1e-9)
	assert.True(t, l.Position().IsFlat())
}

func TestBracketInactiveOnFillBar(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{
		Side: SideBuy, Kind: KindStop, Price: 101, Size: 1, Purpose: PurposeEntry,
		Bracket: &Bracket{Stop: 95, TargetRR: 1},
	}})
	// 本根同时触发入场与止损价，但括号单下一根才生效。
	l.ProcessBar(1, bar(1, 100, 102, 94, 100))
	require.Equal(t, StateOpen, l.Position().State)
	assert.InDelta(t, 107, l.Position().FinalTargetPrice, 1e-9)

	l.ProcessBar(2, bar(2, 104, 108, 103, 107))
	orders := l.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, KindLimit, orders[1].Kind)
	assert.InDelta(t, 107, orders[1].Price, 1e-9)
	assert.InDelta(t, 6, orders[1].ProfitValue(), 1e-9)
}

func TestStopEntryGapFillsAtOpen(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{Side: SideBuy, Kind: KindStop, Price: 101, Size: 1, Purpose: PurposeEntry}})
	l.ProcessBar(1, bar(1, 103, 104, 102, 103))
	assert.InDelta(t, 103, l.Position().EntryPrice, 1e-9)
}

func TestShortLimitTargetAndStop(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{
		Side: SideSell, Kind: KindMarket, Size: 2, Purpose: PurposeEntry,
		Bracket: &Bracket{Stop: 105, TargetDistance: 10},
	}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	assert.InDelta(t, 90, l.Position().FinalTargetPrice, 1e-9)
	assert.InDelta(t, 10000, l.Equity(100), 1e-9)

	l.ProcessBar(2, bar(2, 95, 96, 89, 90))
	orders := l.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, SideBuy, orders[1].Side)
	assert.InDelta(t, 20, orders[1].ProfitValue(), 1e-9)
	assert.InDelta(t, 10020, l.Cash(), 1e-9)
}

func TestInsufficientCashRejectsEntry(t *testing.T) {
	l := New(Config{InitialCapital: 100})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{Side: SideBuy, Kind: KindMarket, Size: 2, Purpose: PurposeEntry}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	orders := l.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, StatusRejected, orders[0].Status)
	assert.True(t, l.Position().IsFlat())
	assert.InDelta(t, 100, l.Cash(), 1e-9)
}

func TestPartialThenFinalExitArmsCooldown(t *testing.T) {
	var events []Event
	l := New(Config{InitialCapital: 10000, CooldownBars: 3}, WithObserver(func(ev Event) { events = append(events, ev) }))
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{
		Side: SideBuy, Kind: KindMarket, Size: 10, Purpose: PurposeEntry,
		Levels: &Levels{Stop: 90, PartialTarget: 105, FinalTarget: 110},
	}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	assert.InDelta(t, 105, l.Position().PartialTargetPrice, 1e-9)

	l.Submit(1, bar(1, 100, 100, 100, 100), []Intent{{Kind: KindMarket, Size: 1, Purpose: PurposePartial}})
	l.ProcessBar(2, bar(2, 105, 106, 104, 105))
	pos := l.Position()
	assert.Equal(t, StatePartiallyOpen, pos.State)
	assert.InDelta(t, 9, pos.Size, 1e-9)
	assert.Equal(t, 0, l.Cooldown())

	l.Submit(2, bar(2, 105, 106, 104, 105), []Intent{{Kind: KindMarket, Purpose: PurposeExit}})
	l.ProcessBar(3, bar(3, 110, 110, 110, 110))
	assert.True(t, l.Position().IsFlat())
	assert.Equal(t, 3, l.Cooldown())

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 5+90, trades[0].Profit, 1e-9)
	assert.InDelta(t, 10, trades[0].Size, 1e-9)
	assert.InDelta(t, (105.0+990.0)/10, trades[0].ExitPrice, 1e-9)

	require.Len(t, events, 4)
	assert.Equal(t, EventTrade, events[3].Type)
}

func TestEntryExpiresAfterValidity(t *testing.T) {
	l := New(Config{InitialCapital: 10000}, WithEntryValidity(2))
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{Side: SideBuy, Kind: KindStop, Price: 120, Size: 1, Purpose: PurposeEntry}})
	l.ProcessBar(1, bar(1, 100, 101, 99, 100))
	assert.True(t, l.HasPendingEntry())
	l.ProcessBar(2, bar(2, 100, 101, 99, 100))
	assert.False(t, l.HasPendingEntry())
	assert.True(t, l.Position().IsFlat())
	orders := l.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, StatusCanceled, orders[0].Status)
}

func TestSecondEntryIgnoredWhileOpen(t *testing.T) {
	l := New(Config{InitialCapital: 10000})
	entry := Intent{Side: SideBuy, Kind: KindMarket, Size: 1, Purpose: PurposeEntry}
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{entry, entry})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	l.Submit(1, bar(1, 100, 100, 100, 100), []Intent{entry})
	l.ProcessBar(2, bar(2, 100, 100, 100, 100))
	assert.Len(t, l.Orders(), 1)
	assert.InDelta(t, 1, l.Position().Size, 1e-9)
}

func TestMarkToMarketCurve(t *testing.T) {
	l := New(Config{InitialCapital: 1000})
	l.Submit(0, bar(0, 100, 100, 100, 100), []Intent{{Side: SideBuy, Kind: KindMarket, Size: 1, Purpose: PurposeEntry}})
	l.ProcessBar(1, bar(1, 100, 100, 100, 100))
	l.MarkToMarket(bar(1, 100, 100, 100, 100))
	l.ProcessBar(2, bar(2, 100, 120, 100, 120))
	l.MarkToMarket(bar(2, 100, 120, 100, 120))
	curve := l.EquityCurve()
	require.Len(t, curve, 2)
	assert.InDelta(t, 1000, curve[0].Equity, 1e-9)
	assert.InDelta(t, 1020, curve[1].Equity, 1e-9)
	assert.InDelta(t, 900, curve[1].Cash, 1e-9)
}
