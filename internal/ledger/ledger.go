// Package ledger 维护单个策略实例的仓位、挂单与成交记录。
// 所有修改都来自同一个消费者（回测循环或实时会话），读取方通过副本访问。
package ledger

import (
	"fmt"
	"math"
	"sync"

	"tradelab/internal/logger"
	"tradelab/internal/market"

	"github.com/shopspring/decimal"
)

// SizeEpsilon 以下的数量视为 0。
const SizeEpsilon = 1e-12

// Config 描述资金与交易成本。Commission/Slippage 为比例（0.001 = 0.1%）。
type Config struct {
	InitialCapital float64
	Commission     float64
	Slippage       float64
	// CooldownBars>0 时，每次完全平仓后冷却该数量的 K 线。
	CooldownBars   int
}

type pendingOrder struct {
	intent    Intent
	placedAt  int
	// 入场挂单的有效 K 线数，0 表示一直有效。
	validBars int
	bracket   bool
}

type Option func(*Ledger)

// WithObserver 注册订单/成交事件回调（在写入方 goroutine 中同步调用）。
func WithObserver(fn func(Event)) Option {
	return func(l *Ledger) { l.observer = fn }
}

// WithEntryValidity 设置入场挂单默认有效 K 线数。
func WithEntryValidity(bars int) Option {
	return func(l *Ledger) {
		if bars > 0 {
			l.entryValidBars = bars
		}
	}
}

type Ledger struct {
	cfg            Config
	observer       func(Event)
	entryValidBars int

	mu       sync.RWMutex
	cash     decimal.Decimal
	pos      Position
	entry    *pendingOrder
	exits    []*pendingOrder
	cooldown int
	orders   []ExecutedOrder
	trades   []Trade
	curve    []EquityPoint
	lastBar  market.Bar
	barIndex int

	openedAt     market.Bar
	realized     decimal.Decimal
	exitNotional decimal.Decimal
	exitSize     float64
}

func New(cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:      cfg,
		cash:     decFromFloat(cfg.InitialCapital),
		pos:      Position{State: StateFlat},
		barIndex: -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// ProcessBar 用本根 K 线撮合此前挂出的订单：先处理持仓退出（市价→止损→限价），再处理入场。
// 本根内新挂出的括号单从下一根开始生效。
func (l *Ledger) ProcessBar(index int, bar market.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.barIndex = index
	l.lastBar = bar

	if l.pos.HasExposure() {
		l.processExits(index, bar)
	}
	if l.entry != nil && l.entry.placedAt < index {
		l.processEntry(index, bar)
	}
}

func (l *Ledger) processExits(index int, bar market.Bar) {
	ready := func(kind OrderKind) []*pendingOrder {
		var out []*pendingOrder
		for _, o := range l.exits {
			if o.placedAt < index && o.intent.Kind == kind {
				out = append(out, o)
			}
		}
		return out
	}
	for _, o := range ready(KindMarket) {
		if !l.pos.HasExposure() {
			return
		}
		l.fillExit(o, withSlippage(o.intent.Side, bar.Open, l.cfg.Slippage), bar)
	}
	// 同一根内止损与止盈同时可成交时，止损优先。
	for _, o := range ready(KindStop) {
		if !l.pos.HasExposure() {
			return
		}
		if stopTriggered(o.intent.Side, bar.High, bar.Low, o.intent.Price) {
			fill := stopFillPrice(o.intent.Side, bar.Open, o.intent.Price)
			l.fillExit(o, withSlippage(o.intent.Side, fill, l.cfg.Slippage), bar)
		}
	}
	for _, o := range ready(KindLimit) {
		if !l.pos.HasExposure() {
			return
		}
		if limitTouched(o.intent.Side, bar.High, bar.Low, o.intent.Price) {
			l.fillExit(o, limitFillPrice(o.intent.Side, bar.Open, o.intent.Price), bar)
		}
	}
}

func (l *Ledger) processEntry(index int, bar market.Bar) {
	o := l.entry
	var (
		fill   float64
		filled bool
	)
	switch o.intent.Kind {
	case KindMarket:
		fill, filled = withSlippage(o.intent.Side, bar.Open, l.cfg.Slippage), true
	case KindStop:
		if stopTriggered(o.intent.Side, bar.High, bar.Low, o.intent.Price) {
			fill = withSlippage(o.intent.Side, stopFillPrice(o.intent.Side, bar.Open, o.intent.Price), l.cfg.Slippage)
			filled = true
		}
	case KindLimit:
		if limitTouched(o.intent.Side, bar.High, bar.Low, o.intent.Price) {
			fill, filled = limitFillPrice(o.intent.Side, bar.Open, o.intent.Price), true
		}
	}
	if !filled {
		if o.validBars > 0 && index-o.placedAt >= o.validBars {
			l.entry = nil
			l.pos = Position{State: StateFlat}
			l.record(ExecutedOrder{
				Time: bar.Time, Side: o.intent.Side, Kind: o.intent.Kind, Price: o.intent.Price,
				Size: o.intent.Size, Status: StatusCanceled, Purpose: PurposeEntry, Reason: "expired", Bar: index,
			})
		}
		return
	}
	l.fillEntry(o, fill, bar)
}

func (l *Ledger) fillEntry(o *pendingOrder, fill float64, bar market.Bar) {
	l.entry = nil
	size := o.intent.Size
	notional := decFromFloat(fill).Mul(decFromFloat(size))
	fee := notional.Mul(decFromFloat(l.cfg.Commission))

	equity := l.equityLocked(bar.Open)
	rejected := false
	if o.intent.Side == SideBuy {
		rejected = notional.Add(fee).GreaterThan(l.cash)
	} else {
		rejected = notional.GreaterThan(decFromFloat(equity))
	}
	if rejected {
		l.pos = Position{State: StateFlat}
		l.record(ExecutedOrder{
			Time: bar.Time, Side: o.intent.Side, Kind: o.intent.Kind, Price: fill, Size: size,
			Status: StatusRejected, Purpose: PurposeEntry, Reason: "insufficient funds", Bar: l.barIndex,
		})
		logger.Debugf("[ledger] 入场被拒：需要 %s，现金 %s", notional.Add(fee).StringFixed(2), l.cash.StringFixed(2))
		return
	}

	if o.intent.Side == SideBuy {
		l.cash = l.cash.Sub(notional).Sub(fee)
	} else {
		l.cash = l.cash.Add(notional).Sub(fee)
	}
	l.pos = Position{
		State:           StateOpen,
		Side:            o.intent.Side,
		EntryPrice:      fill,
		Size:            size,
		InitialSize:     size,
		OpenedAtBar:     l.barIndex,
		entryFeePerUnit: decToFloat(fee) / size,
	}
	if lv := o.intent.Levels; lv != nil {
		l.pos.StopPrice = lv.Stop
		l.pos.PartialTargetPrice = lv.PartialTarget
		l.pos.FinalTargetPrice = lv.FinalTarget
	}
	l.openedAt = bar
	l.realized = decZero
	l.exitNotional = decZero
	l.exitSize = 0
	l.record(ExecutedOrder{
		Time: bar.Time, Side: o.intent.Side, Kind: o.intent.Kind, Price: fill, Size: size,
		Fee: decToFloat(fee), Status: StatusFilled, Purpose: PurposeEntry, Reason: o.intent.Reason, Bar: l.barIndex,
	})
	if o.intent.Bracket != nil {
		l.placeBracket(*o.intent.Bracket, fill)
	}
}

// placeBracket 以成交价为基准挂出止损 + 止盈，两者互为 OCO。
func (l *Ledger) placeBracket(b Bracket, fill float64) {
	long := l.pos.Side == SideBuy
	stop := b.Stop
	if stop <= 0 && b.StopDistance > 0 {
		if long {
			stop = fill - b.StopDistance
		} else {
			stop = fill + b.StopDistance
		}
	}
	var target float64
	switch {
	case b.TargetDistance > 0:
		target = b.TargetDistance
	case b.TargetRR > 0 && stop > 0:
		target = math.Abs(fill-stop) * b.TargetRR
	}
	if target > 0 {
		if long {
			target = fill + target
		} else {
			target = fill - target
		}
	}
	exitSide := l.pos.Side.Opposite()
	if stop > 0 {
		l.pos.StopPrice = stop
		l.exits = append(l.exits, &pendingOrder{
			intent:   Intent{Side: exitSide, Kind: KindStop, Price: stop, Purpose: PurposeExit, Reason: "stop_loss"},
			placedAt: l.barIndex,
			bracket:  true,
		})
	}
	if target > 0 {
		l.pos.FinalTargetPrice = target
		l.exits = append(l.exits, &pendingOrder{
			intent:   Intent{Side: exitSide, Kind: KindLimit, Price: target, Purpose: PurposeExit, Reason: "take_profit"},
			placedAt: l.barIndex,
			bracket:  true,
		})
	}
}

func (l *Ledger) fillExit(o *pendingOrder, fill float64, bar market.Bar) {
	size := l.pos.Size
	if o.intent.Purpose == PurposePartial && o.intent.Size > 0 && o.intent.Size < size {
		size = o.intent.Size
	}
	l.removeExit(o)

	notional := decFromFloat(fill).Mul(decFromFloat(size))
	fee := notional.Mul(decFromFloat(l.cfg.Commission))
	gross := pnl(l.pos.Side, l.pos.EntryPrice, fill, size)
	net := gross.Sub(decFromFloat(l.pos.entryFeePerUnit).Mul(decFromFloat(size))).Sub(fee)
	if l.pos.Side == SideBuy {
		l.cash = l.cash.Add(notional).Sub(fee)
	} else {
		l.cash = l.cash.Sub(notional).Sub(fee)
	}
	profit := decToFloat(net)
	l.realized = l.realized.Add(net)
	l.exitNotional = l.exitNotional.Add(notional)
	l.exitSize += size

	l.record(ExecutedOrder{
		Time: bar.Time, Side: o.intent.Side, Kind: o.intent.Kind, Price: fill, Size: size,
		Profit: &profit, Fee: decToFloat(fee), Status: StatusFilled, Purpose: o.intent.Purpose,
		Reason: o.intent.Reason, Bar: l.barIndex,
	})

	remaining := l.pos.Size - size
	if remaining > SizeEpsilon {
		l.pos.Size = remaining
		l.pos.State = StatePartiallyOpen
		return
	}
	l.closePosition(bar, o.intent.Reason)
}

func (l *Ledger) closePosition(bar market.Bar, reason string) {
	trade := Trade{
		Side:       l.pos.Side,
		EntryPrice: l.pos.EntryPrice,
		Size:       l.pos.InitialSize,
		Profit:     decToFloat(l.realized),
		OpenedAt:   l.openedAt.Time,
		ClosedAt:   bar.Time,
		Reason:     reason,
	}
	if l.exitSize > 0 {
		trade.ExitPrice = decToFloat(l.exitNotional.Div(decFromFloat(l.exitSize)))
	}
	l.trades = append(l.trades, trade)
	l.pos = Position{State: StateFlat}
	l.exits = nil
	if l.cfg.CooldownBars > 0 {
		l.cooldown = l.cfg.CooldownBars
	}
	if l.observer != nil {
		t := trade
		l.observer(Event{Type: EventTrade, Trade: &t})
	}
}

func (l *Ledger) removeExit(target *pendingOrder) {
	out := l.exits[:0]
	for _, o := range l.exits {
		if o != target {
			out = append(out, o)
		}
	}
	l.exits = out
}

// Submit 接收策略意图。违反“一次只持有一个仓位”的入场会被忽略。
func (l *Ledger) Submit(index int, bar market.Bar, intents []Intent) {
	if len(intents) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, in := range intents {
		if err := l.submitLocked(index, bar, in); err != nil {
			logger.Debugf("[ledger] bar=%d 忽略意图 %s/%s: %v", index, in.Purpose, in.Side, err)
		}
	}
}

func (l *Ledger) submitLocked(index int, bar market.Bar, in Intent) error {
	switch in.Purpose {
	case PurposeEntry:
		if !l.pos.IsFlat() || l.entry != nil {
			return fmt.Errorf("已有持仓或入场挂单")
		}
		if in.Size <= SizeEpsilon || math.IsNaN(in.Size) || math.IsInf(in.Size, 0) {
			return fmt.Errorf("数量无效: %v", in.Size)
		}
		if in.Kind != KindMarket && in.Price <= 0 {
			return fmt.Errorf("%s 单缺少价格", in.Kind)
		}
		l.entry = &pendingOrder{intent: in, placedAt: index, validBars: l.entryValidBars}
		l.pos = Position{State: StateEntrySubmitted, Side: in.Side}
	case PurposeExit, PurposePartial:
		if !l.pos.HasExposure() {
			return fmt.Errorf("无持仓")
		}
		if in.Side == "" {
			in.Side = l.pos.Side.Opposite()
		}
		if in.Side != l.pos.Side.Opposite() {
			return fmt.Errorf("退出方向与持仓相同")
		}
		if in.Kind == "" {
			in.Kind = KindMarket
		}
		if in.Kind == KindMarket && l.hasPendingMarketExit() {
			return fmt.Errorf("已有待成交的市价平仓")
		}
		l.exits = append(l.exits, &pendingOrder{intent: in, placedAt: index})
	case PurposeCancel:
		if l.entry == nil {
			return fmt.Errorf("无入场挂单")
		}
		o := l.entry
		l.entry = nil
		l.pos = Position{State: StateFlat}
		l.record(ExecutedOrder{
			Time: bar.Time, Side: o.intent.Side, Kind: o.intent.Kind, Price: o.intent.Price, Size: o.intent.Size,
			Status: StatusCanceled, Purpose: PurposeEntry, Reason: in.Reason, Bar: index,
		})
	default:
		return fmt.Errorf("未知意图 %q", in.Purpose)
	}
	return nil
}

func (l *Ledger) hasPendingMarketExit() bool {
	for _, o := range l.exits {
		if o.intent.Kind == KindMarket && o.intent.Purpose == PurposeExit {
			return true
		}
	}
	return false
}

// MarkToMarket 在本根 K 线处理完毕后记录资金快照。
func (l *Ledger) MarkToMarket(bar market.Bar) EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	pt := EquityPoint{Time: bar.Time, Equity: l.equityLocked(bar.Close), Cash: decToFloat(l.cash)}
	l.curve = append(l.curve, pt)
	return pt
}

func (l *Ledger) record(o ExecutedOrder) {
	l.orders = append(l.orders, o)
	if l.observer != nil {
		rec := o
		l.observer(Event{Type: EventOrder, Order: &rec})
	}
}

func (l *Ledger) equityLocked(price float64) float64 {
	eq := l.cash
	if l.pos.HasExposure() {
		mv := decFromFloat(price).Mul(decFromFloat(l.pos.Size))
		if l.pos.Side == SideBuy {
			eq = eq.Add(mv)
		} else {
			eq = eq.Sub(mv)
		}
	}
	return decToFloat(eq)
}

// Equity 返回按给定价格估值的权益。
func (l *Ledger) Equity(price float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked(price)
}

// FinalValue 以最后一根 K 线收盘价估值（未平仓位按市值计入）。
func (l *Ledger) FinalValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.barIndex < 0 {
		return decToFloat(l.cash)
	}
	return l.equityLocked(l.lastBar.Close)
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return decToFloat(l.cash)
}

func (l *Ledger) Position() Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pos
}

// HasPendingEntry 表示存在尚未成交的入场单。
func (l *Ledger) HasPendingEntry() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entry != nil
}

func (l *Ledger) Cooldown() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cooldown
}

// SetCooldown 写回策略返回的新冷却值。
func (l *Ledger) SetCooldown(n int) {
	if n < 0 {
		n = 0
	}
	l.mu.Lock()
	l.cooldown = n
	l.mu.Unlock()
}

func (l *Ledger) InitialCapital() float64 {
	return l.cfg.InitialCapital
}

// Orders 返回订单记录副本。
func (l *Ledger) Orders() []ExecutedOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ExecutedOrder(nil), l.orders...)
}

func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade(nil), l.trades...)
}

func (l *Ledger) EquityCurve() []EquityPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]EquityPoint(nil), l.curve...)
}
