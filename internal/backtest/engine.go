package backtest

import (
	"fmt"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
	"tradelab/internal/market"
	"tradelab/internal/strategy"
)

// engine 把指标、策略与 ledger 串成逐根流程，批量回测与实时会话共用。
// 每根 K 线：ledger 撮合挂单 → 计算指标快照 → 策略给出意图与冷却 → ledger 接收意图 → 记录资金。
type engine struct {
	strat strategy.Strategy
	book  *ledger.Ledger
	prev  indicator.Snapshot
	steps int
}

func newEngine(strat strategy.Strategy, cfg ledger.Config, opts ...ledger.Option) *engine {
	cfg.CooldownBars = strat.CooldownOnClose()
	if ex, ok := strat.(strategy.EntryExpirer); ok {
		opts = append(opts, ledger.WithEntryValidity(ex.EntryValidity()))
	}
	return &engine{strat: strat, book: ledger.New(cfg, opts...)}
}

// step 处理 history 的最后一根。seq 是全局递增的 K 线序号，provider 以 history 下标计算。
func (e *engine) step(seq int, history market.Series, provider indicator.Provider) (err error) {
	if len(history) == 0 {
		return nil
	}
	idx := len(history) - 1
	bar := history[idx]
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("bar %d (%s): %v", seq, bar.Time.UTC().Format("2006-01-02 15:04"), rec)
		}
	}()

	e.book.ProcessBar(seq, bar)
	snap := provider.Compute(idx)
	snap.Index = seq
	intents, cooldown := e.strat.OnBar(strategy.Input{
		Index:      seq,
		Bar:        bar,
		History:    history,
		Indicators: snap,
		Prev:       e.prev,
		Position:   e.book.Position(),
		Cooldown:   e.book.Cooldown(),
		Equity:     e.book.Equity(bar.Close),
		Cash:       e.book.Cash(),
	})
	e.book.SetCooldown(cooldown)
	e.book.Submit(seq, bar, intents)
	e.book.MarkToMarket(bar)
	e.prev = snap
	e.steps++
	return nil
}
