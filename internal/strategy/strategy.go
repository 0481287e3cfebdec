// Package strategy 实现逐根 K 线的信号状态机。
// 策略只读取 Input 并返回下单意图与新的冷却值，仓位变化全部由 ledger 完成。
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
	"tradelab/internal/market"
)

// Kind 标识策略变体。
type Kind string

const (
	KindGrid      Kind = "grid"
	KindMomentum  Kind = "momentum"
	KindInsideBar Kind = "insidebar"
	KindStochMR   Kind = "stochmr"
	KindDynGrid   Kind = "dyngrid"
)

// epsilon 以下的止损距离视为退化，不下单。
const epsilon = 1e-6

// Input 是单根 K 线的策略输入。History 包含当前 K 线。
type Input struct {
	Index      int
	Bar        market.Bar
	History    market.Series
	Indicators indicator.Snapshot
	Prev       indicator.Snapshot
	Position   ledger.Position
	Cooldown   int
	Equity     float64
	Cash       float64
}

// Strategy 是单个策略实例。OnBar 只能修改实例自身声明的状态。
type Strategy interface {
	Kind() Kind
	// Indicators 返回所需指标，交给 indicator.Provider 计算。
	Indicators() []indicator.Spec
	// Warmup 返回开始评估信号前所需的最少 K 线数。
	Warmup() int
	// CooldownOnClose 返回完全平仓后需冷却的 K 线数，0 表示不启用。
	CooldownOnClose() int
	// Params 返回生效的参数（用于持久化）。
	Params() any
	OnBar(in Input) ([]ledger.Intent, int)
}

// ParseKind 解析策略名，兼容旧别名。
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "grid", "box", "box_macd_rsi":
		return KindGrid, nil
	case "momentum", "momentum_trend":
		return KindMomentum, nil
	case "insidebar", "inside_bar", "ib", "ib_strategy":
		return KindInsideBar, nil
	case "stochmr", "stoch", "stochastic_mean_reversion":
		return KindStochMR, nil
	case "dyngrid", "dynamic_grid":
		return KindDynGrid, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", raw)
	}
}

// Kinds 返回全部可用策略。
func Kinds() []Kind {
	out := []Kind{KindGrid, KindMomentum, KindInsideBar, KindStochMR, KindDynGrid}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New 按名称构造策略，params 中未给出的键使用默认值。
func New(kind Kind, params map[string]any) (Strategy, error) {
	switch kind {
	case KindGrid:
		p := DefaultGridParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewGrid(p)
	case KindMomentum:
		p := DefaultMomentumParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMomentum(p)
	case KindInsideBar:
		p := DefaultInsideBarParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewInsideBar(p)
	case KindStochMR:
		p := DefaultStochMRParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewStochMR(p)
	case KindDynGrid:
		p := DefaultDynGridParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewDynGrid(p)
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

// DefaultParams 返回某策略的默认参数。
func DefaultParams(kind Kind) (any, error) {
	switch kind {
	case KindGrid:
		return DefaultGridParams(), nil
	case KindMomentum:
		return DefaultMomentumParams(), nil
	case KindInsideBar:
		return DefaultInsideBarParams(), nil
	case KindStochMR:
		return DefaultStochMRParams(), nil
	case KindDynGrid:
		return DefaultDynGridParams(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

func nextCooldown(cd int) int {
	if cd > 0 {
		return cd - 1
	}
	return 0
}

func canEnter(in Input) bool {
	return in.Position.IsFlat() && in.Cooldown == 0
}

func ready(in Input, warmup int) bool {
	return len(in.History) >= warmup && len(in.History) > 0
}

// riskSize = (equity×risk%)/stopDistance；距离退化时返回 0。
func riskSize(equity, riskPercent, stopDistance float64) float64 {
	if stopDistance <= epsilon || equity <= 0 || riskPercent <= 0 {
		return 0
	}
	return equity * riskPercent / 100 / stopDistance
}

func crossedAbove(prevA, prevB, a, b float64) bool {
	return prevA <= prevB && a > b
}

func crossedBelow(prevA, prevB, a, b float64) bool {
	return prevA >= prevB && a < b
}

func exitAll(reason string) ledger.Intent {
	return ledger.Intent{Kind: ledger.KindMarket, Purpose: ledger.PurposeExit, Reason: reason}
}
