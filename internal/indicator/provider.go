// Package indicator 把 K 线序列转换为逐根对齐的指标快照。
// 策略只依赖 Provider 接口，不直接依赖具体指标库。
package indicator

import "sort"

// Kind 标识指标类型。
type Kind string

const (
	KindEMA     Kind = "ema"
	KindSMA     Kind = "sma"
	KindRSI     Kind = "rsi"
	KindMACD    Kind = "macd"
	KindATR     Kind = "atr"
	KindStdDev  Kind = "stddev"
	KindStoch   Kind = "stoch"
	KindADX     Kind = "adx"
	KindPlusDI  Kind = "plus_di"
	KindMinusDI Kind = "minus_di"
)

// Field 选择指标的输入列。
type Field string

const (
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Spec 描述一个需要计算的指标。
// MACD 额外输出 <name>_signal / <name>_hist，Stoch 输出 <name>_k / <name>_d。
type Spec struct {
	Name   string
	Kind   Kind
	Period int
	Fast   int
	Slow   int
	Signal int
	Field  Field
}

// Lookback 返回该指标第一次有效所需的最小下标（与 TA-Lib 的 lookback 一致）。
func (s Spec) Lookback() int {
	switch s.Kind {
	case KindEMA, KindSMA, KindStdDev:
		return s.Period - 1
	case KindRSI, KindATR, KindPlusDI, KindMinusDI:
		return s.Period
	case KindMACD:
		return s.Slow - 1 + s.Signal - 1
	case KindStoch:
		return s.Period - 1 + s.Fast - 1 + s.Slow - 1
	case KindADX:
		return 2*s.Period - 1
	default:
		return 0
	}
}

// Outputs 返回该 Spec 写入快照的全部键名。
func (s Spec) Outputs() []string {
	switch s.Kind {
	case KindMACD:
		return []string{s.Name, s.Name + "_signal", s.Name + "_hist"}
	case KindStoch:
		return []string{s.Name + "_k", s.Name + "_d"}
	default:
		return []string{s.Name}
	}
}

// MaxLookback 返回一组 Spec 中最长的 lookback。
func MaxLookback(specs []Spec) int {
	max := 0
	for _, s := range specs {
		if lb := s.Lookback(); lb > max {
			max = lb
		}
	}
	return max
}

// Snapshot 是某根 K 线对应的指标值；未就绪的指标不会出现。
type Snapshot struct {
	Index  int
	Values map[string]float64
}

// Get 返回指标值及其是否就绪。
func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Value 返回指标值，未就绪时为 0。
func (s Snapshot) Value(name string) float64 {
	return s.Values[name]
}

// Has 判断所有给定指标均已就绪。
func (s Snapshot) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := s.Values[n]; !ok {
			return false
		}
	}
	return true
}

// Names 返回已就绪的指标名（排序后）。
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Values))
	for k := range s.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Provider 按 K 线下标返回因果指标快照（只使用 index 及之前的数据）。
type Provider interface {
	Compute(index int) Snapshot
}
