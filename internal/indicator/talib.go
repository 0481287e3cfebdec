package indicator

import (
	"fmt"
	"math"

	"tradelab/internal/market"

	"github.com/markcheno/go-talib"
)

// Talib 基于 go-talib 预先计算整段序列，Compute 只做查表。
type Talib struct {
	specs  []Spec
	bars   market.Series
	series map[string][]float64
	ready  map[string]int
}

// NewTalib 校验 Spec 并对 bars 计算全部指标。
func NewTalib(bars market.Series, specs []Spec) (*Talib, error) {
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}
	t := &Talib{specs: append([]Spec(nil), specs...)}
	t.Reset(bars)
	return t, nil
}

// Reset 用新的序列重算（实时模式追加 K 线后调用）。
func (t *Talib) Reset(bars market.Series) {
	t.bars = bars
	t.series = make(map[string][]float64)
	t.ready = make(map[string]int)
	if len(bars) == 0 {
		return
	}
	closes, highs, lows := bars.Closes(), bars.Highs(), bars.Lows()
	var volumes []float64
	for _, s := range t.specs {
		in := closes
		if s.Field == FieldVolume {
			if volumes == nil {
				volumes = bars.Volumes()
			}
			in = volumes
		}
		lb := s.Lookback()
		if len(bars) <= lb {
			continue
		}
		switch s.Kind {
		case KindEMA:
			t.put(s.Name, lb, talib.Ema(in, s.Period))
		case KindSMA:
			t.put(s.Name, lb, talib.Sma(in, s.Period))
		case KindRSI:
			t.put(s.Name, lb, talib.Rsi(in, s.Period))
		case KindStdDev:
			t.put(s.Name, lb, talib.StdDev(in, s.Period, 1))
		case KindATR:
			t.put(s.Name, lb, talib.Atr(highs, lows, closes, s.Period))
		case KindADX:
			t.put(s.Name, lb, talib.Adx(highs, lows, closes, s.Period))
		case KindPlusDI:
			t.put(s.Name, lb, talib.PlusDI(highs, lows, closes, s.Period))
		case KindMinusDI:
			t.put(s.Name, lb, talib.MinusDI(highs, lows, closes, s.Period))
		case KindMACD:
			macd, signal, hist := talib.Macd(in, s.Fast, s.Slow, s.Signal)
			t.put(s.Name, lb, macd)
			t.put(s.Name+"_signal", lb, signal)
			t.put(s.Name+"_hist", lb, hist)
		case KindStoch:
			k, d := talib.Stoch(highs, lows, closes, s.Period, s.Fast, talib.SMA, s.Slow, talib.SMA)
			t.put(s.Name+"_k", lb, k)
			t.put(s.Name+"_d", lb, d)
		}
	}
}

func (t *Talib) put(name string, lookback int, values []float64) {
	t.series[name] = values
	t.ready[name] = lookback
}

// Len 返回当前序列长度。
func (t *Talib) Len() int {
	return len(t.bars)
}

// Compute 实现 Provider。
func (t *Talib) Compute(index int) Snapshot {
	snap := Snapshot{Index: index, Values: make(map[string]float64, len(t.series))}
	if t == nil || index < 0 || index >= len(t.bars) {
		return snap
	}
	for name, values := range t.series {
		if index < t.ready[name] || index >= len(values) {
			continue
		}
		v := values[index]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		snap.Values[name] = v
	}
	return snap
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("indicator spec 缺少 name")
	}
	switch s.Kind {
	case KindMACD:
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 || s.Fast >= s.Slow {
			return fmt.Errorf("%s: macd 需要 0<fast<slow 且 signal>0", s.Name)
		}
	case KindStoch:
		if s.Period <= 0 || s.Fast <= 0 || s.Slow <= 0 {
			return fmt.Errorf("%s: stoch 需要 period/fast/slow > 0", s.Name)
		}
	case KindEMA, KindSMA, KindStdDev, KindATR, KindADX, KindPlusDI, KindMinusDI:
		if s.Period < 2 {
			return fmt.Errorf("%s: period 必须 >= 2", s.Name)
		}
	case KindRSI:
		if s.Period < 2 {
			return fmt.Errorf("%s: period 必须 >= 2", s.Name)
		}
	default:
		return fmt.Errorf("%s: 未知指标类型 %q", s.Name, s.Kind)
	}
	return nil
}
