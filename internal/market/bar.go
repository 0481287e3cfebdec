package market

import (
	"fmt"
	"time"
)

// Bar 表示单根 OHLCV K 线，产生后不可变。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OpenTimeMillis 返回开盘时间（Unix 毫秒），用于缓存主键。
func (b Bar) OpenTimeMillis() int64 {
	return b.Time.UnixMilli()
}

// Range 返回最高价与最低价之差。
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Series 是按时间升序排列的 K 线序列。
type Series []Bar

// Closes 等方法把序列展开为指标库需要的切片。
func (s Series) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }
func (s Series) Opens() []float64  { return s.column(func(b Bar) float64 { return b.Open }) }
func (s Series) Highs() []float64  { return s.column(func(b Bar) float64 { return b.High }) }
func (s Series) Lows() []float64   { return s.column(func(b Bar) float64 { return b.Low }) }
func (s Series) Volumes() []float64 {
	return s.column(func(b Bar) float64 { return b.Volume })
}

func (s Series) column(pick func(Bar) float64) []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = pick(b)
	}
	return out
}

// Tail 返回最后 n 根（n<=0 或超过长度时返回全部）。
func (s Series) Tail(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Validate 检查时间严格递增且价格字段自洽。
func (s Series) Validate() error {
	for i, b := range s {
		if b.Time.IsZero() {
			return &InputDataError{Reason: fmt.Sprintf("第 %d 根 K 线缺少时间", i)}
		}
		if b.High < b.Low {
			return &InputDataError{Reason: fmt.Sprintf("第 %d 根 K 线 high<low", i)}
		}
		if i > 0 && !b.Time.After(s[i-1].Time) {
			return &InputDataError{Reason: fmt.Sprintf("K 线时间未严格递增: %s <= %s", b.Time.Format(time.RFC3339), s[i-1].Time.Format(time.RFC3339))}
		}
	}
	return nil
}
