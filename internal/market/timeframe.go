package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述一个 K 线周期（内部 duration + 交易所 interval）。
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"3m":  {Key: "3m", Duration: 3 * time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（按时长排序）。
func SupportedTimeframes() []string {
	list := make([]Timeframe, 0, len(supportedTimeframes))
	for _, tf := range supportedTimeframes {
		list = append(list, tf)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Duration < list[j].Duration })
	keys := make([]string, len(list))
	for i, tf := range list {
		keys[i] = tf.Key
	}
	return keys
}

func (tf Timeframe) millis() int64 {
	return tf.Duration.Milliseconds()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 将毫秒区间对齐到周期网格，保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	step := tf.millis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars 计算 [start,end]（含两端）应存在的 K 线数量。
func (tf Timeframe) ExpectedBars(start, end int64) int64 {
	step := tf.millis()
	if end < start || step == 0 {
		return 0
	}
	return (end-start)/step + 1
}

// IsClosed 判断开盘时间为 openMs 的 K 线在 now 时是否已收盘。
func (tf Timeframe) IsClosed(openMs int64, now time.Time) bool {
	return now.UnixMilli() >= openMs+tf.millis()
}
