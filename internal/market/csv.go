package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/logger"
)

var requiredColumns = []string{"open", "high", "low", "close"}

var timeColumnAliases = []string{"time", "timestamp", "open_time", "date", "datetime"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadCSVFile 读取本地 CSV 文件，见 ReadCSV。
func LoadCSVFile(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV 解析带表头的 OHLCV CSV。
// 必须包含 open/high/low/close 与时间列；volume 可缺省。
// 时间无法解析的行被丢弃，全部无法解析时返回 InputDataError。
func ReadCSV(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &InputDataError{Reason: "CSV 为空"}
		}
		return nil, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	timeIdx := -1
	for _, alias := range timeColumnAliases {
		if i, ok := index[alias]; ok {
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return nil, &InputDataError{Missing: missing}
	}
	volIdx, hasVolume := index["volume"]

	var (
		out     Series
		dropped int
		line    = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("CSV 第 %d 行: %w", line, err)
		}
		ts, ok := ParseTimestamp(record[timeIdx])
		if !ok {
			dropped++
			continue
		}
		bar := Bar{Time: ts}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close}
		valid := true
		for i, col := range requiredColumns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[index[col]]), 64)
			if err != nil || math.IsNaN(v) {
				valid = false
				break
			}
			*fields[i] = v
		}
		if !valid {
			dropped++
			continue
		}
		if hasVolume && volIdx < len(record) {
			bar.Volume, _ = strconv.ParseFloat(strings.TrimSpace(record[volIdx]), 64)
		}
		out = append(out, bar)
	}
	if len(out) == 0 && dropped > 0 {
		return nil, &InputDataError{Reason: fmt.Sprintf("无法解析任何时间戳（丢弃 %d 行）", dropped)}
	}
	if dropped > 0 {
		logger.Warnf("[market] CSV 丢弃 %d 行无效数据", dropped)
	}
	return Normalize(out), nil
}

// Normalize 按时间升序排序并去除重复时间戳（保留后出现的一根）。
func Normalize(s Series) Series {
	if len(s) < 2 {
		return s
	}
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	out := s[:0]
	for _, b := range s {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// ParseTimestamp 支持 Unix 秒/毫秒（>1e12 视为毫秒）与常见文本格式，结果为 UTC。
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), true
		}
		return time.Unix(int64(n), 0).UTC(), true
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
