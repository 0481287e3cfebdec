// Package convert 把 JSON 解码出的任意值转为数值。
package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Float 接受数值类型、json.Number 与数字字符串；nil 与空串视为缺省（ok=false）。
func Float(v any) (f float64, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return t, true, nil
	case float32:
		return float64(t), true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil, err
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", t)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("not a number: %v", v)
	}
}
