package market

import (
	"errors"
	"fmt"
)

// InputDataError 表示输入 K 线不可用（缺列、数量不足、时间无法解析）。
// 对单次回测是致命错误，调用方不应重试。
type InputDataError struct {
	Reason  string
	Missing []string
	Have    int
	Need    int
}

func (e *InputDataError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("input data: missing required columns %v", e.Missing)
	case e.Need > 0:
		return fmt.Sprintf("input data: insufficient bars: %d, need at least %d", e.Have, e.Need)
	default:
		return "input data: " + e.Reason
	}
}

// IsInputDataError 判断 err 链上是否存在 InputDataError。
func IsInputDataError(err error) bool {
	var target *InputDataError
	return errors.As(err, &target)
}

// RequireBars 在 K 线数量低于 need 时返回 InputDataError。
func RequireBars(s Series, need int) error {
	if need > 0 && len(s) < need {
		return &InputDataError{Have: len(s), Need: need}
	}
	return nil
}
