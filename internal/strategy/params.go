package strategy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// DecodeParams 把松散的参数表（HTTP 查询、YAML 预设、JSON 请求体）解码进参数结构体。
// 键名统一转为 snake_case，数字/布尔字符串按弱类型转换，未知键报错。
func DecodeParams(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[snakeKey(k)] = v
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(normalized); err != nil {
		return fmt.Errorf("decode strategy params: %w", err)
	}
	return nil
}

// snakeKey 把 minInsideBarSize / useATRTP 这类键转为 min_inside_bar_size / use_atrtp。
func snakeKey(key string) string {
	key = strings.TrimSpace(key)
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GridParams 对应箱体 + MACD/RSI 均值回归。
type GridParams struct {
	RiskPercent         float64 `json:"risk_percent"`
	RSILength           int     `json:"rsi_length"`
	VolatilityPeriod    int     `json:"volatility_period"`
	VolatilityThreshold float64 `json:"volatility_threshold"`
	PivotPeriod         int     `json:"adaptive_pivot_period"`
	RSIThreshold        float64 `json:"rsi_threshold"`
	UseStricterRSI      bool    `json:"use_stricter_rsi"`
	MACDFast            int     `json:"macd_fast"`
	MACDSlow            int     `json:"macd_slow"`
	MACDSignal          int     `json:"macd_signal"`
	MACDAboveSignal     bool    `json:"macd_above_signal"`
	ATRPeriod           int     `json:"atr_period"`
	ATRMultiplier       float64 `json:"atr_multiplier"`
	PartialExit         bool    `json:"partial_exit"`
	PartialPct          float64 `json:"partial_pct"`
	PartialATRMult      float64 `json:"partial_atr_mult"`
	FinalATRMult        float64 `json:"final_atr_mult"`
	BoxLookback         int     `json:"box_lookback"`
	UseCooldown         bool    `json:"use_cooldown"`
	CooldownBars        int     `json:"cooldown_bars"`
}

func DefaultGridParams() GridParams {
	return GridParams{
		RiskPercent:         1.0,
		RSILength:           14,
		VolatilityPeriod:    20,
		VolatilityThreshold: 0.02,
		PivotPeriod:         50,
		RSIThreshold:        50,
		MACDFast:            14,
		MACDSlow:            28,
		MACDSignal:          9,
		MACDAboveSignal:     true,
		ATRPeriod:           14,
		ATRMultiplier:       2.0,
		PartialExit:         true,
		PartialPct:          10,
		PartialATRMult:      1.0,
		FinalATRMult:        2.0,
		BoxLookback:         31,
		CooldownBars:        1,
	}
}

func (p GridParams) Validate() error {
	if p.RiskPercent <= 0 || p.RiskPercent > 100 {
		return fmt.Errorf("risk_percent 必须在 (0,100] 内")
	}
	if p.RSILength <= 0 || p.VolatilityPeriod <= 0 || p.PivotPeriod <= 0 || p.ATRPeriod <= 0 {
		return fmt.Errorf("指标周期必须 > 0")
	}
	if p.MACDFast <= 0 || p.MACDSlow <= p.MACDFast || p.MACDSignal <= 0 {
		return fmt.Errorf("macd 参数无效: fast=%d slow=%d signal=%d", p.MACDFast, p.MACDSlow, p.MACDSignal)
	}
	if p.BoxLookback < 5 {
		return fmt.Errorf("box_lookback 至少为 5")
	}
	if p.PartialPct < 0 || p.PartialPct >= 100 {
		return fmt.Errorf("partial_pct 必须在 [0,100) 内")
	}
	if p.UseCooldown && p.CooldownBars <= 0 {
		return fmt.Errorf("use_cooldown 时 cooldown_bars 必须 > 0")
	}
	return nil
}

// MomentumParams 对应 EMA/RSI/Stoch/ADX 趋势动量。
type MomentumParams struct {
	EMAShort        int     `json:"ema_short"`
	EMALong         int     `json:"ema_long"`
	RSIPeriod       int     `json:"rsi_period"`
	RSILow          float64 `json:"rsi_low"`
	RSIHigh         float64 `json:"rsi_high"`
	RSIExit         float64 `json:"rsi_exit"`
	StochK          int     `json:"stoch_k"`
	StochSmooth     int     `json:"stoch_smooth"`
	StochD          int     `json:"stoch_d"`
	StochOversold   float64 `json:"stoch_oversold"`
	ADXPeriod       int     `json:"adx_period"`
	ADXThreshold    float64 `json:"adx_threshold"`
	StopLossPerc    float64 `json:"stop_loss_perc"`
	TakeProfitPerc  float64 `json:"take_profit_perc"`
	UseBracket      bool    `json:"use_bracket"`
	// MaxCashFraction 限制单次入场占用的现金比例。
	MaxCashFraction float64 `json:"max_cash_fraction"`
}

func DefaultMomentumParams() MomentumParams {
	return MomentumParams{
		EMAShort:        20,
		EMALong:         50,
		RSIPeriod:       14,
		RSILow:          40,
		RSIHigh:         70,
		RSIExit:         80,
		StochK:          14,
		StochSmooth:     3,
		StochD:          3,
		StochOversold:   20,
		ADXPeriod:       14,
		ADXThreshold:    17,
		StopLossPerc:    1.0,
		TakeProfitPerc:  3.0,
		MaxCashFraction: 0.95,
	}
}

func (p MomentumParams) Validate() error {
	if p.EMAShort <= 0 || p.EMALong <= p.EMAShort {
		return fmt.Errorf("ema_short/ema_long 无效: %d/%d", p.EMAShort, p.EMALong)
	}
	if p.RSIPeriod <= 0 || p.StochK <= 0 || p.StochSmooth <= 0 || p.StochD <= 0 || p.ADXPeriod <= 0 {
		return fmt.Errorf("指标周期必须 > 0")
	}
	if p.RSILow >= p.RSIHigh {
		return fmt.Errorf("rsi_low 必须小于 rsi_high")
	}
	if p.StopLossPerc <= 0 {
		return fmt.Errorf("stop_loss_perc 必须 > 0")
	}
	if p.MaxCashFraction <= 0 || p.MaxCashFraction > 1 {
		return fmt.Errorf("max_cash_fraction 必须在 (0,1] 内")
	}
	return nil
}

// InsideBarParams 对应内包线突破。
type InsideBarParams struct {
	RiskPercent      float64 `json:"risk_percent"`
	RRRatio          float64 `json:"rr_ratio"`
	MinInsideBarSize float64 `json:"min_inside_bar_size"`
	UseTrendFilter   bool    `json:"use_trend_filter"`
	TrendEMA         int     `json:"trend_ema"`
	UseVolumeFilter  bool    `json:"use_volume_filter"`
	VolumeSMA        int     `json:"volume_sma"`
	VolMultiplier    float64 `json:"vol_multiplier"`
	UseATRTP         bool    `json:"use_atrtp"`
	ATRLength        int     `json:"atr_length"`
	ATRMult          float64 `json:"atr_mult"`
	// EntryValidBars 入场止损单的有效 K 线数，0 表示一直有效。
	EntryValidBars   int     `json:"entry_valid_bars"`
}

func DefaultInsideBarParams() InsideBarParams {
	return InsideBarParams{
		RiskPercent:      1.0,
		RRRatio:          2.5,
		MinInsideBarSize: 0.5,
		UseTrendFilter:   true,
		TrendEMA:         200,
		UseVolumeFilter:  true,
		VolumeSMA:        20,
		VolMultiplier:    1.1,
		UseATRTP:         true,
		ATRLength:        14,
		ATRMult:          1.5,
		EntryValidBars:   3,
	}
}

func (p InsideBarParams) Validate() error {
	if p.RiskPercent <= 0 || p.RiskPercent > 100 {
		return fmt.Errorf("risk_percent 必须在 (0,100] 内")
	}
	if p.UseATRTP && (p.ATRLength <= 0 || p.ATRMult <= 0) {
		return fmt.Errorf("atr_length/atr_mult 必须 > 0")
	}
	if !p.UseATRTP && p.RRRatio <= 0 {
		return fmt.Errorf("rr_ratio 必须 > 0")
	}
	if p.UseTrendFilter && p.TrendEMA <= 0 {
		return fmt.Errorf("trend_ema 必须 > 0")
	}
	if p.UseVolumeFilter && p.VolumeSMA <= 0 {
		return fmt.Errorf("volume_sma 必须 > 0")
	}
	if p.MinInsideBarSize < 0 || p.EntryValidBars < 0 {
		return fmt.Errorf("min_inside_bar_size/entry_valid_bars 不能为负")
	}
	return nil
}

// StochMRParams 对应随机指标均值回归。
// HTFSMALength 用同周期更长的 SMA 近似高周期趋势过滤。
type StochMRParams struct {
	RiskPercent  float64 `json:"risk_percent"`
	StochK       int     `json:"stoch_k"`
	StochSmooth  int     `json:"stoch_smooth"`
	StochD       int     `json:"stoch_d"`
	Oversold     float64 `json:"oversold"`
	Overbought   float64 `json:"overbought"`
	SMALength    int     `json:"sma_length"`
	HTFSMALength int     `json:"htf_sma_length"`
	ATRLength    int     `json:"atr_length"`
	SLATRMult    float64 `json:"sl_atr_mult"`
	TPATRMult    float64 `json:"tp_atr_mult"`
	AllowShort   bool    `json:"allow_short"`
}

func DefaultStochMRParams() StochMRParams {
	return StochMRParams{
		RiskPercent:  1.0,
		StochK:       14,
		StochSmooth:  3,
		StochD:       3,
		Oversold:     20,
		Overbought:   80,
		SMALength:    20,
		HTFSMALength: 200,
		ATRLength:    14,
		SLATRMult:    1.5,
		TPATRMult:    2.0,
		AllowShort:   true,
	}
}

func (p StochMRParams) Validate() error {
	if p.RiskPercent <= 0 || p.RiskPercent > 100 {
		return fmt.Errorf("risk_percent 必须在 (0,100] 内")
	}
	if p.StochK <= 0 || p.StochSmooth <= 0 || p.StochD <= 0 || p.SMALength <= 0 || p.HTFSMALength <= 0 || p.ATRLength <= 0 {
		return fmt.Errorf("指标周期必须 > 0")
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return fmt.Errorf("oversold/overbought 无效: %v/%v", p.Oversold, p.Overbought)
	}
	if p.SLATRMult <= 0 || p.TPATRMult <= 0 {
		return fmt.Errorf("sl_atr_mult/tp_atr_mult 必须 > 0")
	}
	return nil
}

// DynGridParams 对应动态枢轴网格。
type DynGridParams struct {
	PercentRange float64 `json:"percent_range"`
	OrderSize    float64 `json:"order_size"`
	CooldownBars int     `json:"cooldown_bars"`
}

func DefaultDynGridParams() DynGridParams {
	return DynGridParams{
		PercentRange: 0.05,
		OrderSize:    1000,
		CooldownBars: 3,
	}
}

func (p DynGridParams) Validate() error {
	if p.PercentRange <= 0 || p.PercentRange >= 1 {
		return fmt.Errorf("percent_range 必须在 (0,1) 内")
	}
	if p.OrderSize <= 0 {
		return fmt.Errorf("order_size 必须 > 0")
	}
	if p.CooldownBars < 0 {
		return fmt.Errorf("cooldown_bars 不能为负")
	}
	return nil
}
