package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
	"tradelab/internal/logger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"
	"tradelab/internal/strategy"

	"github.com/mitchellh/mapstructure"
)

var runLog = logger.Tagged("backtest")

// ProviderFactory 为一段 K 线构造指标 Provider。
type ProviderFactory func(bars market.Series, specs []indicator.Spec) (indicator.Provider, error)

// TalibProviders 是默认的 ProviderFactory。
func TalibProviders(bars market.Series, specs []indicator.Spec) (indicator.Provider, error) {
	return indicator.NewTalib(bars, specs)
}

// RunnerConfig 是批量回测的默认参数。
type RunnerConfig struct {
	MinBars        int
	InitialCapital float64
	Commission     float64
	Slippage       float64
}

// Request 描述一次批量回测。Strategy 非空时忽略 Kind/Params。
type Request struct {
	Symbol         string
	Interval       string
	Kind           strategy.Kind
	Params         map[string]any
	Strategy       strategy.Strategy
	Bars           market.Series
	InitialCapital float64
	Commission     *float64
	Slippage       *float64
}

// Result 是一次回测的完整输出。
type Result struct {
	Symbol         string                 `json:"symbol"`
	Interval       string                 `json:"interval"`
	Strategy       strategy.Kind          `json:"strategy"`
	Params         map[string]any         `json:"params"`
	Orders         []ledger.ExecutedOrder `json:"orders"`
	Trades         []ledger.Trade         `json:"trades"`
	InitialCapital float64                `json:"initial_capital"`
	FinalValue     float64                `json:"final_value"`
	Metrics        metrics.Metrics        `json:"metrics"`
	EquityMetrics  metrics.EquityMetrics  `json:"equity_metrics"`
	Equity         []ledger.EquityPoint   `json:"equity_curve"`
	Candles        market.Series          `json:"candles,omitempty"`
	Bars           int                    `json:"bars"`
	Elapsed        time.Duration          `json:"-"`
}

// Runner 同步、按时间顺序执行批量回测。
type Runner struct {
	cfg       RunnerConfig
	providers ProviderFactory
}

type RunnerOption func(*Runner)

// WithProviderFactory 替换指标计算实现。
func WithProviderFactory(f ProviderFactory) RunnerOption {
	return func(r *Runner) {
		if f != nil {
			r.providers = f
		}
	}
}

func NewRunner(cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	r := &Runner{cfg: cfg, providers: TalibProviders}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// MinBars 返回最少 K 线数要求。
func (r *Runner) MinBars() int {
	if r == nil {
		return 0
	}
	return r.cfg.MinBars
}

// Run 执行回测。输入数据不合法时返回 *market.InputDataError；
// 循环中途失败时同时返回已记录订单的部分结果与错误，由调用方决定是否保存。
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if r == nil {
		return nil, fmt.Errorf("runner 未初始化")
	}
	bars := req.Bars
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	if err := market.RequireBars(bars, r.cfg.MinBars); err != nil {
		return nil, err
	}
	strat := req.Strategy
	if strat == nil {
		var err error
		strat, err = strategy.New(req.Kind, req.Params)
		if err != nil {
			return nil, err
		}
	}
	provider, err := r.providers(bars, strat.Indicators())
	if err != nil {
		return nil, fmt.Errorf("指标初始化失败: %w", err)
	}
	book := ledger.Config{
		InitialCapital: r.cfg.InitialCapital,
		Commission:     r.cfg.Commission,
		Slippage:       r.cfg.Slippage,
	}
	if req.InitialCapital > 0 {
		book.InitialCapital = req.InitialCapital
	}
	if req.Commission != nil {
		book.Commission = *req.Commission
	}
	if req.Slippage != nil {
		book.Slippage = *req.Slippage
	}

	started := time.Now()
	eng := newEngine(strat, book)
	runLog.Infof("开始 %s %s %s，K 线=%d 资金=%.2f", strat.Kind(), req.Symbol, req.Interval, len(bars), book.InitialCapital)
	for i := range bars {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return r.collect(req, strat, eng, bars, started), err
			}
		}
		if err := eng.step(i, bars[:i+1], provider); err != nil {
			runLog.Errorf("运行失败: %v", err)
			return r.collect(req, strat, eng, bars, started), fmt.Errorf("backtest run failed: %w", err)
		}
	}
	res := r.collect(req, strat, eng, bars, started)
	runLog.Infof("完成 %s %s：订单=%d 最终权益=%.2f 收益=%.2f 耗时=%s",
		strat.Kind(), req.Symbol, len(res.Orders), res.FinalValue, res.Metrics.TotalProfit, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) collect(req Request, strat strategy.Strategy, eng *engine, bars market.Series, started time.Time) *Result {
	orders := eng.book.Orders()
	curve := eng.book.EquityCurve()
	initial := eng.book.InitialCapital()
	final := eng.book.FinalValue()
	return &Result{
		Symbol:         strings.ToUpper(req.Symbol),
		Interval:       req.Interval,
		Strategy:       strat.Kind(),
		Params:         ParamsMap(strat),
		Orders:         orders,
		Trades:         eng.book.Trades(),
		InitialCapital: initial,
		FinalValue:     final,
		Metrics:        metrics.Compute(orders, initial, final),
		EquityMetrics:  metrics.FromCurve(curve),
		Equity:         curve,
		Candles:        bars,
		Bars:           eng.steps,
		Elapsed:        time.Since(started),
	}
}

// ParamsMap 把策略生效参数展开为 map，附带策略名。
func ParamsMap(strat strategy.Strategy) map[string]any {
	out := map[string]any{}
	if strat == nil {
		return out
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &out})
	if err == nil {
		if err := dec.Decode(strat.Params()); err != nil {
			runLog.Warnf("参数展开失败: %v", err)
		}
	}
	out["strategy"] = string(strat.Kind())
	return out
}
