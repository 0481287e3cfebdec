package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradelab/internal/market"
	"tradelab/internal/pkg/symbol"
	"tradelab/internal/strategy"
)

// SimulateRequest 描述一次按区间拉取数据并回测的请求。
// Start/End 为 0 时取截至当前的最近 Bars 根 K 线。
type SimulateRequest struct {
	Symbol         string
	Interval       string
	Strategy       string
	Preset         string
	Params         map[string]any
	Start          int64
	End            int64
	Bars           int
	InitialCapital float64
	Commission     *float64
	Slippage       *float64
}

// Simulator 负责：解析策略（预设或名称）→ 加载 K 线 → 运行 Runner。
type Simulator struct {
	loader  HistoryLoader
	runner  *Runner
	presets *strategy.PresetRegistry
	now     func() time.Time
}

func NewSimulator(loader HistoryLoader, runner *Runner, presets *strategy.PresetRegistry) (*Simulator, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader 不能为空")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	return &Simulator{loader: loader, runner: runner, presets: presets, now: time.Now}, nil
}

// Strategy 按预设或策略名构造实例。
func (s *Simulator) Strategy(preset, kind string, params map[string]any) (strategy.Strategy, error) {
	if preset = strings.TrimSpace(preset); preset != "" {
		if s.presets == nil {
			return nil, fmt.Errorf("未配置策略预设")
		}
		return s.presets.Build(preset, params)
	}
	k, err := strategy.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return strategy.New(k, params)
}

// Simulate 加载数据并同步执行回测。失败时可能同时返回部分结果。
func (s *Simulator) Simulate(ctx context.Context, req SimulateRequest) (*Result, error) {
	if s == nil {
		return nil, fmt.Errorf("simulator 未初始化")
	}
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	tf, err := market.ParseTimeframe(req.Interval)
	if err != nil {
		return nil, err
	}
	strat, err := s.Strategy(req.Preset, req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}
	start, end := s.window(req, tf, strat)
	bars, err := s.loader.Load(ctx, sym, tf.Key, start, end)
	if err != nil {
		return nil, fmt.Errorf("加载 K 线失败: %w", err)
	}
	if n := len(bars); n > 0 && !tf.IsClosed(bars[n-1].OpenTimeMillis(), s.now()) {
		bars = bars[:n-1]
	}
	return s.runner.Run(ctx, Request{
		Symbol:         sym,
		Interval:       tf.Key,
		Strategy:       strat,
		Bars:           bars,
		InitialCapital: req.InitialCapital,
		Commission:     req.Commission,
		Slippage:       req.Slippage,
	})
}

// window 计算拉取区间；默认取 n 根已收盘 K 线，n 至少覆盖最小 K 线数与策略预热。
func (s *Simulator) window(req SimulateRequest, tf market.Timeframe, strat strategy.Strategy) (int64, int64) {
	end := req.End
	if end <= 0 {
		_, end = tf.AlignRange(s.now().UnixMilli(), s.now().UnixMilli())
	}
	if req.Start > 0 {
		return req.Start, end
	}
	n := req.Bars
	if n <= 0 {
		n = 1000
	}
	if m := s.runner.MinBars(); n < m {
		n = m
	}
	if w := strat.Warmup() + 1; n < w {
		n = w
	}
	return end - int64(n)*tf.Duration.Milliseconds(), end
}
