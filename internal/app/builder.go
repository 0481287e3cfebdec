package app

import (
	"context"
	"fmt"

	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/ledger"
	"tradelab/internal/logger"
	"tradelab/internal/results"
	"tradelab/internal/strategy"
)

type AppBuilder struct {
	cfg *config.Config

	dataStackFn   func(config.DataConfig) (*DataStack, error)
	resultStoreFn func(config.ResultsConfig) (results.Store, error)
	presetsFn     func(config.PresetsConfig) (*strategy.PresetRegistry, error)
}

type AppBuilderOption func(*AppBuilder)

// WithDataStack 替换数据栈构建（测试使用）。
func WithDataStack(fn func(config.DataConfig) (*DataStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.dataStackFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		dataStackFn:   buildDataStack,
		resultStoreFn: buildResultStore,
		presetsFn:     loadPresets,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	data, err := b.dataStackFn(cfg.Data)
	if err != nil {
		return nil, err
	}
	store, err := b.resultStoreFn(cfg.Results)
	if err != nil {
		data.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		data.Close()
		return nil, err
	}
	presets, err := b.presetsFn(cfg.Presets)
	if err != nil {
		return fail(err)
	}

	live, err := backtest.NewLiveService(backtest.LiveConfig{
		Interval:    cfg.Live.Interval,
		QueueSize:   cfg.Live.QueueSize,
		HistoryBars: cfg.Live.HistoryBars,
		Ledger: ledger.Config{
			InitialCapital: cfg.Backtest.InitialCapital,
			Commission:     cfg.Backtest.Commission,
			Slippage:       cfg.Backtest.Slippage,
		},
	}, data.Feed(), data.Loader, presets, nil)
	if err != nil {
		return fail(fmt.Errorf("初始化实时服务失败: %w", err))
	}
	live.SetContext(ctx)

	bt, err := buildBacktestService(cfg, data, store, presets, live)
	if err != nil {
		return fail(err)
	}

	app := &App{
		cfg:      cfg,
		data:     data,
		backtest: bt,
		live:     live,
		presets:  presets,
	}
	app.Summary = newStartupSummary(cfg, data, presets)
	return app, nil
}
