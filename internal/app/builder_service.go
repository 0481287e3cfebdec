package app

import (
	"errors"
	"fmt"
	"os"

	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/logger"
	"tradelab/internal/results"
	"tradelab/internal/strategy"
	backtesthttp "tradelab/internal/transport/http/backtest"
)

func buildResultStore(cfg config.ResultsConfig) (results.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := results.NewGormStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 sqlite 结果存储失败: %w", err)
		}
		logger.Infof("✓ 回测结果存储: sqlite %s", cfg.DSN)
		return store, nil
	default:
		store, err := results.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("初始化结果目录失败: %w", err)
		}
		logger.Infof("✓ 回测结果存储: json %s", cfg.Dir)
		return store, nil
	}
}

// loadPresets 读取策略预设；文件不存在时返回 nil，仅按策略名回测。
func loadPresets(cfg config.PresetsConfig) (*strategy.PresetRegistry, error) {
	if _, err := os.Stat(cfg.Path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("策略预设文件不存在，跳过: %s", cfg.Path)
		return nil, nil
	}
	reg, err := strategy.NewPresetRegistry(cfg.Path, cfg.Watch)
	if err != nil {
		return nil, err
	}
	reg.OnChange(func(snap strategy.PresetSnapshot) {
		logger.Infof("策略预设已重载，共 %d 个", len(snap.Presets))
	})
	logger.Infof("✓ 已加载 %d 个策略预设 (watch=%v)", len(reg.List()), cfg.Watch)
	return reg, nil
}

func buildBacktestService(cfg *config.Config, data *DataStack, store results.Store, presets *strategy.PresetRegistry, live *backtest.LiveService) (*BacktestService, error) {
	runner := backtest.NewRunner(backtest.RunnerConfig{
		MinBars:        cfg.Data.MinBars,
		InitialCapital: cfg.Backtest.InitialCapital,
		Commission:     cfg.Backtest.Commission,
		Slippage:       cfg.Backtest.Slippage,
	})
	sim, err := backtest.NewSimulator(data.Loader, runner, presets)
	if err != nil {
		return nil, err
	}
	fetch, err := backtest.NewFetchService(data.Loader, 2)
	if err != nil {
		return nil, err
	}
	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:         cfg.HTTP.Addr,
		Simulator:    sim,
		Fetch:        fetch,
		Results:      store,
		Presets:      presets,
		Live:         live,
		StoreCandles: cfg.Backtest.StoreCandles,
		RiskPercent:  cfg.Backtest.RiskPercent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 失败: %w", err)
	}
	return &BacktestService{sim: sim, fetch: fetch, results: store, server: server}, nil
}
