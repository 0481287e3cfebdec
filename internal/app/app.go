package app

import (
	"context"
	"fmt"

	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/logger"
	"tradelab/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP、数据拉取与实时会话。
type App struct {
	cfg      *config.Config
	data     *DataStack
	backtest *BacktestService
	live     *backtest.LiveService
	presets  *strategy.PresetRegistry
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部服务，直到 ctx 取消或任一服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	a.live.SetContext(ctx)
	a.backtest.Start(ctx)

	group.Go(func() error {
		if err := a.backtest.Serve(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Live.Enabled {
		group.Go(func() error {
			return a.autostartLive(ctx)
		})
	}
	return group.Wait()
}

// autostartLive 按配置启动首个币种的实时会话；失败只记录日志，不影响 HTTP。
func (a *App) autostartLive(ctx context.Context) error {
	symbol := a.cfg.Live.Symbols[0]
	st, err := a.live.Start(ctx, backtest.LiveRequest{
		Symbol:   symbol,
		Interval: a.cfg.Live.Interval,
		Strategy: strategy.Kind(a.cfg.Live.Strategy),
	})
	if err != nil {
		logger.Errorf("实时会话启动失败 symbol=%s: %v", symbol, err)
		return nil
	}
	logger.Infof("✓ 实时会话已启动 id=%s symbol=%s strategy=%s", st.ID, st.Symbol, st.Strategy)
	return nil
}

// Close 停止实时会话并释放存储。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.live.Close()
	a.backtest.Close()
	a.data.Close()
}

// LiveService 暴露实时服务实例（测试使用）。
func (a *App) LiveService() *backtest.LiveService {
	if a == nil {
		return nil
	}
	return a.live
}
