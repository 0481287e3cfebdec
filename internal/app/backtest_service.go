package app

import (
	"context"

	"tradelab/internal/backtest"
	"tradelab/internal/results"
	backtesthttp "tradelab/internal/transport/http/backtest"
)

// BacktestService 管理回测、数据拉取任务、结果存储与 HTTP 暴露。
type BacktestService struct {
	sim     *backtest.Simulator
	fetch   *backtest.FetchService
	results results.Store
	server  *backtesthttp.Server
}

// Start 绑定后台任务的上下文。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.fetch != nil {
		b.fetch.SetContext(ctx)
	}
}

// Serve 阻塞运行 HTTP 服务。
func (b *BacktestService) Serve(ctx context.Context) error {
	if b == nil || b.server == nil {
		<-ctx.Done()
		return nil
	}
	return b.server.Start(ctx)
}

// Close 释放结果存储。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.results != nil {
		_ = b.results.Close()
	}
}
