package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"
	"tradelab/internal/pkg/symbol"
	"tradelab/internal/strategy"
)

// ErrNoSession 表示当前没有实时会话。
var ErrNoSession = errors.New("no live session")

// LiveConfig 是实时会话的默认参数。
type LiveConfig struct {
	Interval    string
	QueueSize   int
	HistoryBars int
	Ledger      ledger.Config
}

// LiveRequest 描述一次启动请求，空字段取 LiveConfig 默认值。
type LiveRequest struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Strategy strategy.Kind  `json:"strategy"`
	Params   map[string]any `json:"params"`
	Preset   string         `json:"preset"`
}

// LiveService 同一时间只维护一个实时会话，并持有对外推送的 Hub。
type LiveService struct {
	cfg     LiveConfig
	feed    market.Feed
	loader  HistoryLoader
	presets *strategy.PresetRegistry
	hub     *Hub

	mu      sync.Mutex
	current *Session
	baseCtx context.Context
}

func NewLiveService(cfg LiveConfig, feed market.Feed, loader HistoryLoader, presets *strategy.PresetRegistry, hub *Hub) (*LiveService, error) {
	if feed == nil {
		return nil, fmt.Errorf("feed 不能为空")
	}
	if hub == nil {
		hub = NewHub(0)
	}
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 250
	}
	return &LiveService{cfg: cfg, feed: feed, loader: loader, presets: presets, hub: hub, baseCtx: context.Background()}, nil
}

// SetContext 注入宿主 ctx，会话生命周期跟随它而不是单个 HTTP 请求。
func (l *LiveService) SetContext(ctx context.Context) {
	if l != nil && ctx != nil {
		l.baseCtx = ctx
	}
}

func (l *LiveService) Hub() *Hub {
	if l == nil {
		return nil
	}
	return l.hub
}

// Start 停掉旧会话，加载预热数据并启动新会话。
func (l *LiveService) Start(ctx context.Context, req LiveRequest) (SessionStatus, error) {
	if l == nil {
		return SessionStatus{}, fmt.Errorf("live service 未初始化")
	}
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return SessionStatus{}, fmt.Errorf("symbol 不能为空")
	}
	interval := req.Interval
	if interval == "" {
		interval = l.cfg.Interval
	}
	tf, err := market.ParseTimeframe(interval)
	if err != nil {
		return SessionStatus{}, err
	}
	strat, err := l.buildStrategy(req)
	if err != nil {
		return SessionStatus{}, err
	}
	history, err := l.warmup(ctx, sym, tf, strat)
	if err != nil {
		return SessionStatus{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.current.Stop()
	}
	sess, err := NewSession(SessionConfig{
		Symbol:      sym,
		Interval:    tf.Key,
		Strategy:    strat,
		Ledger:      l.cfg.Ledger,
		History:     history,
		HistoryBars: l.cfg.HistoryBars,
		QueueSize:   l.cfg.QueueSize,
	}, l.feed, l.hub, nil)
	if err != nil {
		return SessionStatus{}, err
	}
	if err := sess.Start(l.baseCtx); err != nil {
		return SessionStatus{}, err
	}
	l.current = sess
	return sess.Status(), nil
}

func (l *LiveService) buildStrategy(req LiveRequest) (strategy.Strategy, error) {
	if req.Preset != "" {
		if l.presets == nil {
			return nil, fmt.Errorf("未配置策略预设")
		}
		return l.presets.Build(req.Preset, req.Params)
	}
	if req.Strategy == "" {
		return strategy.New(strategy.KindStochMR, req.Params)
	}
	kind, err := strategy.ParseKind(string(req.Strategy))
	if err != nil {
		return nil, err
	}
	return strategy.New(kind, req.Params)
}

// warmup 拉取足够指标预热的历史 K 线，丢弃尚未收盘的最后一根。
func (l *LiveService) warmup(ctx context.Context, symbol string, tf market.Timeframe, strat strategy.Strategy) (market.Series, error) {
	if l.loader == nil {
		return nil, nil
	}
	need := l.cfg.HistoryBars
	if w := strat.Warmup() + 1; w > need {
		need = w
	}
	now := time.Now()
	end := now.UnixMilli()
	start := end - int64(need)*tf.Duration.Milliseconds()
	bars, err := l.loader.Load(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return nil, fmt.Errorf("加载预热数据失败: %w", err)
	}
	if n := len(bars); n > 0 && !tf.IsClosed(bars[n-1].OpenTimeMillis(), now) {
		bars = bars[:n-1]
	}
	return bars, nil
}

// Stop 停止当前会话；没有会话时返回 ErrNoSession。
func (l *LiveService) Stop() (SessionStatus, error) {
	if l == nil {
		return SessionStatus{}, ErrNoSession
	}
	l.mu.Lock()
	sess := l.current
	l.mu.Unlock()
	if sess == nil {
		return SessionStatus{}, ErrNoSession
	}
	sess.Stop()
	return sess.Status(), nil
}

// Current 返回当前（可能已停止的）会话。
func (l *LiveService) Current() *Session {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Metrics 基于当前会话已记录的订单计算指标。
func (l *LiveService) Metrics() (metrics.Metrics, SessionStatus, error) {
	sess := l.Current()
	if sess == nil {
		return metrics.Metrics{}, SessionStatus{}, ErrNoSession
	}
	return sess.Metrics(), sess.Status(), nil
}

// Close 在进程退出时停止会话。
func (l *LiveService) Close() {
	if sess := l.Current(); sess != nil {
		sess.Stop()
	}
}
