package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradelab/internal/indicator"
	"tradelab/internal/ledger"
	"tradelab/internal/logger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"
	"tradelab/internal/pkg/symbol"
	"tradelab/internal/strategy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var liveLog = logger.Tagged("live")

// ErrSessionStopped 表示会话已停止，不再接收 K 线。
var ErrSessionStopped = errors.New("live session stopped")

// ResettableProvider 是可在追加 K 线后重算的 Provider（实时模式需要）。
type ResettableProvider interface {
	indicator.Provider
	Reset(bars market.Series)
}

// SessionConfig 描述一个实时模拟盘会话。
type SessionConfig struct {
	Symbol      string
	Interval    string
	Strategy    strategy.Strategy
	Ledger      ledger.Config
	// History 是预热 K 线，只用于指标上下文，不触发交易。
	History     market.Series
	// HistoryBars 是推送给订阅者的历史块长度。
	HistoryBars int
	QueueSize   int
	// MaxBars 限制内存中保留的 K 线数，0 表示 History 长度的两倍（至少 1000）。
	MaxBars     int
}

// SessionStatus 是会话对外可见的状态。
type SessionStatus struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Strategy  strategy.Kind   `json:"strategy"`
	Running   bool            `json:"running"`
	StartedAt time.Time       `json:"started_at"`
	Bars      int             `json:"bars"`
	Orders    int             `json:"orders"`
	Position  ledger.Position `json:"position"`
	Err       string          `json:"error,omitempty"`
}

// Session 是单个实时会话：feed goroutine → 有界队列 → 单消费者。
// 策略与 ledger 只在消费者 goroutine 中被修改。
type Session struct {
	id      string
	cfg     SessionConfig
	feed    market.Feed
	hub     *Hub
	started time.Time

	provider ResettableProvider
	queue    chan market.Bar
	stopped  atomic.Bool
	launched atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	feedDone chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	eng     *engine
	history market.Series
	seq     int
	err     error
}

// NewSession 校验配置并用预热数据初始化指标。
func NewSession(cfg SessionConfig, feed market.Feed, hub *Hub, providers func(market.Series, []indicator.Spec) (ResettableProvider, error)) (*Session, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if feed == nil {
		return nil, fmt.Errorf("feed 不能为空")
	}
	if hub == nil {
		hub = NewHub(0)
	}
	cfg.Symbol = symbol.Normalize(cfg.Symbol)
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = 2 * len(cfg.History)
		if cfg.MaxBars < 1000 {
			cfg.MaxBars = 1000
		}
	}
	if err := cfg.History.Validate(); err != nil {
		return nil, err
	}
	if providers == nil {
		providers = func(bars market.Series, specs []indicator.Spec) (ResettableProvider, error) {
			return indicator.NewTalib(bars, specs)
		}
	}
	history := append(market.Series(nil), cfg.History...)
	provider, err := providers(history, cfg.Strategy.Indicators())
	if err != nil {
		return nil, fmt.Errorf("指标初始化失败: %w", err)
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		feed:     feed,
		hub:      hub,
		provider: provider,
		queue:    make(chan market.Bar, cfg.QueueSize),
		feedDone: make(chan struct{}),
		done:     make(chan struct{}),
		history:  history,
	}
	s.eng = newEngine(cfg.Strategy, cfg.Ledger, ledger.WithObserver(hub.PublishEvent))
	return s, nil
}

func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Start 推送历史块并启动 feed 与消费者，立即返回。
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("session 未初始化")
	}
	if s.stopped.Load() {
		return ErrSessionStopped
	}
	if !s.launched.CompareAndSwap(false, true) {
		return fmt.Errorf("会话 %s 已启动", s.id)
	}
	runCtx, cancel := context.WithCancel(ctx)
	events, err := s.feed.Subscribe(runCtx, []string{s.cfg.Symbol}, s.cfg.Interval, market.SubscribeOptions{
		Buffer:       s.cfg.QueueSize,
		OnConnect:    func() { liveLog.Infof("%s %s 已连接", s.cfg.Symbol, s.cfg.Interval) },
		OnDisconnect: func(err error) { liveLog.Warnf("%s 断开: %v", s.cfg.Symbol, err) },
	})
	if err != nil {
		cancel()
		s.stopped.Store(true)
		close(s.done)
		return fmt.Errorf("订阅失败: %w", err)
	}
	s.mu.Lock()
	s.cancel = cancel
	s.started = time.Now()
	s.mu.Unlock()
	s.hub.PublishHistorical(s.history.Tail(s.cfg.HistoryBars))
	liveLog.Infof("会话 %s 启动：%s %s 策略=%s 预热=%d", s.id, s.cfg.Symbol, s.cfg.Interval, s.cfg.Strategy.Kind(), len(s.history))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.pump(gctx, events) })
	g.Go(func() error { return s.consume(gctx) })
	go func() {
		defer close(s.done)
		defer cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			liveLog.Errorf("会话 %s 异常结束: %v", s.id, err)
		}
		s.stopped.Store(true)
	}()
	return nil
}

// pump 把收盘 K 线放入有界队列；未收盘的增量只推给订阅者。
// 队列不关闭，feed 结束时通过 feedDone 通知消费者。
func (s *Session) pump(ctx context.Context, events <-chan market.FeedEvent) error {
	defer close(s.feedDone)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.hub.PublishBar(ev.Bar)
			if !ev.Final {
				continue
			}
			if err := s.enqueue(ctx, ev.Bar); err != nil {
				if errors.Is(err, ErrSessionStopped) {
					return nil
				}
				return err
			}
		}
	}
}

// enqueue 把一根收盘 K 线交给消费者；队列满时阻塞直到有空位、会话结束或 ctx 结束。
func (s *Session) enqueue(ctx context.Context, bar market.Bar) error {
	if s.stopped.Load() {
		return ErrSessionStopped
	}
	select {
	case <-s.done:
		return ErrSessionStopped
	case s.queue <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bar := <-s.queue:
			if s.stopped.Load() {
				return nil
			}
			if err := s.apply(bar); err != nil {
				return err
			}
		case <-s.feedDone:
			return s.drain()
		}
	}
}

// drain 在 feed 结束后处理队列中剩余的 K 线。
func (s *Session) drain() error {
	for {
		select {
		case bar := <-s.queue:
			if s.stopped.Load() {
				return nil
			}
			if err := s.apply(bar); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) apply(bar market.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 && !bar.Time.After(s.history[n-1].Time) {
		liveLog.Debugf("忽略过期 K 线 %s", bar.Time.Format(time.RFC3339))
		return nil
	}
	s.history = append(s.history, bar)
	if len(s.history) > s.cfg.MaxBars {
		s.history = append(market.Series(nil), s.history[len(s.history)-s.cfg.MaxBars:]...)
	}
	s.provider.Reset(s.history)
	if err := s.eng.step(s.seq, s.history, s.provider); err != nil {
		return fmt.Errorf("live step failed: %w", err)
	}
	s.seq++
	return nil
}

// Stop 停止接收新 K 线并结束 feed 与消费者，已记录的订单保留。
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if !s.launched.Load() {
			return
		}
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-s.done
		liveLog.Infof("会话 %s 已停止", s.id)
	})
}

// Done 在会话结束后关闭。
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Running 表示会话仍在接收 K 线。
func (s *Session) Running() bool {
	return s != nil && s.launched.Load() && !s.stopped.Load()
}

// Orders 返回订单副本。
func (s *Session) Orders() []ledger.ExecutedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.book.Orders()
}

// Metrics 在锁内复制订单与权益后计算指标。
func (s *Session) Metrics() metrics.Metrics {
	s.mu.Lock()
	orders := s.eng.book.Orders()
	initial := s.eng.book.InitialCapital()
	final := s.eng.book.FinalValue()
	s.mu.Unlock()
	return metrics.Compute(orders, initial, final)
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStatus{
		ID:        s.id,
		Symbol:    s.cfg.Symbol,
		Interval:  s.cfg.Interval,
		Strategy:  s.cfg.Strategy.Kind(),
		Running:   s.launched.Load() && !s.stopped.Load(),
		StartedAt: s.started,
		Bars:      s.seq,
		Orders:    len(s.eng.book.Orders()),
		Position:  s.eng.book.Position(),
	}
	if s.err != nil {
		st.Err = s.err.Error()
	}
	return st
}
