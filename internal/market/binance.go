package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradelab/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
)

const maxBinanceLimit = 1500

// BinanceConfig 配置 REST 地址与超时。
type BinanceConfig struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	c.RESTBaseURL = strings.TrimSpace(c.RESTBaseURL)
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// Binance 基于 go-binance USDT 合约 SDK，同时实现 Source 与 Feed。
type Binance struct {
	cfg    BinanceConfig
	client *futures.Client

	mu     sync.Mutex
	cancel context.CancelFunc

	statsMu sync.Mutex
	stats   FeedStats
}

func NewBinance(cfg BinanceConfig) *Binance {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Binance{cfg: final, client: client}
}

func (b *Binance) Name() string { return "binance" }

// Fetch 拉取 [Start,End] 区间 K 线，未收盘的最后一根会被丢弃。
func (b *Binance) Fetch(ctx context.Context, req FetchRequest) (Series, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxBinanceLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}
	out := make(Series, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Bar{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	if tf, err := ParseTimeframe(interval); err == nil && len(out) > 0 {
		if last := out[len(out)-1]; !tf.IsClosed(last.OpenTimeMillis(), time.Now()) {
			out = out[:len(out)-1]
		}
	}
	return out, nil
}

// Subscribe 订阅 K 线 websocket，断线后指数退避重连，直到 ctx 取消。
func (b *Binance) Subscribe(ctx context.Context, symbols []string, interval string, opts SubscribeOptions) (<-chan FeedEvent, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	mapping := make(map[string][]string)
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			mapping[sym] = []string{interval}
		}
	}
	if len(mapping) == 0 || interval == "" {
		return nil, fmt.Errorf("no valid symbols or interval for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan FeedEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.mu.Unlock()

	go func() {
		defer close(out)
		b.runKlineLoop(subCtx, mapping, out, opts)
	}()
	return out, nil
}

// Close 停止当前订阅。
func (b *Binance) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

func (b *Binance) Stats() FeedStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Binance) runKlineLoop(ctx context.Context, mapping map[string][]string, out chan<- FeedEvent, opts SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsKlineEvent) {
			ev, ok := convertKlineEvent(event)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
			case out <- ev:
			default:
				logger.Warnf("[market] kline channel full, drop %s %s", ev.Symbol, ev.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsCombinedKlineServeMultiInterval(mapping, handler, errHandler)
		if err != nil {
			b.recordError(err, false)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		b.recordError(errCopy, true)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (b *Binance) recordError(err error, reconnect bool) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	if reconnect {
		b.stats.Reconnects++
	} else {
		b.stats.SubscribeErrors++
	}
	if err != nil {
		b.stats.LastError = err.Error()
	}
}

func convertKlineEvent(ev *futures.WsKlineEvent) (FeedEvent, bool) {
	if ev == nil {
		return FeedEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(ev.Kline.Interval))
	if symbol == "" || interval == "" {
		return FeedEvent{}, false
	}
	return FeedEvent{
		Symbol:   symbol,
		Interval: interval,
		Final:    ev.Kline.IsFinal,
		Bar: Bar{
			Time:   time.UnixMilli(ev.Kline.StartTime).UTC(),
			Open:   parseFloat(ev.Kline.Open),
			High:   parseFloat(ev.Kline.High),
			Low:    parseFloat(ev.Kline.Low),
			Close:  parseFloat(ev.Kline.Close),
			Volume: parseFloat(ev.Kline.Volume),
		},
	}, true
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	if next := current * 2; next < 30*time.Second {
		return next
	}
	return 30 * time.Second
}
