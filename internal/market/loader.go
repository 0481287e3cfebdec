package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradelab/internal/logger"
	"tradelab/internal/pkg/circuit"

	"golang.org/x/time/rate"
)

// LoaderConfig 配置 Loader。
type LoaderConfig struct {
	Cache           *CandleCache
	Source          Source
	RateLimitPerMin int
	MaxBatch        int
}

// Loader 先查本地缓存，按缺口向数据源补齐，再从缓存返回完整区间。
type Loader struct {
	cache    *CandleCache
	source   Source
	limiter  *rate.Limiter
	breaker  *circuit.Breaker
	maxBatch int
}

func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache 不能为空")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Loader{
		cache:    cfg.Cache,
		source:   cfg.Source,
		limiter:  rate.NewLimiter(perSec, 1),
		breaker:  circuit.New(cfg.Source.Name(), 5, 30*time.Second),
		maxBatch: maxBatch,
	}, nil
}

// Load 返回 symbol@interval 在 [start,end]（毫秒）内的 K 线。
func (l *Loader) Load(ctx context.Context, symbol, interval string, start, end int64) (Series, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(interval)
	if err != nil {
		return nil, err
	}
	start, end = tf.AlignRange(start, end)
	report, err := l.cache.CheckIntegrity(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("检查缓存失败: %w", err)
	}
	if !report.Complete() {
		logger.Infof("[market] %s %s 缺口=%d，从 %s 补齐", symbol, tf.Key, len(report.Gaps), l.source.Name())
		if err := l.fill(ctx, symbol, tf, report.Gaps); err != nil {
			return nil, err
		}
	}
	return l.cache.Range(ctx, symbol, tf.Key, start, end)
}

func (l *Loader) fill(ctx context.Context, symbol string, tf Timeframe, gaps []Gap) error {
	step := tf.millis()
	for _, gap := range gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
			want := int((gap.To-cursor)/step) + 1
			if want > l.maxBatch {
				want = l.maxBatch
			}
			var data Series
			err := l.breaker.Do(func() error {
				var ferr error
				data, ferr = l.source.Fetch(ctx, FetchRequest{
					Symbol:   symbol,
					Interval: tf.Key,
					Start:    cursor,
					End:      gap.To,
					Limit:    want,
				})
				return ferr
			})
			if err != nil {
				return fmt.Errorf("%s 拉取失败: %w", l.source.Name(), err)
			}
			if len(data) == 0 {
				logger.Warnf("[market] %s %s 区间 [%d,%d] 拉取为空", symbol, tf.Key, cursor, gap.To)
				break
			}
			if _, err := l.cache.Put(ctx, symbol, tf.Key, data); err != nil {
				return fmt.Errorf("写入缓存失败: %w", err)
			}
			cursor = data[len(data)-1].OpenTimeMillis() + step
		}
	}
	return nil
}
