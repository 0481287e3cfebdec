package app

import (
	"fmt"
	"strings"

	"tradelab/internal/config"
	"tradelab/internal/logger"
	"tradelab/internal/market"
)

// DataStack 汇总历史数据与实时行情依赖。
type DataStack struct {
	Cache   *market.CandleCache
	Source  market.Source
	Loader  *market.Loader
	Binance *market.Binance
}

// Feed 返回实时行情；实时订阅固定走 Binance。
func (d *DataStack) Feed() market.Feed {
	if d == nil || d.Binance == nil {
		return nil
	}
	return d.Binance
}

func (d *DataStack) Close() {
	if d == nil {
		return
	}
	if d.Binance != nil {
		_ = d.Binance.Close()
	}
	if d.Cache != nil {
		_ = d.Cache.Close()
	}
}

func buildDataStack(cfg config.DataConfig) (*DataStack, error) {
	cache, err := market.NewCandleCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	stack := &DataStack{
		Cache:   cache,
		Binance: market.NewBinance(market.BinanceConfig{RESTBaseURL: cfg.RESTBaseURL}),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Exchange)) {
	case "csv":
		src, err := market.NewCSVSource(cfg.CSVDir)
		if err != nil {
			stack.Close()
			return nil, err
		}
		stack.Source = src
	default:
		stack.Source = stack.Binance
	}
	loader, err := market.NewLoader(market.LoaderConfig{
		Cache:           cache,
		Source:          stack.Source,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxBatch:        cfg.MaxBatch,
	})
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.Loader = loader
	logger.Infof("✓ 历史数据源: %s，缓存目录: %s", stack.Source.Name(), cfg.CacheDir)
	return stack, nil
}
