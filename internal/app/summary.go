package app

import (
	"fmt"
	"sort"
	"strings"

	"tradelab/internal/config"
	"tradelab/internal/strategy"
)

type StartupSummary struct {
	HTTPAddr string
	Data     DataSummary
	Backtest BacktestSummary
	Live     LiveSummary
	Presets  []string
}

type DataSummary struct {
	Source   string
	CacheDir string
	MinBars  int
}

type BacktestSummary struct {
	InitialCapital float64
	Commission     float64
	Slippage       float64
	ResultsBackend string
	Strategies     []string
}

type LiveSummary struct {
	Enabled  bool
	Symbols  []string
	Interval string
	Strategy string
}

func newStartupSummary(cfg *config.Config, data *DataStack, presets *strategy.PresetRegistry) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr: cfg.HTTP.Addr,
		Data: DataSummary{
			CacheDir: cfg.Data.CacheDir,
			MinBars:  cfg.Data.MinBars,
		},
		Backtest: BacktestSummary{
			InitialCapital: cfg.Backtest.InitialCapital,
			Commission:     cfg.Backtest.Commission,
			Slippage:       cfg.Backtest.Slippage,
			ResultsBackend: cfg.Results.Backend,
		},
		Live: LiveSummary{
			Enabled:  cfg.Live.Enabled,
			Symbols:  cfg.Live.Symbols,
			Interval: cfg.Live.Interval,
			Strategy: cfg.Live.Strategy,
		},
	}
	if data != nil && data.Source != nil {
		s.Data.Source = data.Source.Name()
	}
	for _, k := range strategy.Kinds() {
		s.Backtest.Strategies = append(s.Backtest.Strategies, string(k))
	}
	for _, p := range presets.List() {
		s.Presets = append(s.Presets, fmt.Sprintf("%s (%s)", p.ID, p.Kind))
	}
	sort.Strings(s.Presets)
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[HTTP]")
	fmt.Printf("  监听地址: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[K线数据 (K-LINE DATA)]")
	fmt.Printf("  数据源: %s\n", s.Data.Source)
	fmt.Printf("  缓存目录: %s\n", s.Data.CacheDir)
	fmt.Printf("  最少根数: %d\n", s.Data.MinBars)
	fmt.Println()

	fmt.Println("[回测 (BACKTEST)]")
	fmt.Printf("  初始资金: %.2f\n", s.Backtest.InitialCapital)
	fmt.Printf("  手续费/滑点: %.4f / %.4f\n", s.Backtest.Commission, s.Backtest.Slippage)
	fmt.Printf("  结果存储: %s\n", s.Backtest.ResultsBackend)
	fmt.Printf("  策略: %s\n", formatList(s.Backtest.Strategies))
	fmt.Println()

	fmt.Println("[策略预设 (PRESETS)]")
	if len(s.Presets) == 0 {
		fmt.Println("  (无)")
	}
	for _, p := range s.Presets {
		fmt.Printf("  - %s\n", p)
	}
	fmt.Println()

	fmt.Println("[实时 (LIVE)]")
	if !s.Live.Enabled {
		fmt.Println("  未自动启动（可通过 /api/live/start 启动）")
	} else {
		fmt.Printf("  币种: %s\n", formatList(s.Live.Symbols))
		fmt.Printf("  周期: %s  策略: %s\n", s.Live.Interval, s.Live.Strategy)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
