package config

import "strings"

// Config 是 tradelab 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	HTTP     HTTPConfig     `toml:"http"`
	Data     DataConfig     `toml:"data"`
	Backtest BacktestConfig `toml:"backtest"`
	Results  ResultsConfig  `toml:"results"`
	Live     LiveConfig     `toml:"live"`
	Presets  PresetsConfig  `toml:"presets"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	LogFormat string `toml:"log_format"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// DataConfig 控制历史 K 线的来源与本地缓存。
type DataConfig struct {
	CacheDir        string `toml:"cache_dir"`
	MinBars         int    `toml:"min_bars"`
	Exchange        string `toml:"exchange"`
	RESTBaseURL     string `toml:"rest_base_url"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	// CSVDir 在 exchange=csv 时存放 {SYMBOL}_{interval}.csv。
	CSVDir          string `toml:"csv_dir"`
}

// BacktestConfig 为 /api/simulate 未显式给出的字段提供默认值。
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	Commission     float64 `toml:"commission"`
	Slippage       float64 `toml:"slippage"`
	RiskPercent    float64 `toml:"risk_percent"`
	StoreCandles   bool    `toml:"store_candles"`
}

// ResultsConfig 选择结果存储后端：json 文件目录或 sqlite。
type ResultsConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	DSN     string `toml:"dsn"`
}

type LiveConfig struct {
	Enabled     bool     `toml:"enabled"`
	Symbols     []string `toml:"symbols"`
	Interval    string   `toml:"interval"`
	Strategy    string   `toml:"strategy"`
	QueueSize   int      `toml:"queue_size"`
	HistoryBars int      `toml:"history_bars"`
}

// PresetsConfig 指向策略参数预设文件，watch=true 时热加载。
type PresetsConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// keySet 记录配置文件中显式出现过的键（小写、点分）。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
