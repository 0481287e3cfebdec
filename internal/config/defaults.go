package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultHTTPAddr        = ":9991"
	defaultDataCacheDir    = "data/candles"
	defaultDataMinBars     = 500
	defaultDataExchange    = "binance"
	defaultDataREST        = "https://fapi.binance.com"
	defaultDataRatePerMin  = 600
	defaultDataMaxBatch    = 1000
	defaultInitialCapital  = 10000
	defaultCommission      = 0.001
	defaultSlippage        = 0.005
	defaultRiskPercent     = 1.0
	defaultResultsBackend  = "json"
	defaultResultsDir      = "data/results"
	defaultResultsDSN      = "data/results.db"
	defaultLiveInterval    = "15m"
	defaultLiveStrategy    = "stochmr"
	defaultLiveQueueSize   = 256
	defaultLiveHistoryBars = 250
	defaultPresetsPath     = "configs/presets.yaml"
)

// applyDefaults 为所有子配置应用默认值；文件中显式出现的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Results.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Presets.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr))
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.cache_dir", &d.CacheDir, defaultDataCacheDir),
		stringFieldDefault("data.exchange", &d.Exchange, defaultDataExchange),
		stringFieldDefault("data.rest_base_url", &d.RESTBaseURL, defaultDataREST),
		intFieldDefault("data.min_bars", &d.MinBars, defaultDataMinBars),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultDataRatePerMin),
		intFieldDefault("data.max_batch", &d.MaxBatch, defaultDataMaxBatch),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		floatFieldDefault("backtest.commission", &b.Commission, defaultCommission),
		floatFieldDefault("backtest.slippage", &b.Slippage, defaultSlippage),
		floatFieldDefault("backtest.risk_percent", &b.RiskPercent, defaultRiskPercent),
		boolFieldDefault("backtest.store_candles", &b.StoreCandles, true),
	)
}

func (r *ResultsConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("results.backend", &r.Backend, defaultResultsBackend),
		stringFieldDefault("results.dir", &r.Dir, defaultResultsDir),
		stringFieldDefault("results.dsn", &r.DSN, defaultResultsDSN),
	)
	r.Backend = strings.ToLower(strings.TrimSpace(r.Backend))
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("live.interval", &l.Interval, defaultLiveInterval),
		stringFieldDefault("live.strategy", &l.Strategy, defaultLiveStrategy),
		intFieldDefault("live.queue_size", &l.QueueSize, defaultLiveQueueSize),
		intFieldDefault("live.history_bars", &l.HistoryBars, defaultLiveHistoryBars),
		fieldDefault{
			key:   "live.symbols",
			need:  func() bool { return len(l.Symbols) == 0 },
			apply: func() { l.Symbols = []string{"BTCUSDT"} },
		},
	)
	for i, sym := range l.Symbols {
		l.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
}

func (p *PresetsConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("presets.path", &p.Path, defaultPresetsPath))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}
