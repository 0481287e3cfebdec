package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Results.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if d.MinBars <= 0 {
		return fmt.Errorf("data.min_bars must be > 0")
	}
	if d.MaxBatch <= 0 || d.MaxBatch > 1500 {
		return fmt.Errorf("data.max_batch must be within (0,1500]")
	}
	switch strings.ToLower(strings.TrimSpace(d.Exchange)) {
	case "binance":
	case "csv":
		if strings.TrimSpace(d.CSVDir) == "" {
			return fmt.Errorf("data.csv_dir 不能为空（exchange=csv）")
		}
	default:
		return fmt.Errorf("data.exchange 不支持: %s", d.Exchange)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.Commission < 0 || b.Commission >= 1 {
		return fmt.Errorf("backtest.commission must be within [0,1)")
	}
	if b.Slippage < 0 || b.Slippage >= 1 {
		return fmt.Errorf("backtest.slippage must be within [0,1)")
	}
	if b.RiskPercent <= 0 || b.RiskPercent > 100 {
		return fmt.Errorf("backtest.risk_percent must be within (0,100]")
	}
	return nil
}

func (r *ResultsConfig) validate() error {
	switch r.Backend {
	case "json":
		if strings.TrimSpace(r.Dir) == "" {
			return fmt.Errorf("results.dir 不能为空")
		}
	case "sqlite":
		if strings.TrimSpace(r.DSN) == "" {
			return fmt.Errorf("results.dsn 不能为空")
		}
	default:
		return fmt.Errorf("results.backend 仅支持 json/sqlite，当前=%s", r.Backend)
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if len(l.Symbols) == 0 {
		return fmt.Errorf("live.symbols requires at least one symbol")
	}
	if l.QueueSize <= 0 {
		return fmt.Errorf("live.queue_size must be > 0")
	}
	if l.HistoryBars < 0 {
		return fmt.Errorf("live.history_bars must be >= 0")
	}
	return nil
}
