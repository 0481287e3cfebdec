package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/logger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"
)

var resultLog = logger.Tagged("results")

// ErrNotFound 表示 id 在活跃区与归档区都不存在。
var ErrNotFound = errors.New("result not found")

// Equity 是回测起止资金。
type Equity struct {
	Initial float64 `json:"initial"`
	Final   float64 `json:"final"`
}

// Record 是持久化的一次回测结果。Timestamp 同时是唯一 id。
type Record struct {
	Timestamp   int64                  `json:"timestamp"`
	Name        string                 `json:"name"`
	Notes       string                 `json:"notes"`
	Archived    bool                   `json:"archived"`
	Params      map[string]any         `json:"params"`
	Orders      []ledger.ExecutedOrder `json:"orders"`
	FinalValue  float64                `json:"final_value"`
	Metrics     metrics.Metrics        `json:"metrics"`
	Equity      Equity                 `json:"equity"`
	EquityCurve []ledger.EquityPoint   `json:"equity_curve,omitempty"`
	Candles     market.Series          `json:"candles,omitempty"`
}

// ID 返回 URL 中使用的字符串 id。
func (r Record) ID() string { return strconv.FormatInt(r.Timestamp, 10) }

// Symbol 取自 params.symbol。
func (r Record) Symbol() string {
	s, _ := r.Params["symbol"].(string)
	return s
}

// Profit 是收益率 (final-initial)/initial，initial 为 0 时返回 0。
func (r Record) Profit() float64 {
	return profitRatio(r.Equity.Initial, r.FinalValue)
}

func profitRatio(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}

// ParseID 解析 URL 中的 id。
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid result id %q: %w", raw, ErrNotFound)
	}
	return id, nil
}

const (
	SortTimestamp = "timestamp"
	SortName      = "name"
	SortSymbol    = "symbol"
	SortProfit    = "profit"
)

// ListQuery 是分页查询参数。
type ListQuery struct {
	Page            int
	PerPage         int
	IncludeArchived bool
	SortBy          string
	SortOrder       string
}

// Normalize 补全默认值：page=1、per_page=10（上限 100）、按 timestamp 倒序。
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 10
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	switch strings.ToLower(q.SortBy) {
	case SortName, SortSymbol, SortProfit:
		q.SortBy = strings.ToLower(q.SortBy)
	default:
		q.SortBy = SortTimestamp
	}
	if strings.EqualFold(q.SortOrder, "asc") {
		q.SortOrder = "asc"
	} else {
		q.SortOrder = "desc"
	}
	return q
}

// TotalPages 返回总页数。
func (q ListQuery) TotalPages(total int) int {
	q = q.Normalize()
	return (total + q.PerPage - 1) / q.PerPage
}

// Store 是结果存储契约。活跃区与归档区互斥，归档/取消归档是移动而不是复制。
type Store interface {
	Save(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	// List 返回当前页（不含 candles）与总数。
	List(ctx context.Context, q ListQuery) ([]Record, int, error)
	Update(ctx context.Context, id int64, name, notes *string) (Record, error)
	Archive(ctx context.Context, id int64) error
	Unarchive(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int, error)
	Close() error
}

// sortKey 是排序所需的最小字段集，两种后端都先只读它再加载当前页。
type sortKey struct {
	Timestamp int64
	Name      string
	Symbol    string
	Profit    float64
	Archived  bool
}

func sortKeys(keys []sortKey, by, order string) {
	desc := order != "asc"
	less := func(a, b sortKey) bool {
		switch by {
		case SortName:
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an != bn {
				return an < bn
			}
		case SortSymbol:
			if a.Symbol != b.Symbol {
				return a.Symbol < b.Symbol
			}
		case SortProfit:
			if a.Profit != b.Profit {
				return a.Profit < b.Profit
			}
		}
		return a.Timestamp < b.Timestamp
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if desc {
			return less(keys[j], keys[i])
		}
		return less(keys[i], keys[j])
	})
}

// page 对已排序的 key 做切片。
func page(keys []sortKey, q ListQuery) []sortKey {
	start := (q.Page - 1) * q.PerPage
	if start >= len(keys) {
		return nil
	}
	end := start + q.PerPage
	if end > len(keys) {
		end = len(keys)
	}
	return keys[start:end]
}

// prepare 补全保存前的派生字段。
func prepare(rec Record) Record {
	if rec.Params == nil {
		rec.Params = map[string]any{}
	}
	if rec.Equity.Initial == 0 {
		if v, ok := rec.Params["initial_capital"].(float64); ok {
			rec.Equity.Initial = v
		}
	}
	rec.Equity.Final = rec.FinalValue
	rec.Archived = false
	return rec
}

func nowID() int64 { return time.Now().Unix() }
