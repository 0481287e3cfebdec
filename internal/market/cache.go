package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Gap 是缓存中缺失的一段开盘时间区间（毫秒，闭区间）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 汇总某区间的缓存完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0
}

// CandleCache 按 symbol@interval 分库缓存 K 线，每个库一个 sqlite 文件。
type CandleCache struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewCandleCache(root string) (*CandleCache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("cache root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CandleCache{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (c *CandleCache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for k, db := range c.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.dbs, k)
	}
	return firstErr
}

func (c *CandleCache) db(symbol, interval string) (*sql.DB, error) {
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(interval)
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.dbs[key]; ok {
		return db, nil
	}
	path := filepath.Join(c.root, strings.ToUpper(symbol), strings.ToLower(interval)+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bars (
			open_time   INTEGER PRIMARY KEY,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			inserted_at INTEGER NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	c.dbs[key] = db
	return db, nil
}

// Put 批量写入 K 线（重复 open_time 覆盖）。
func (c *CandleCache) Put(ctx context.Context, symbol, interval string, bars Series) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, err := c.db(symbol, interval)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (open_time, open, high, low, close, volume, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    inserted_at=excluded.inserted_at`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	now := time.Now().UnixMilli()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.OpenTimeMillis(), b.Open, b.High, b.Low, b.Close, b.Volume, now); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(bars), nil
}

// Range 返回 [start,end] 内的 K 线，按时间升序。
func (c *CandleCache) Range(ctx context.Context, symbol, interval string, start, end int64) (Series, error) {
	db, err := c.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	if end < start {
		start, end = end, start
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out Series
	for rows.Next() {
		var (
			ts int64
			b  Bar
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Time = time.UnixMilli(ts).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// CheckIntegrity 对照周期网格找出 [start,end] 内缺失的区间。
func (c *CandleCache) CheckIntegrity(ctx context.Context, symbol string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	db, err := c.db(symbol, tf.Key)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Expected: tf.ExpectedBars(start, end)}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM bars WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()
	step := tf.millis()
	cursor := start
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return IntegrityReport{}, err
		}
		if ts > cursor {
			report.Gaps = append(report.Gaps, Gap{From: cursor, To: ts - step})
		}
		report.Present++
		cursor = ts + step
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, err
	}
	if cursor <= end {
		report.Gaps = append(report.Gaps, Gap{From: cursor, To: end})
	}
	return report, nil
}
