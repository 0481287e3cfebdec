package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CSVSource 从目录读取 {SYMBOL}_{interval}.csv，实现离线 Source。
type CSVSource struct {
	dir string

	mu    sync.Mutex
	files map[string]Series
}

func NewCSVSource(dir string) (*CSVSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("csv 目录不能为空")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv 目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", dir)
	}
	return &CSVSource{dir: dir, files: make(map[string]Series)}, nil
}

func (s *CSVSource) Name() string { return "csv" }

// Fetch 返回 [Start,End] 内的 K 线，Limit>0 时截取前 Limit 根。
func (s *CSVSource) Fetch(ctx context.Context, req FetchRequest) (Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.series(req.Symbol, req.Interval)
	if err != nil {
		return nil, err
	}
	var out Series
	for _, b := range all {
		ms := b.OpenTimeMillis()
		if ms < req.Start || (req.End > 0 && ms > req.End) {
			continue
		}
		out = append(out, b)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func (s *CSVSource) series(symbol, interval string) (Series, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol)) + "_" + strings.TrimSpace(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.files[key]; ok {
		return cached, nil
	}
	path := filepath.Join(s.dir, key+".csv")
	bars, err := LoadCSVFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &InputDataError{Reason: fmt.Sprintf("缺少数据文件 %s", path)}
	}
	if err != nil {
		return nil, err
	}
	s.files[key] = bars
	return bars, nil
}
