package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

const (
	activeDir   = "active"
	archivedDir = "archived"
)

// FileStore 每条结果一个 JSON 文件：<root>/active 与 <root>/archived 两个互斥目录，
// 文件名 simulation_<timestamp>.json。
type FileStore struct {
	root string
	mu   sync.Mutex
	now  func() int64
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("results dir 不能为空")
	}
	for _, dir := range []string{activeDir, archivedDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{root: root, now: nowID}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(dir string, id int64) string {
	return filepath.Join(s.root, dir, fmt.Sprintf("simulation_%d.json", id))
}

// locate 返回 id 所在目录。
func (s *FileStore) locate(id int64) (string, error) {
	for _, dir := range []string{activeDir, archivedDir} {
		if _, err := os.Stat(s.path(dir, id)); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", ErrNotFound
}

func (s *FileStore) Save(ctx context.Context, rec Record) (Record, error) {
	if s == nil {
		return Record{}, fmt.Errorf("file store 未初始化")
	}
	rec = prepare(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.now()
	for {
		if _, err := s.locate(id); errors.Is(err, ErrNotFound) {
			break
		} else if err != nil {
			return Record{}, err
		}
		id++
	}
	rec.Timestamp = id
	if err := s.write(activeDir, rec); err != nil {
		return Record{}, err
	}
	resultLog.Infof("保存结果 %d (%s)", id, rec.Symbol())
	return rec, nil
}

// write 先写临时文件再 rename，避免读到半个文件。
func (s *FileStore) write(dir string, rec Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result %d: %w", rec.Timestamp, err)
	}
	dst := s.path(dir, rec.Timestamp)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *FileStore) read(dir string, id int64) (Record, error) {
	raw, err := os.ReadFile(s.path(dir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode result %d: %w", id, err)
	}
	rec.Archived = dir == archivedDir
	return rec, nil
}

func (s *FileStore) Get(ctx context.Context, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.locate(id)
	if err != nil {
		return Record{}, err
	}
	return s.read(dir, id)
}

// List 用 gjson 只取排序字段，排序分页后再完整解码当前页。
func (s *FileStore) List(ctx context.Context, q ListQuery) ([]Record, int, error) {
	q = q.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	dirs := []string{activeDir}
	if q.IncludeArchived {
		dirs = append(dirs, archivedDir)
	}
	var keys []sortKey
	for _, dir := range dirs {
		ks, err := s.scan(dir)
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, ks...)
	}
	sortKeys(keys, q.SortBy, q.SortOrder)
	out := make([]Record, 0, q.PerPage)
	for _, k := range page(keys, q) {
		dir := activeDir
		if k.Archived {
			dir = archivedDir
		}
		rec, err := s.read(dir, k.Timestamp)
		if err != nil {
			return nil, 0, err
		}
		rec.Candles = nil
		out = append(out, rec)
	}
	return out, len(keys), nil
}

func (s *FileStore) scan(dir string) ([]sortKey, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, err
	}
	keys := make([]sortKey, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "simulation_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "simulation_"), ".json"), 10, 64)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, dir, name))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(raw) {
			resultLog.Warnf("跳过损坏的结果文件 %s", name)
			continue
		}
		fields := gjson.GetManyBytes(raw, "name", "params.symbol", "equity.initial", "final_value")
		keys = append(keys, sortKey{
			Timestamp: id,
			Name:      fields[0].String(),
			Symbol:    fields[1].String(),
			Profit:    profitRatio(fields[2].Float(), fields[3].Float()),
			Archived:  dir == archivedDir,
		})
	}
	return keys, nil
}

func (s *FileStore) Update(ctx context.Context, id int64, name, notes *string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.locate(id)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.read(dir, id)
	if err != nil {
		return Record{}, err
	}
	if name != nil {
		rec.Name = *name
	}
	if notes != nil {
		rec.Notes = *notes
	}
	if err := s.write(dir, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Archive(ctx context.Context, id int64) error {
	return s.move(id, activeDir, archivedDir)
}

func (s *FileStore) Unarchive(ctx context.Context, id int64) error {
	return s.move(id, archivedDir, activeDir)
}

// move 把文件从 from 移到 to 并更新 archived 标记。
func (s *FileStore) move(id int64, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(from, id)
	if err != nil {
		return err
	}
	rec.Archived = to == archivedDir
	if err := s.write(to, rec); err != nil {
		return err
	}
	if err := os.Remove(s.path(from, id)); err != nil {
		return fmt.Errorf("move result %d: %w", id, err)
	}
	resultLog.Infof("结果 %d: %s → %s", id, from, to)
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.locate(id)
	if err != nil {
		return err
	}
	return os.Remove(s.path(dir, id))
}

// DeleteAll 删除两个目录下的全部结果，返回删除数。
func (s *FileStore) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, dir := range []string{activeDir, archivedDir} {
		matches, err := filepath.Glob(filepath.Join(s.root, dir, "simulation_*.json"))
		if err != nil {
			return count, err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				return count, err
			}
			count++
		}
	}
	resultLog.Infof("删除全部结果，共 %d 条", count)
	return count, nil
}
