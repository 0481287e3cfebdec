package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradelab/internal/logger"
	"tradelab/internal/market"
	"tradelab/internal/pkg/symbol"

	"github.com/google/uuid"
)

// HistoryLoader 返回 symbol@interval 在 [start,end]（毫秒）内的 K 线，缺口由实现补齐。
type HistoryLoader interface {
	Load(ctx context.Context, symbol, interval string, start, end int64) (market.Series, error)
}

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// FetchParams 描述一次历史 K 线拉取。
type FetchParams struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// FetchJob 是异步拉取任务的状态快照。
type FetchJob struct {
	ID         string      `json:"id"`
	Status     JobStatus   `json:"status"`
	Params     FetchParams `json:"params"`
	Expected   int64       `json:"expected"`
	Bars       int         `json:"bars"`
	Message    string      `json:"message,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// FetchService 以受限并发在后台执行拉取任务，任务状态保存在内存中。
type FetchService struct {
	loader HistoryLoader
	sem    chan struct{}

	mu      sync.RWMutex
	jobs    map[string]*FetchJob
	baseCtx context.Context
}

func NewFetchService(loader HistoryLoader, maxConcurrent int) (*FetchService, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader 不能为空")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &FetchService{
		loader:  loader,
		sem:     make(chan struct{}, maxConcurrent),
		jobs:    make(map[string]*FetchJob),
		baseCtx: context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *FetchService) SetContext(ctx context.Context) {
	if s != nil && ctx != nil {
		s.baseCtx = ctx
	}
}

// Submit 校验参数、登记任务并在后台拉取。
func (s *FetchService) Submit(params FetchParams) (FetchJob, error) {
	if s == nil {
		return FetchJob{}, fmt.Errorf("fetch service 未初始化")
	}
	params.Symbol = symbol.Normalize(params.Symbol)
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := market.ParseTimeframe(params.Interval)
	if err != nil {
		return FetchJob{}, err
	}
	params.Interval = tf.Key
	if params.End == 0 {
		params.End = time.Now().UnixMilli()
	}
	params.Start, params.End = tf.AlignRange(params.Start, params.End)
	if params.Start == params.End {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Expected:  tf.ExpectedBars(params.Start, params.End),
		StartedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[backtest] 任务 %s 提交：%s %s [%d,%d] 预计=%d", job.ID, params.Symbol, params.Interval, params.Start, params.End, job.Expected)
	go s.run(job.ID, params)
	return *job, nil
}

func (s *FetchService) run(id string, params FetchParams) {
	ctx := s.baseCtx
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finish(id, 0, fmt.Errorf("服务已关闭"))
		return
	}
	defer func() { <-s.sem }()

	s.update(id, func(j *FetchJob) { j.Status = JobStatusRunning })
	bars, err := s.loader.Load(ctx, params.Symbol, params.Interval, params.Start, params.End)
	s.finish(id, len(bars), err)
}

func (s *FetchService) finish(id string, bars int, err error) {
	s.update(id, func(j *FetchJob) {
		now := time.Now()
		j.FinishedAt = &now
		j.Bars = bars
		if err != nil {
			j.Status = JobStatusFailed
			j.Message = err.Error()
			logger.Warnf("[backtest] 任务 %s 失败: %v", id, err)
			return
		}
		j.Status = JobStatusDone
		if int64(bars) < j.Expected {
			j.Message = fmt.Sprintf("数据源仅返回 %d/%d 根", bars, j.Expected)
		}
		logger.Infof("[backtest] 任务 %s 完成，K 线=%d", id, bars)
	})
}

func (s *FetchService) update(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = time.Now()
	}
}

// Job 返回任务快照。
func (s *FetchService) Job(id string) (FetchJob, bool) {
	if s == nil {
		return FetchJob{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return *j, true
}

// Jobs 按提交时间倒序返回全部任务。
func (s *FetchService) Jobs() []FetchJob {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out
}
