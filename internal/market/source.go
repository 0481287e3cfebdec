package market

import "context"

// FetchRequest 描述一次远端历史 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64// Unix ms
	End      int64// Unix ms（可选；0 表示不限制）
	Limit    int
}

// Source 统一不同交易所/数据源的历史拉取行为。
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) (Series, error)
	Name() string
}

// FeedEvent 是实时推送的一根 K 线；Final=false 表示尚未收盘的增量更新。
type FeedEvent struct {
	Symbol   string
	Interval string
	Bar      Bar
	Final    bool
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

// Feed 提供实时 K 线订阅；ctx 取消后输出 channel 被关闭。
type Feed interface {
	Subscribe(ctx context.Context, symbols []string, interval string, opts SubscribeOptions) (<-chan FeedEvent, error)
}

type FeedStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}
