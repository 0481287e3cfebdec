package backtest

import (
	"sync"

	"tradelab/internal/ledger"
	"tradelab/internal/market"
)

// Envelope 是实时推送的一条消息，只有一个键非空，订阅方按键区分。
type Envelope struct {
	Bar        *market.Bar   `json:"bar,omitempty"`
	Strategy   *ledger.Event `json:"strategy,omitempty"`
	Historical market.Series `json:"historical,omitempty"`
}

// Hub 把会话消息广播给所有订阅者。慢订阅者的消息会被丢弃，不阻塞消费循环。
type Hub struct {
	buffer int

	mu         sync.RWMutex
	subs       map[int]chan Envelope
	next       int
	historical market.Series
	dropped    int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, subs: make(map[int]chan Envelope)}
}

// Subscribe 返回消息 channel 与取消函数。已有历史数据时先推送历史块。
func (h *Hub) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, h.buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	if len(h.historical) > 0 {
		ch <- Envelope{Historical: h.historical}
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
			h.mu.Unlock()
		})
	}
}

// PublishHistorical 缓存并广播历史块。
func (h *Hub) PublishHistorical(bars market.Series) {
	chunk := append(market.Series(nil), bars...)
	h.mu.Lock()
	h.historical = chunk
	h.mu.Unlock()
	h.Publish(Envelope{Historical: chunk})
}

func (h *Hub) PublishBar(bar market.Bar) {
	b := bar
	h.Publish(Envelope{Bar: &b})
}

func (h *Hub) PublishEvent(ev ledger.Event) {
	e := ev
	h.Publish(Envelope{Strategy: &e})
}

func (h *Hub) Publish(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			h.dropped++
		}
	}
}

// Subscribers 返回当前订阅数。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 返回因订阅者过慢被丢弃的消息数。
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Reset 清空历史块并关闭全部订阅（会话结束时调用）。
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.historical = nil
}
