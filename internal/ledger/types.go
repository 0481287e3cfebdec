package ledger

import (
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindStop   OrderKind = "stop"
	KindLimit  OrderKind = "limit"
)

type Status string

const (
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
)

// Purpose 说明意图对仓位的作用。
type Purpose string

const (
	PurposeEntry   Purpose = "entry"
	PurposeExit    Purpose = "exit"
	PurposePartial Purpose = "partial"
	PurposeCancel  Purpose = "cancel"
)

// Bracket 描述成交后自动挂出的止损 + 止盈（OCO）。
// 止损优先取 Stop（绝对价），否则按 StopDistance 相对成交价；
// 止盈优先取 TargetDistance，否则按 TargetRR × 止损距离。
type Bracket struct {
	Stop           float64 `json:"stop,omitempty"`
	StopDistance   float64 `json:"stop_distance,omitempty"`
	TargetDistance float64 `json:"target_distance,omitempty"`
	TargetRR       float64 `json:"target_rr,omitempty"`
}

// Levels 是策略自行管理的退出阶梯，成交时记录到仓位上。
type Levels struct {
	Stop          float64 `json:"stop"`
	PartialTarget float64 `json:"partial_target"`
	FinalTarget   float64 `json:"final_target"`
}

// Intent 是策略产出的下单意图，由 Ledger 负责撮合。
// Size<=0 的退出意图表示平掉全部剩余仓位。
type Intent struct {
	Side    Side      `json:"side"`
	Kind    OrderKind `json:"kind"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Purpose Purpose   `json:"purpose"`
	Bracket *Bracket  `json:"bracket,omitempty"`
	Levels  *Levels   `json:"levels,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// ExecutedOrder 是一次订单的最终记录，创建后不可变。
// Profit 仅在平仓（含部分平仓）成交时给出。
type ExecutedOrder struct {
	Time    time.Time `json:"time"`
	Side    Side      `json:"type"`
	Kind    OrderKind `json:"kind"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Profit  *float64  `json:"profit,omitempty"`
	Fee     float64   `json:"fee"`
	Status  Status    `json:"status"`
	Purpose Purpose   `json:"purpose"`
	Reason  string    `json:"reason,omitempty"`
	Bar     int       `json:"bar"`
}

// ProfitValue 返回收益，缺失时为 0。
func (o ExecutedOrder) ProfitValue() float64 {
	if o.Profit == nil {
		return 0
	}
	return *o.Profit
}

// State 是单个策略实例的仓位状态机。
type State string

const (
	StateFlat           State = "flat"
	StateEntrySubmitted State = "entry_submitted"
	StateOpen           State = "open"
	StatePartiallyOpen  State = "partially_open"
)

// Position 由 Ledger 独占修改；策略只读取副本。
type Position struct {
	State              State   `json:"state"`
	Side               Side    `json:"side,omitempty"`
	EntryPrice         float64 `json:"entry_price"`
	Size               float64 `json:"size"`
	InitialSize        float64 `json:"initial_size"`
	StopPrice          float64 `json:"stop_price"`
	PartialTargetPrice float64 `json:"partial_target_price"`
	FinalTargetPrice   float64 `json:"final_target_price"`
	OpenedAtBar        int     `json:"opened_at_bar"`
	entryFeePerUnit    float64
}

// IsFlat 表示既无持仓也无挂单入场。
func (p Position) IsFlat() bool {
	return p.State == StateFlat || p.State == ""
}

// HasExposure 表示存在实际持仓。
func (p Position) HasExposure() bool {
	return p.State == StateOpen || p.State == StatePartiallyOpen
}

// IsLong 仅在有持仓或入场挂单时有意义。
func (p Position) IsLong() bool {
	return p.Side == SideBuy
}

// Trade 汇总一次完整的开平仓。
type Trade struct {
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	Profit     float64   `json:"profit"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	Reason     string    `json:"reason,omitempty"`
}

// EventType 区分实时推送的两类事件。
type EventType string

const (
	EventOrder EventType = "order"
	EventTrade EventType = "trade"
)

// Event 是 Ledger 对外广播的订单/成交事件。
type Event struct {
	Type  EventType      `json:"type"`
	Order *ExecutedOrder `json:"order,omitempty"`
	Trade *Trade         `json:"trade,omitempty"`
}

// EquityPoint 是每根 K 线收盘后的资金快照。
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}
