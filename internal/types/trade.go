package types

import "time"

// TradeSide 区分建仓腿与平仓腿。
type TradeSide string

const (
	TradeSideEntry TradeSide = "entry"
	TradeSideExit  TradeSide = "exit"
)

// TradeAction 是订单方向。多头策略建仓为 buy、平仓为 sell；
// 卖方策略（covered call 等）相反。
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
)

// Trade 是不可变的成交台账行：每次券商交互一行，创建后永不更新。
// 修正通过新增冲销行表达，不允许原地改写。
type Trade struct {
	ID           int64  `json:"id"`
	PositionID   int64  `json:"position_id"`
	UserID       int64  `json:"user_id"`
	AutomationID *int64 `json:"automation_id,omitempty"`

	Symbol         string      `json:"symbol"`
	ContractSymbol string      `json:"contract_symbol"`
	Side           TradeSide   `json:"side"`
	Action         TradeAction `json:"action"`

	Quantity int `json:"quantity"`
	// Price 为单张权利金成交价（未乘 100）。
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`

	BrokerOrderID string `json:"broker_order_id"`
	// EntryTradeID 把平仓腿回链到对应的建仓腿。
	EntryTradeID *int64 `json:"entry_trade_id,omitempty"`
	// TraceID 关联产生本笔成交的引擎周期。
	TraceID string `json:"trace_id,omitempty"`

	ExecutedAt time.Time `json:"executed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// GrossAmount 返回本笔成交的总金额（未扣佣金）。
func (t Trade) GrossAmount() float64 {
	return t.Price * ContractMultiplier * float64(t.Quantity)
}
