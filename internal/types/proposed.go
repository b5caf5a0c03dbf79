package types

import (
	"time"

	"optq/internal/market"
)

// ProposedTrade 是进入风控校验与执行网关的候选交易。
type ProposedTrade struct {
	UserID       int64  `json:"user_id"`
	AutomationID *int64 `json:"automation_id,omitempty"`
	// PositionID 非零表示平仓单，关联既有仓位。
	PositionID int64 `json:"position_id,omitempty"`

	Symbol   string                `json:"symbol"`
	Contract market.OptionContract `json:"contract"`

	Side     TradeSide   `json:"side"`
	Action   TradeAction `json:"action"`
	Quantity int         `json:"quantity"`
	// LimitPrice 是单张权利金限价（通常取中间价）。
	LimitPrice float64 `json:"limit_price"`

	// ExitReason 仅平仓单使用，记录触发离场的条件。
	ExitReason string `json:"exit_reason,omitempty"`

	TraceID   string    `json:"trace_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EstimatedCost 返回预计占用资金（限价 × 乘数 × 张数）。
func (p ProposedTrade) EstimatedCost() float64 {
	return p.LimitPrice * ContractMultiplier * float64(p.Quantity)
}

// MaxLoss 返回最大亏损敞口。买入期权的最大亏损即全部权利金；
// 卖出期权按 行权价−收取的权利金 计算（现金担保口径，
// 标的归零时的最大损失）。
func (p ProposedTrade) MaxLoss() float64 {
	if p.Action == TradeActionSell {
		loss := (p.Contract.Strike - p.LimitPrice) * ContractMultiplier * float64(p.Quantity)
		if loss < 0 {
			return 0
		}
		return loss
	}
	return p.EstimatedCost()
}

// IsEntry 判断是否建仓单。
func (p ProposedTrade) IsEntry() bool {
	return p.Side == TradeSideEntry
}
