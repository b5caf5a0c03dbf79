package types

import (
	"time"

	"optq/internal/market"
)

// ContractMultiplier 是美式股票期权的标准乘数。
const ContractMultiplier = 100

// PositionStatus 是仓位状态机的三个状态。
// pending_exit 是短暂状态：退出单已提交、等待成交确认，
// 防止重叠周期对同一仓位重复提交退出单。
type PositionStatus string

const (
	PositionOpen        PositionStatus = "open"
	PositionPendingExit PositionStatus = "pending_exit"
	PositionClosed      PositionStatus = "closed"
)

// Position 是持仓台账的核心行。closed 为终态，平仓后同标的再入场会新建行。
type Position struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
	// AutomationID 为 nil 表示手动交易。
	AutomationID *int64 `json:"automation_id,omitempty"`

	Symbol         string             `json:"symbol"`
	ContractSymbol string             `json:"contract_symbol"`
	Strike         float64            `json:"strike"`
	Expiration     time.Time          `json:"expiration"`
	Right          market.OptionRight `json:"right"`

	Quantity int `json:"quantity"`
	// EntryAction 记录建仓方向：买方策略 buy，卖方策略 sell。
	// 盈亏符号与平仓动作都由它决定。
	EntryAction TradeAction `json:"entry_action"`
	// EntryPrice/CurrentPrice 均为单张权利金报价（未乘 100）。
	EntryPrice   float64       `json:"entry_price"`
	CurrentPrice float64       `json:"current_price"`
	EntryGreeks  market.Greeks `json:"entry_greeks"`
	CurrentGreek market.Greeks `json:"current_greeks"`

	Status PositionStatus `json:"status"`
	// ExitReason 记录首个命中的离场条件，先到先得。
	ExitReason string `json:"exit_reason,omitempty"`
	// PendingExitAt 记录进入 pending_exit 的时间，用于卡单检测。
	PendingExitAt *time.Time `json:"pending_exit_at,omitempty"`
	// PendingExitOrderID 是在途退出单的券商单号。
	PendingExitOrderID string `json:"pending_exit_order_id,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// RealizedPnL 仅在平仓时计算一次，之后不可变。
	RealizedPnL float64 `json:"realized_pnl"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EntryCost 返回建仓总成本（权利金 × 乘数 × 张数）。
func (p Position) EntryCost() float64 {
	return p.EntryPrice * ContractMultiplier * float64(p.Quantity)
}

// MarketValue 返回当前市值。
func (p Position) MarketValue() float64 {
	return p.CurrentPrice * ContractMultiplier * float64(p.Quantity)
}

// UnrealizedPnL 返回未实现盈亏（仅对 open/pending_exit 有意义）。
// 卖方仓位收权利金，盈亏方向与权利金变动相反。
func (p Position) UnrealizedPnL() float64 {
	if p.Status == PositionClosed {
		return 0
	}
	pnl := p.MarketValue() - p.EntryCost()
	if p.EntryAction == TradeActionSell {
		pnl = -pnl
	}
	return pnl
}

// DTE 返回仓位合约的剩余到期天数。
func (p Position) DTE(now time.Time) int {
	c := market.OptionContract{Expiration: p.Expiration}
	return c.DTE(now)
}

// DaysHeld 返回已持有的自然日数。
func (p Position) DaysHeld(now time.Time) int {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return int(now.Sub(p.OpenedAt).Hours() / 24)
}
