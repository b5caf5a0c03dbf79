// Package model 定义台账的 Gorm 模型。
// 时间戳统一存毫秒整数，JSON 负载使用 datatypes.JSON。
package model

import "gorm.io/datatypes"

// AutomationModel 映射 automations 表。
type AutomationModel struct {
	ID                int64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID            int64          `gorm:"column:user_id;index"`
	Symbol            string         `gorm:"column:symbol;index"`
	Strategy          string         `gorm:"column:strategy"`
	EntryJSON         datatypes.JSON `gorm:"column:entry_json"`
	ExitJSON          datatypes.JSON `gorm:"column:exit_json"`
	State             string         `gorm:"column:state;index"`
	StateReason       string         `gorm:"column:state_reason"`
	AllowMultiple     int            `gorm:"column:allow_multiple"`
	Degraded          int            `gorm:"column:degraded"`
	DegradedReason    string         `gorm:"column:degraded_reason"`
	ExecutionCount    int64          `gorm:"column:execution_count"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (AutomationModel) TableName() string { return "automations" }

// PositionModel 映射 positions 表。
type PositionModel struct {
	ID                 int64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID             int64          `gorm:"column:user_id;index"`
	AutomationID       *int64         `gorm:"column:automation_id;index"`
	Symbol             string         `gorm:"column:symbol;index"`
	ContractSymbol     string         `gorm:"column:contract_symbol;index"`
	Strike             float64        `gorm:"column:strike"`
	ExpirationUnix     int64          `gorm:"column:expiration"`
	Right              string         `gorm:"column:right"`
	Quantity           int            `gorm:"column:quantity"`
	EntryAction        string         `gorm:"column:entry_action"`
	EntryPrice         float64        `gorm:"column:entry_price"`
	CurrentPrice       float64        `gorm:"column:current_price"`
	EntryGreeksJSON    datatypes.JSON `gorm:"column:entry_greeks_json"`
	CurrentGreeksJSON  datatypes.JSON `gorm:"column:current_greeks_json"`
	Status             string         `gorm:"column:status;index"`
	ExitReason         string         `gorm:"column:exit_reason"`
	PendingExitUnix    *int64         `gorm:"column:pending_exit_at"`
	PendingExitOrderID string         `gorm:"column:pending_exit_order_id"`
	OpenedAtUnix       int64          `gorm:"column:opened_at;index"`
	ClosedAtUnix       *int64         `gorm:"column:closed_at;index"`
	RealizedPnL        float64        `gorm:"column:realized_pnl"`
	UpdatedAtUnix      int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// TradeModel 映射 trades 表：不可变台账，只插入不更新。
type TradeModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	PositionID     int64   `gorm:"column:position_id;index"`
	UserID         int64   `gorm:"column:user_id;index"`
	AutomationID   *int64  `gorm:"column:automation_id"`
	Symbol         string  `gorm:"column:symbol;index"`
	ContractSymbol string  `gorm:"column:contract_symbol"`
	Side           string  `gorm:"column:side"`
	Action         string  `gorm:"column:action"`
	Quantity       int     `gorm:"column:quantity"`
	Price          float64 `gorm:"column:price"`
	Commission     float64 `gorm:"column:commission"`
	BrokerOrderID  string  `gorm:"column:broker_order_id;index"`
	EntryTradeID   *int64  `gorm:"column:entry_trade_id"`
	TraceID        string  `gorm:"column:trace_id;index"`
	ExecutedAtUnix int64   `gorm:"column:executed_at;index"`
	CreatedAtUnix  int64   `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// RiskLimitsModel 映射 risk_limits 表，user_id 为主键。
type RiskLimitsModel struct {
	UserID              int64   `gorm:"column:user_id;primaryKey"`
	MaxPositionSizePct  float64 `gorm:"column:max_position_size_pct"`
	MaxCapitalAtRiskPct float64 `gorm:"column:max_capital_at_risk_pct"`
	MaxOpenPositions    int     `gorm:"column:max_open_positions"`
	MaxDailyLossPct     float64 `gorm:"column:max_daily_loss_pct"`
	MaxWeeklyLossPct    float64 `gorm:"column:max_weekly_loss_pct"`
	MinDTE              int     `gorm:"column:min_dte"`
	MaxDTE              int     `gorm:"column:max_dte"`
	UpdatedAtUnix       int64   `gorm:"column:updated_at"`
}

func (RiskLimitsModel) TableName() string { return "risk_limits" }

// AccountModel 映射 accounts 表：组合净值与购买力。
// Fill 落账时在同一事务内增减购买力，保证周期内读到最新值。
type AccountModel struct {
	UserID        int64   `gorm:"column:user_id;primaryKey"`
	Equity        float64 `gorm:"column:equity"`
	BuyingPower   float64 `gorm:"column:buying_power"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "accounts" }

// OrderIntentModel 映射 order_intents 表：下单前写入的意图记录。
// 成交落账与意图确认在同一事务；submitted 状态残留即代表
// “券商可能已成交但本地未落账”，是下一周期对账的依据。
type OrderIntentModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        int64          `gorm:"column:user_id;index"`
	AutomationID  *int64         `gorm:"column:automation_id;index"`
	PositionID    int64          `gorm:"column:position_id"`
	ClientOrderID string         `gorm:"column:client_order_id;uniqueIndex"`
	BrokerOrderID string         `gorm:"column:broker_order_id;index"`
	Side          string         `gorm:"column:side"`
	Status        string         `gorm:"column:status;index"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderIntentModel) TableName() string { return "order_intents" }
