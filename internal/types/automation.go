package types

import (
	"strings"
	"time"
)

// AutomationState 是自动化策略的生命周期状态。
// error 状态由引擎在致命错误时写入，需要用户修复后手动恢复。
type AutomationState string

const (
	AutomationActive AutomationState = "active"
	AutomationPaused AutomationState = "paused"
	AutomationError  AutomationState = "error"
)

// EntryCriteria 描述入场筛选条件。Delta 使用绝对值（put 的 delta 取绝对值比较）。
type EntryCriteria struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	TargetDelta   float64 `json:"target_delta" yaml:"target_delta"`
	MinDelta      float64 `json:"min_delta" yaml:"min_delta"`
	MaxDelta      float64 `json:"max_delta" yaml:"max_delta"`
	PreferredDTE  int     `json:"preferred_dte" yaml:"preferred_dte"`
	MinDTE        int     `json:"min_dte" yaml:"min_dte"`
	MaxDTE        int     `json:"max_dte" yaml:"max_dte"`
	// MaxPremium 是单张合约权利金上限（美元，按 100 乘数前的报价）。
	MaxPremium float64 `json:"max_premium" yaml:"max_premium"`
	// Quantity 是每次入场的合约张数。
	Quantity int `json:"quantity" yaml:"quantity"`
}

// ExitCriteria 描述离场条件，Position Monitor 按固定顺序评估。
type ExitCriteria struct {
	// ProfitTargetPct/StopLossPct 以入场权利金为基准，0.25 表示 25%。
	ProfitTargetPct float64 `json:"profit_target_pct" yaml:"profit_target_pct"`
	StopLossPct     float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxDaysHeld     int     `json:"max_days_held" yaml:"max_days_held"`
	// ExpirationWindowDays 是到期保护窗口：DTE 进入该窗口即离场。
	ExpirationWindowDays int `json:"expiration_window_days" yaml:"expiration_window_days"`
	// DeltaCeiling/DeltaFloor 约束当前 |delta|，越界即离场；0 表示不启用。
	DeltaCeiling float64 `json:"delta_ceiling" yaml:"delta_ceiling"`
	DeltaFloor   float64 `json:"delta_floor" yaml:"delta_floor"`
	// IVCeiling 约束当前隐含波动率；0 表示不启用。
	IVCeiling float64 `json:"iv_ceiling" yaml:"iv_ceiling"`
}

// Automation 是用户定义的策略绑定：一个标的 + 一种期权策略 + 进出场条件。
type Automation struct {
	ID       int64           `json:"id"`
	UserID   int64           `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Strategy string          `json:"strategy"`
	Entry    EntryCriteria   `json:"entry"`
	Exit     ExitCriteria    `json:"exit"`
	State    AutomationState `json:"state"`
	// StateReason 记录最近一次状态迁移的原因（auto_pause / fatal error 等）。
	StateReason string `json:"state_reason,omitempty"`
	// AllowMultiplePositions 为 false 时同一标的至多一个在市仓位。
	AllowMultiplePositions bool `json:"allow_multiple_positions"`
	// Degraded 表示成交已确认但本地落账失败，等待对账；期间禁止该标的新开仓。
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
	// ExecutionCount 单调递增，每次引擎为其提交订单时 +1。
	ExecutionCount int64     `json:"execution_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Runnable 判断本周期是否应该评估该自动化。
func (a Automation) Runnable() bool {
	return a.State == AutomationActive
}

// NormalizedSymbol 返回统一大写的标的代码。
func (a Automation) NormalizedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(a.Symbol))
}
