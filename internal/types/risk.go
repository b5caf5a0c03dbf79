package types

import "time"

// RiskLimits 是用户级风控策略。只读多写少，只能由用户配置修改，
// 引擎永远不会改写这些限额。
type RiskLimits struct {
	UserID int64 `json:"user_id"`
	// MaxPositionSizePct 是单笔仓位占组合净值的上限（0.10 = 10%）。
	MaxPositionSizePct float64 `json:"max_position_size_pct"`
	// MaxCapitalAtRiskPct 是全部在市仓位最大亏损之和占净值的上限。
	MaxCapitalAtRiskPct float64 `json:"max_capital_at_risk_pct"`
	MaxOpenPositions    int     `json:"max_open_positions"`
	// MaxDailyLossPct/MaxWeeklyLossPct 为正数表示允许的最大亏损比例。
	MaxDailyLossPct  float64 `json:"max_daily_loss_pct"`
	MaxWeeklyLossPct float64 `json:"max_weekly_loss_pct"`
	MinDTE           int     `json:"min_dte"`
	MaxDTE           int     `json:"max_dte"`

	UpdatedAt time.Time `json:"updated_at"`
}

// PortfolioSnapshot 是风控校验用的组合快照。
// 显式传参而非读取全局状态，保证校验器是三输入的纯函数。
type PortfolioSnapshot struct {
	UserID int64 `json:"user_id"`
	// Equity 是组合净值，BuyingPower 是可用购买力。
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`

	OpenPositions int `json:"open_positions"`
	// CapitalAtRisk 是在市仓位最大亏损之和（美元）。
	CapitalAtRisk float64 `json:"capital_at_risk"`

	DailyRealizedPnL   float64 `json:"daily_realized_pnl"`
	DailyUnrealizedPnL float64 `json:"daily_unrealized_pnl"`
	WeeklyRealizedPnL  float64 `json:"weekly_realized_pnl"`

	TakenAt time.Time `json:"taken_at"`
}

// DailyLossPct 返回今日（已实现+未实现）亏损占净值比例，盈利时为 0。
func (s PortfolioSnapshot) DailyLossPct() float64 {
	total := s.DailyRealizedPnL + s.DailyUnrealizedPnL
	if total >= 0 || s.Equity <= 0 {
		return 0
	}
	return -total / s.Equity
}

// WeeklyLossPct 返回本周已实现亏损占净值比例，盈利时为 0。
func (s PortfolioSnapshot) WeeklyLossPct() float64 {
	if s.WeeklyRealizedPnL >= 0 || s.Equity <= 0 {
		return 0
	}
	return -s.WeeklyRealizedPnL / s.Equity
}
