package risk

import (
	"fmt"
	"time"

	"optq/internal/types"
)

// 拒绝原因常量：直接面向用户诊断展示，保持稳定可读。
const (
	ReasonInsufficientBuyingPower = "insufficient_buying_power"
	ReasonPositionSizeLimit       = "position_size_limit_exceeded"
	ReasonOpenPositionLimit       = "open_position_limit_reached"
	ReasonCapitalAtRiskLimit      = "capital_at_risk_limit_exceeded"
	ReasonDailyLossBreached       = "daily_loss_limit_breached"
	ReasonWeeklyLossBreached      = "weekly_loss_limit_breached"
	ReasonDTEOutOfRange           = "dte_out_of_range"
)

// Verdict 是风控校验结论。AutoPause 为 true 表示不仅拒绝本笔，
// 还要求引擎暂停该用户全部自动化（当日亏损触线）。
type Verdict struct {
	Allowed   bool
	Reason    string
	Detail    string
	AutoPause bool
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func deny(reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Validate 以 (候选交易, 组合快照, 风控限额) 三个输入做纯函数校验，
// 不做任何 I/O，不读全局状态。按固定顺序短路：
// 购买力 → 仓位占比 → 持仓数量 → 风险敞口 → 当日/当周亏损 → DTE 复核。
// 只有建仓单走全量检查；平仓单永远放行（降风险操作不应被风控拦截）。
func Validate(p types.ProposedTrade, snap types.PortfolioSnapshot, limits types.RiskLimits, now time.Time) Verdict {
	if !p.IsEntry() {
		return allow()
	}
	if now.IsZero() {
		now = snap.TakenAt
	}

	cost := p.EstimatedCost()
	if cost > snap.BuyingPower {
		return deny(ReasonInsufficientBuyingPower,
			fmt.Sprintf("cost %.2f exceeds buying power %.2f", cost, snap.BuyingPower))
	}

	if limits.MaxPositionSizePct > 0 && snap.Equity > 0 {
		pct := cost / snap.Equity
		if pct > limits.MaxPositionSizePct {
			return deny(ReasonPositionSizeLimit,
				fmt.Sprintf("position %.1f%% of equity, limit %.1f%%", pct*100, limits.MaxPositionSizePct*100))
		}
	}

	if limits.MaxOpenPositions > 0 && snap.OpenPositions+1 > limits.MaxOpenPositions {
		return deny(ReasonOpenPositionLimit,
			fmt.Sprintf("%d open positions, limit %d", snap.OpenPositions, limits.MaxOpenPositions))
	}

	if limits.MaxCapitalAtRiskPct > 0 && snap.Equity > 0 {
		pct := (snap.CapitalAtRisk + p.MaxLoss()) / snap.Equity
		if pct > limits.MaxCapitalAtRiskPct {
			return deny(ReasonCapitalAtRiskLimit,
				fmt.Sprintf("capital at risk would be %.1f%%, limit %.1f%%", pct*100, limits.MaxCapitalAtRiskPct*100))
		}
	}

	if limits.MaxDailyLossPct > 0 {
		if lossPct := snap.DailyLossPct(); lossPct >= limits.MaxDailyLossPct {
			v := deny(ReasonDailyLossBreached,
				fmt.Sprintf("daily loss %.2f%% at/over limit %.2f%%", lossPct*100, limits.MaxDailyLossPct*100))
			// 当日亏损触线不只是拒单：该用户所有入场都要停。
			v.AutoPause = true
			return v
		}
	}

	if limits.MaxWeeklyLossPct > 0 {
		if lossPct := snap.WeeklyLossPct(); lossPct >= limits.MaxWeeklyLossPct {
			v := deny(ReasonWeeklyLossBreached,
				fmt.Sprintf("weekly loss %.2f%% at/over limit %.2f%%", lossPct*100, limits.MaxWeeklyLossPct*100))
			v.AutoPause = true
			return v
		}
	}

	// DTE 复核：撮合层已经筛过一次，这里针对过期链数据再兜底一层。
	dte := p.Contract.DTE(now)
	if limits.MinDTE > 0 && dte < limits.MinDTE {
		return deny(ReasonDTEOutOfRange, fmt.Sprintf("dte %d below floor %d", dte, limits.MinDTE))
	}
	if limits.MaxDTE > 0 && dte > limits.MaxDTE {
		return deny(ReasonDTEOutOfRange, fmt.Sprintf("dte %d above ceiling %d", dte, limits.MaxDTE))
	}

	return allow()
}
