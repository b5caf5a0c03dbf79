// Package monitor 周期性巡检在市仓位：刷新标记价与希腊值、
// 按固定顺序评估离场条件、处理卡在 pending_exit 的仓位。
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"optq/internal/executor"
	"optq/internal/logger"
	"optq/internal/market"
	"optq/internal/strategy"
	"optq/internal/types"
)

// 离场原因常量，首个命中的写入 Position.ExitReason。
const (
	ExitProfitTarget     = "profit_target"
	ExitStopLoss         = "stop_loss"
	ExitMaxDaysHeld      = "max_days_held"
	ExitExpirationWindow = "expiration_window"
	ExitDeltaCeiling     = "delta_ceiling"
	ExitDeltaFloor       = "delta_floor"
	ExitIVCeiling        = "iv_ceiling"
	ExitManual           = "manual"
)

// PositionLedger 是 monitor 依赖的台账能力子集。
type PositionLedger interface {
	ListOpenPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, id int64) (types.Position, bool, error)
	GetAutomation(ctx context.Context, id int64) (types.Automation, bool, error)
	UpdatePositionMark(ctx context.Context, id int64, price float64, greeks market.Greeks) error
	ListStuckPendingExits(ctx context.Context, olderThan time.Time) ([]types.Position, error)
	RevertPendingExit(ctx context.Context, id int64) error
}

// Trader 抽象执行网关，测试时可注入假实现。
type Trader interface {
	Execute(ctx context.Context, p types.ProposedTrade) (executor.Outcome, error)
}

// Config 控制巡检节奏。StuckTimeout 为 pending_exit 卡单回退阈值。
type Config struct {
	StuckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 10 * time.Minute
	}
	return c
}

// Monitor 是仓位巡检器。
type Monitor struct {
	provider market.DataProvider
	ledger   PositionLedger
	trader   Trader
	cfg      Config
	nowFn    func() time.Time
}

// NewMonitor 构造仓位巡检器。
func NewMonitor(provider market.DataProvider, ledger PositionLedger, trader Trader, cfg Config) *Monitor {
	return &Monitor{
		provider: provider,
		ledger:   ledger,
		trader:   trader,
		cfg:      cfg.withDefaults(),
		nowFn:    time.Now,
	}
}

// SetNowFunc 注入时钟，测试用。
func (m *Monitor) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// Result 是一次巡检中单个仓位的处理结果。
type Result struct {
	PositionID int64
	Outcome    string // held / exit_submitted / exit_denied / reverted / error
	Reason     string
	Detail     string
}

// RunOnce 执行一轮巡检：先回退卡单，再逐仓评估离场。
// 单个仓位出错只记录，不影响其余仓位。
func (m *Monitor) RunOnce(ctx context.Context, traceID string) []Result {
	var results []Result
	results = append(results, m.revertStuck(ctx)...)

	positions, err := m.ledger.ListOpenPositions(ctx)
	if err != nil {
		logger.Errorf("读取在市仓位失败: %v", err)
		return append(results, Result{Outcome: "error", Reason: "list_positions", Detail: err.Error()})
	}
	for _, pos := range positions {
		if pos.Status != types.PositionOpen {
			continue
		}
		res := m.checkPosition(ctx, pos, traceID)
		results = append(results, res)
	}
	return results
}

func (m *Monitor) revertStuck(ctx context.Context) []Result {
	now := m.nowFn()
	stuck, err := m.ledger.ListStuckPendingExits(ctx, now.Add(-m.cfg.StuckTimeout))
	if err != nil {
		logger.Errorf("查询卡单仓位失败: %v", err)
		return []Result{{Outcome: "error", Reason: "list_stuck", Detail: err.Error()}}
	}
	var results []Result
	for _, pos := range stuck {
		if err := m.ledger.RevertPendingExit(ctx, pos.ID); err != nil {
			logger.Errorf("回退 pending_exit 仓位 %d 失败: %v", pos.ID, err)
			results = append(results, Result{PositionID: pos.ID, Outcome: "error", Reason: "revert_failed", Detail: err.Error()})
			continue
		}
		logger.Warnf("仓位 %d 退出单超过 %s 未确认，已回退为 open", pos.ID, m.cfg.StuckTimeout)
		results = append(results, Result{PositionID: pos.ID, Outcome: "reverted", Reason: "exit_order_timeout"})
	}
	return results
}

func (m *Monitor) checkPosition(ctx context.Context, pos types.Position, traceID string) Result {
	now := m.nowFn()

	contract, err := m.refreshMark(ctx, &pos)
	if err != nil {
		// 行情拿不到就用上一次的标记价继续评估时间类条件。
		logger.Warnf("仓位 %d 刷新标记价失败: %v", pos.ID, err)
	}

	auto, kind, ok := m.automationFor(ctx, pos)
	if !ok {
		return Result{PositionID: pos.ID, Outcome: "held", Reason: "manual_position"}
	}

	reason, hit := EvaluateExit(pos, auto.Exit, kind.EntryAction, now)
	if !hit {
		return Result{PositionID: pos.ID, Outcome: "held"}
	}

	limit := pos.CurrentPrice
	if contract != nil && contract.Mid() > 0 {
		limit = contract.Mid()
	}
	proposed := types.ProposedTrade{
		UserID:       pos.UserID,
		AutomationID: pos.AutomationID,
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Side:         types.TradeSideExit,
		Action:       kind.ExitAction(),
		Quantity:     pos.Quantity,
		LimitPrice:   limit,
		ExitReason:   reason,
		TraceID:      traceID + "-x" + fmt.Sprint(pos.ID),
		CreatedAt:    now,
	}
	proposed.Contract.Symbol = pos.ContractSymbol
	proposed.Contract.Underlying = pos.Symbol
	proposed.Contract.Strike = pos.Strike
	proposed.Contract.Expiration = pos.Expiration
	proposed.Contract.Right = pos.Right
	if contract != nil {
		proposed.Contract = *contract
	}

	out, err := m.trader.Execute(ctx, proposed)
	if err != nil {
		return Result{PositionID: pos.ID, Outcome: "error", Reason: out.Reason, Detail: err.Error()}
	}
	if out.Denied {
		return Result{PositionID: pos.ID, Outcome: "exit_denied", Reason: reason, Detail: out.Detail}
	}
	logger.Infof("仓位 %d 触发离场条件 %s，已提交退出单 %s", pos.ID, reason, out.OrderID)
	return Result{PositionID: pos.ID, Outcome: "exit_submitted", Reason: reason}
}

// refreshMark 从期权链定位当前合约并刷新标记价与希腊值。
func (m *Monitor) refreshMark(ctx context.Context, pos *types.Position) (*market.OptionContract, error) {
	now := m.nowFn()
	dte := pos.DTE(now)
	chain, err := m.provider.GetOptionChain(ctx, pos.Symbol, maxInt(dte-1, 0), dte+1)
	if err != nil {
		return nil, err
	}
	for i := range chain.Contracts {
		c := &chain.Contracts[i]
		if c.Symbol != pos.ContractSymbol {
			continue
		}
		mid := c.Mid()
		if mid <= 0 {
			return c, fmt.Errorf("合约 %s 无有效报价", c.Symbol)
		}
		if err := m.ledger.UpdatePositionMark(ctx, pos.ID, mid, c.Greeks); err != nil {
			return c, err
		}
		pos.CurrentPrice = mid
		pos.CurrentGreek = c.Greeks
		return c, nil
	}
	return nil, fmt.Errorf("期权链中未找到合约 %s", pos.ContractSymbol)
}

// automationFor 解析仓位所属的自动化及其策略类型。
// 手动仓位（无自动化）返回 ok=false，只刷新标记价不自动离场。
func (m *Monitor) automationFor(ctx context.Context, pos types.Position) (types.Automation, strategy.Kind, bool) {
	if pos.AutomationID == nil {
		return types.Automation{}, strategy.Kind{}, false
	}
	auto, ok, err := m.ledger.GetAutomation(ctx, *pos.AutomationID)
	if err != nil || !ok {
		return types.Automation{}, strategy.Kind{}, false
	}
	kind, ok := strategy.LookupKind(auto.Strategy)
	return auto, kind, ok
}

// ClosePosition 手动平仓：跳过离场条件评估，直接走执行网关。
// pending_exit 仓位已有在途退出单，不接受二次提交；卡单超时
// 回退为 open 之后才能再手动平仓。
func (m *Monitor) ClosePosition(ctx context.Context, positionID int64, traceID string) (executor.Outcome, error) {
	pos, ok, err := m.ledger.GetPosition(ctx, positionID)
	if err != nil {
		return executor.Outcome{}, err
	}
	if !ok {
		return executor.Outcome{}, fmt.Errorf("仓位 %d 不存在", positionID)
	}
	if pos.Status != types.PositionOpen {
		return executor.Outcome{}, fmt.Errorf("仓位 %d 状态为 %s，无法平仓", positionID, pos.Status)
	}

	action := types.TradeActionSell
	if _, kind, ok := m.automationFor(ctx, pos); ok {
		action = kind.ExitAction()
	}
	contract, _ := m.refreshMark(ctx, &pos)
	limit := pos.CurrentPrice
	if contract != nil && contract.Mid() > 0 {
		limit = contract.Mid()
	}
	proposed := types.ProposedTrade{
		UserID:       pos.UserID,
		AutomationID: pos.AutomationID,
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Side:         types.TradeSideExit,
		Action:       action,
		Quantity:     pos.Quantity,
		LimitPrice:   limit,
		ExitReason:   ExitManual,
		TraceID:      traceID,
		CreatedAt:    m.nowFn(),
	}
	proposed.Contract.Symbol = pos.ContractSymbol
	proposed.Contract.Underlying = pos.Symbol
	proposed.Contract.Strike = pos.Strike
	proposed.Contract.Expiration = pos.Expiration
	proposed.Contract.Right = pos.Right
	if contract != nil {
		proposed.Contract = *contract
	}
	return m.trader.Execute(ctx, proposed)
}

// EvaluateExit 按固定顺序评估离场条件，返回首个命中的原因。
// 纯函数：同样的输入永远给出同样的结论。
func EvaluateExit(pos types.Position, exit types.ExitCriteria, entryAction types.TradeAction, now time.Time) (string, bool) {
	pnlPct := pnlPercent(pos, entryAction)

	if exit.ProfitTargetPct > 0 && pnlPct.GreaterThanOrEqual(decimal.NewFromFloat(exit.ProfitTargetPct)) {
		return ExitProfitTarget, true
	}
	if exit.StopLossPct > 0 && pnlPct.LessThanOrEqual(decimal.NewFromFloat(-exit.StopLossPct)) {
		return ExitStopLoss, true
	}
	if exit.MaxDaysHeld > 0 && pos.DaysHeld(now) >= exit.MaxDaysHeld {
		return ExitMaxDaysHeld, true
	}
	if exit.ExpirationWindowDays > 0 && pos.DTE(now) <= exit.ExpirationWindowDays {
		return ExitExpirationWindow, true
	}
	absDelta := pos.CurrentGreek.Delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	if exit.DeltaCeiling > 0 && absDelta >= exit.DeltaCeiling {
		return ExitDeltaCeiling, true
	}
	if exit.DeltaFloor > 0 && absDelta > 0 && absDelta <= exit.DeltaFloor {
		return ExitDeltaFloor, true
	}
	if exit.IVCeiling > 0 && pos.CurrentGreek.IV >= exit.IVCeiling {
		return ExitIVCeiling, true
	}
	return "", false
}

// pnlPercent 返回相对入场权利金的盈亏比例。
// 买方盈利来自权利金上涨，卖方盈利来自权利金回落。
func pnlPercent(pos types.Position, entryAction types.TradeAction) decimal.Decimal {
	if pos.EntryPrice <= 0 {
		return decimal.Zero
	}
	entry := decimal.NewFromFloat(pos.EntryPrice)
	current := decimal.NewFromFloat(pos.CurrentPrice)
	diff := current.Sub(entry)
	if entryAction == types.TradeActionSell {
		diff = diff.Neg()
	}
	return diff.Div(entry)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
