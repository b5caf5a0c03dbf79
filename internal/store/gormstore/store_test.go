package gormstore

import (
	"context"
	"testing"
	"time"

	"optq/internal/market"
	"optq/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAccount(t *testing.T, s *GormStore) {
	t.Helper()
	require.NoError(t, s.UpsertAccount(context.Background(), Account{
		UserID: 1, Equity: 100000, BuyingPower: 50000,
	}))
}

func seedAutomation(t *testing.T, s *GormStore) int64 {
	t.Helper()
	id, err := s.CreateAutomation(context.Background(), types.Automation{
		UserID:   1,
		Symbol:   "AAPL",
		Strategy: "long_call",
		Entry:    types.EntryCriteria{MinConfidence: 0.35, TargetDelta: 0.30, MinDelta: 0.2, MaxDelta: 0.45, MinDTE: 20, MaxDTE: 60, Quantity: 2},
		Exit:     types.ExitCriteria{ProfitTargetPct: 0.25, StopLossPct: 0.5},
	})
	require.NoError(t, err)
	return id
}

func proposalFor(autoID int64) types.ProposedTrade {
	return types.ProposedTrade{
		UserID:       1,
		AutomationID: &autoID,
		Symbol:       "AAPL",
		Contract: market.OptionContract{
			Symbol:     "AAPL260116C00190000",
			Underlying: "AAPL",
			Strike:     190,
			Expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
			Right:      market.RightCall,
			Greeks:     market.Greeks{Delta: 0.31, IV: 0.28},
		},
		Side:       types.TradeSideEntry,
		Action:     types.TradeActionBuy,
		Quantity:   2,
		LimitPrice: 2.00,
		TraceID:    "trace-entry-1",
	}
}

// openTestPosition 走完整的 意图→建仓落账 流程，返回新仓位。
func openTestPosition(t *testing.T, s *GormStore, autoID int64) types.Position {
	t.Helper()
	ctx := context.Background()
	p := proposalFor(autoID)
	_, err := s.CreateOrderIntent(ctx, p)
	require.NoError(t, err)

	pos, _, err := s.RecordEntryFill(ctx, EntryFill{
		Proposed:   p,
		OrderID:    "ord-1",
		FillPrice:  2.00,
		FilledQty:  2,
		Commission: 1.30,
		ExecutedAt: time.Date(2025, 12, 1, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return pos
}

func TestRecordEntryFill_FullTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)

	pos := openTestPosition(t, s, autoID)
	assert.NotZero(t, pos.ID)
	assert.Equal(t, types.PositionOpen, pos.Status)
	assert.Equal(t, 2, pos.Quantity)
	assert.InDelta(t, 2.00, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 0.31, pos.EntryGreeks.Delta, 1e-9)

	// 成交台账腿。
	trades, err := s.ListTradesForPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, types.TradeSideEntry, trades[0].Side)
	assert.Equal(t, "ord-1", trades[0].BrokerOrderID)

	// 自动化执行计数 +1。
	auto, ok, err := s.GetAutomation(ctx, autoID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, auto.ExecutionCount)

	// 账户：购买力 −(400+1.30)，净值 −1.30（佣金）。
	acct, ok, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 50000-401.30, acct.BuyingPower, 1e-6)
	assert.InDelta(t, 100000-1.30, acct.Equity, 1e-6)

	// 订单意图确认为 recorded。
	intent, err := s.GetOrderIntent(ctx, "trace-entry-1")
	require.NoError(t, err)
	assert.Equal(t, IntentRecorded, intent.Status)
	assert.Equal(t, "ord-1", intent.BrokerOrderID)
}

func TestRecordEntryFill_RejectsBadFill(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.RecordEntryFill(context.Background(), EntryFill{
		Proposed: proposalFor(1), FilledQty: 0, FillPrice: 2.00,
	})
	assert.Error(t, err)
}

func TestRecordExitFill_RealizedPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)
	pos := openTestPosition(t, s, autoID)

	closed, exitTrade, err := s.RecordExitFill(ctx, ExitFill{
		PositionID: pos.ID,
		OrderID:    "ord-2",
		Action:     types.TradeActionSell,
		FillPrice:  2.60,
		FilledQty:  2,
		Commission: 1.30,
		ExecutedAt: time.Date(2025, 12, 10, 15, 0, 0, 0, time.UTC),
		TraceID:    "trace-exit-1",
	})
	require.NoError(t, err)

	// 已实现盈亏 = 520 − 400 − 2.60 = 117.40
	assert.Equal(t, types.PositionClosed, closed.Status)
	assert.InDelta(t, 117.40, closed.RealizedPnL, 1e-9)
	require.NotNil(t, closed.ClosedAt)

	// 平仓腿回链建仓腿。
	trades, err := s.ListTradesForPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.NotNil(t, exitTrade.EntryTradeID)
	assert.Equal(t, trades[0].ID, *exitTrade.EntryTradeID)

	// 账户：购买力 −401.30 + 518.70，净值 −1.30 + 117.40。
	acct, _, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 50000-401.30+518.70, acct.BuyingPower, 1e-6)
	assert.InDelta(t, 100000-1.30+117.40, acct.Equity, 1e-6)

	// 再次平仓被拒：closed 是终态。
	_, _, err = s.RecordExitFill(ctx, ExitFill{
		PositionID: pos.ID, Action: types.TradeActionSell,
		FillPrice: 2.60, FilledQty: 2, TraceID: "trace-exit-2",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")
}

func TestRecordExitFill_SellerStrategyLoss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)

	// 卖方入场：sell 2.00 x 1，买回 3.00 x 1。
	p := proposalFor(autoID)
	p.Action = types.TradeActionSell
	p.Quantity = 1
	p.TraceID = "trace-seller-1"
	_, err := s.CreateOrderIntent(ctx, p)
	require.NoError(t, err)
	pos, _, err := s.RecordEntryFill(ctx, EntryFill{
		Proposed: p, OrderID: "ord-3", FillPrice: 2.00, FilledQty: 1, Commission: 0.65,
	})
	require.NoError(t, err)

	closed, _, err := s.RecordExitFill(ctx, ExitFill{
		PositionID: pos.ID, OrderID: "ord-4", Action: types.TradeActionBuy,
		FillPrice: 3.00, FilledQty: 1, Commission: 0.65, TraceID: "trace-seller-2",
	})
	require.NoError(t, err)

	// 卖出 200 − 买回 300 − 佣金 1.30 = −101.30
	assert.InDelta(t, -101.30, closed.RealizedPnL, 1e-9)
}

func TestPendingExitTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)
	pos := openTestPosition(t, s, autoID)

	at := time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkPendingExit(ctx, pos.ID, "ord-x", "profit_target", at))

	// pending_exit 状态下再次标记被拒。
	assert.Error(t, s.MarkPendingExit(ctx, pos.ID, "ord-y", "stop_loss", at))

	got, ok, err := s.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.PositionPendingExit, got.Status)
	assert.Equal(t, "profit_target", got.ExitReason)

	// 卡单列表按时间过滤。
	stuck, err := s.ListStuckPendingExits(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stuck, 1)
	stuck, err = s.ListStuckPendingExits(ctx, at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// 回退后恢复 open，可再次标记。
	require.NoError(t, s.RevertPendingExit(ctx, pos.ID))
	got, _, err = s.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionOpen, got.Status)
	assert.Empty(t, got.ExitReason)
	require.NoError(t, s.MarkPendingExit(ctx, pos.ID, "", "stop_loss", at))

	// open 状态下回退是非法迁移。
	require.NoError(t, s.RevertPendingExit(ctx, pos.ID))
	assert.Error(t, s.RevertPendingExit(ctx, pos.ID))
}

func TestOrderIntentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := proposalFor(1)
	_, err := s.CreateOrderIntent(ctx, p)
	require.NoError(t, err)

	// ClientOrderID 唯一：同一提案重复写入报错。
	_, err = s.CreateOrderIntent(ctx, p)
	assert.Error(t, err)

	require.NoError(t, s.AttachBrokerOrderID(ctx, p.TraceID, "ord-9"))
	intent, err := s.GetOrderIntent(ctx, p.TraceID)
	require.NoError(t, err)
	assert.Equal(t, IntentSubmitted, intent.Status)
	assert.Equal(t, "ord-9", intent.BrokerOrderID)
	assert.Equal(t, p.Symbol, intent.Payload.Symbol)
	assert.InDelta(t, p.LimitPrice, intent.Payload.LimitPrice, 1e-9)

	// 未解决列表只含 submitted 且早于截止时间的行。
	unresolved, err := s.ListUnresolvedIntents(ctx, 1, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
	unresolved, err = s.ListUnresolvedIntents(ctx, 1, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	require.NoError(t, s.MarkIntentAbandoned(ctx, p.TraceID, "broker rejected"))
	intent, err = s.GetOrderIntent(ctx, p.TraceID)
	require.NoError(t, err)
	assert.Equal(t, IntentAbandoned, intent.Status)

	// 已放弃的意图不会被再次确认。
	require.NoError(t, s.MarkIntentRecorded(ctx, p.TraceID, "ord-9"))
	intent, err = s.GetOrderIntent(ctx, p.TraceID)
	require.NoError(t, err)
	assert.Equal(t, IntentAbandoned, intent.Status)
}

func TestBuildPortfolioSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)
	pos := openTestPosition(t, s, autoID)

	// 行情刷新后快照应反映未实现盈亏。
	require.NoError(t, s.UpdatePositionMark(ctx, pos.ID, 2.50, market.Greeks{Delta: 0.4}))

	now := time.Date(2025, 12, 1, 16, 0, 0, 0, time.UTC)
	snap, err := s.BuildPortfolioSnapshot(ctx, 1, now)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.OpenPositions)
	assert.InDelta(t, 400, snap.CapitalAtRisk, 1e-6)     // 2.00 × 100 × 2
	assert.InDelta(t, 100, snap.DailyUnrealizedPnL, 1e-6) // (2.50−2.00) × 200
	assert.Zero(t, snap.DailyRealizedPnL)
	assert.InDelta(t, 100000-1.30, snap.Equity, 1e-6)
}

func TestBuildPortfolioSnapshot_ShortPositionLoss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)

	// 卖方入场 2.00，权利金涨到 3.00：浮亏必须按负数进快照，
	// 否则流血的卖方组合永远触不了日亏熔断。
	p := proposalFor(autoID)
	p.Action = types.TradeActionSell
	p.Quantity = 1
	p.TraceID = "trace-short-1"
	_, err := s.CreateOrderIntent(ctx, p)
	require.NoError(t, err)
	pos, _, err := s.RecordEntryFill(ctx, EntryFill{
		Proposed: p, OrderID: "ord-s1", FillPrice: 2.00, FilledQty: 1, Commission: 0.65,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TradeActionSell, pos.EntryAction)

	require.NoError(t, s.UpdatePositionMark(ctx, pos.ID, 3.00, market.Greeks{Delta: -0.4}))

	snap, err := s.BuildPortfolioSnapshot(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, -100, snap.DailyUnrealizedPnL, 1e-6)

	// 重新读库：建仓方向随仓位持久化。
	got, ok, err := s.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.TradeActionSell, got.EntryAction)
	assert.InDelta(t, -100, got.UnrealizedPnL(), 1e-6)
}

func TestBuildPortfolioSnapshot_RequiresAccount(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BuildPortfolioSnapshot(context.Background(), 42, time.Now())
	assert.Error(t, err)
}

func TestBuildPortfolioSnapshot_RealizedWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)
	pos := openTestPosition(t, s, autoID)

	closedAt := time.Date(2025, 12, 3, 15, 0, 0, 0, time.UTC) // 周三
	_, _, err := s.RecordExitFill(ctx, ExitFill{
		PositionID: pos.ID, OrderID: "ord-2", Action: types.TradeActionSell,
		FillPrice: 2.60, FilledQty: 2, Commission: 1.30,
		ExecutedAt: closedAt, TraceID: "trace-exit-1",
	})
	require.NoError(t, err)

	// 同日快照：当日与本周都包含这笔已实现盈亏。
	snap, err := s.BuildPortfolioSnapshot(ctx, 1, closedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 117.40, snap.DailyRealizedPnL, 1e-6)
	assert.InDelta(t, 117.40, snap.WeeklyRealizedPnL, 1e-6)

	// 次日快照：掉出当日窗口，仍在本周窗口。
	snap, err = s.BuildPortfolioSnapshot(ctx, 1, closedAt.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, snap.DailyRealizedPnL)
	assert.InDelta(t, 117.40, snap.WeeklyRealizedPnL, 1e-6)

	// 下周一快照：两个窗口都清零。
	snap, err = s.BuildPortfolioSnapshot(ctx, 1, time.Date(2025, 12, 8, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, snap.DailyRealizedPnL)
	assert.Zero(t, snap.WeeklyRealizedPnL)
}

func TestRiskLimitsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetRiskLimits(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	limits := types.RiskLimits{
		UserID: 1, MaxPositionSizePct: 0.10, MaxOpenPositions: 5,
		MaxDailyLossPct: 0.05, MinDTE: 7, MaxDTE: 90,
	}
	require.NoError(t, s.UpsertRiskLimits(ctx, limits))

	got, ok, err := s.GetRiskLimits(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.10, got.MaxPositionSizePct, 1e-9)
	assert.Equal(t, 5, got.MaxOpenPositions)

	// 覆盖更新。
	limits.MaxOpenPositions = 8
	require.NoError(t, s.UpsertRiskLimits(ctx, limits))
	got, _, err = s.GetRiskLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, got.MaxOpenPositions)
}

func TestAutomationStateOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	autoID := seedAutomation(t, s)

	otherID, err := s.CreateAutomation(ctx, types.Automation{
		UserID: 1, Symbol: "MSFT", Strategy: "long_put",
	})
	require.NoError(t, err)

	// 全员暂停（当日亏损触线路径）。
	n, err := s.PauseUserAutomations(ctx, 1, "daily_loss_limit_breached")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	active, err := s.ListAutomations(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	auto, _, err := s.GetAutomation(ctx, autoID)
	require.NoError(t, err)
	assert.Equal(t, types.AutomationPaused, auto.State)
	assert.Equal(t, "daily_loss_limit_breached", auto.StateReason)

	// 手动恢复。
	require.NoError(t, s.UpdateAutomationState(ctx, otherID, types.AutomationActive, ""))
	active, err = s.ListAutomations(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "MSFT", active[0].Symbol)

	// 降级标记存取。
	require.NoError(t, s.SetAutomationDegraded(ctx, autoID, true, "fill recorded at broker only"))
	auto, _, err = s.GetAutomation(ctx, autoID)
	require.NoError(t, err)
	assert.True(t, auto.Degraded)
	require.NoError(t, s.SetAutomationDegraded(ctx, autoID, false, ""))
	auto, _, err = s.GetAutomation(ctx, autoID)
	require.NoError(t, err)
	assert.False(t, auto.Degraded)
	assert.Empty(t, auto.DegradedReason)

	assert.ErrorIs(t, s.UpdateAutomationState(ctx, 999, types.AutomationPaused, "x"), gorm.ErrRecordNotFound)
}

func TestCountOpenForAutomation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	autoID := seedAutomation(t, s)

	n, err := s.CountOpenForAutomation(ctx, autoID, "AAPL")
	require.NoError(t, err)
	assert.Zero(t, n)

	openTestPosition(t, s, autoID)
	n, err = s.CountOpenForAutomation(ctx, autoID, "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
