package monitor

import (
	"context"
	"testing"
	"time"

	"optq/internal/executor"
	"optq/internal/market"
	"optq/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

func (m *MockLedger) GetPosition(ctx context.Context, id int64) (types.Position, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Position), args.Bool(1), args.Error(2)
}

func (m *MockLedger) GetAutomation(ctx context.Context, id int64) (types.Automation, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Automation), args.Bool(1), args.Error(2)
}

func (m *MockLedger) UpdatePositionMark(ctx context.Context, id int64, price float64, greeks market.Greeks) error {
	args := m.Called(ctx, id, price, greeks)
	return args.Error(0)
}

func (m *MockLedger) ListStuckPendingExits(ctx context.Context, olderThan time.Time) ([]types.Position, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

func (m *MockLedger) RevertPendingExit(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTrader struct {
	mock.Mock
}

func (m *MockTrader) Execute(ctx context.Context, p types.ProposedTrade) (executor.Outcome, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(executor.Outcome), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetHistory(ctx context.Context, symbol string, lookback int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, lookback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.Quote), args.Error(1)
}

func (m *MockProvider) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (market.OptionChain, error) {
	args := m.Called(ctx, symbol, minDTE, maxDTE)
	return args.Get(0).(market.OptionChain), args.Error(1)
}

func (m *MockProvider) Name() string { return "mock" }

func buyerExit() types.ExitCriteria {
	return types.ExitCriteria{
		ProfitTargetPct:      0.25,
		StopLossPct:          0.50,
		MaxDaysHeld:          21,
		ExpirationWindowDays: 5,
	}
}

func openPosition(entry, current float64) types.Position {
	return types.Position{
		ID:           1,
		UserID:       1,
		Symbol:       "AAPL",
		Quantity:     1,
		EntryPrice:   entry,
		CurrentPrice: current,
		Status:       types.PositionOpen,
		OpenedAt:     time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC),
		Expiration:   time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateExit_ProfitTarget(t *testing.T) {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)

	// +26% 超过 25% 目标。
	reason, hit := EvaluateExit(openPosition(2.00, 2.52), buyerExit(), types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitProfitTarget, reason)

	// +24% 未达标。
	_, hit = EvaluateExit(openPosition(2.00, 2.48), buyerExit(), types.TradeActionBuy, now)
	assert.False(t, hit)

	// 恰好 +25%，触线即离场。
	reason, hit = EvaluateExit(openPosition(2.00, 2.50), buyerExit(), types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitProfitTarget, reason)
}

func TestEvaluateExit_StopLoss(t *testing.T) {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)

	reason, hit := EvaluateExit(openPosition(2.00, 0.98), buyerExit(), types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, reason)
}

func TestEvaluateExit_SellerSideSignFlips(t *testing.T) {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)

	// 卖方策略：权利金从 2.00 跌到 1.40 是 +30% 盈利。
	reason, hit := EvaluateExit(openPosition(2.00, 1.40), buyerExit(), types.TradeActionSell, now)
	assert.True(t, hit)
	assert.Equal(t, ExitProfitTarget, reason)

	// 权利金翻倍对卖方是 -100% 亏损。
	reason, hit = EvaluateExit(openPosition(2.00, 4.00), buyerExit(), types.TradeActionSell, now)
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, reason)
}

func TestEvaluateExit_MaxDaysHeld(t *testing.T) {
	now := time.Date(2025, 12, 24, 10, 0, 0, 0, time.UTC) // 持仓 23 天
	reason, hit := EvaluateExit(openPosition(2.00, 2.10), buyerExit(), types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitMaxDaysHeld, reason)
}

func TestEvaluateExit_ExpirationWindow(t *testing.T) {
	exit := buyerExit()
	exit.MaxDaysHeld = 0 // 关掉持仓天数条件，单测到期窗口

	now := time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC) // DTE = 2
	reason, hit := EvaluateExit(openPosition(2.00, 2.10), exit, types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitExpirationWindow, reason)
}

func TestEvaluateExit_GreekConditions(t *testing.T) {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	exit := types.ExitCriteria{DeltaCeiling: 0.80, DeltaFloor: 0.10, IVCeiling: 1.20}

	pos := openPosition(2.00, 2.10)
	pos.CurrentGreek.Delta = -0.85 // put 的 delta 取绝对值比较
	reason, hit := EvaluateExit(pos, exit, types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitDeltaCeiling, reason)

	pos.CurrentGreek.Delta = 0.05
	reason, hit = EvaluateExit(pos, exit, types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitDeltaFloor, reason)

	pos.CurrentGreek.Delta = 0.40
	pos.CurrentGreek.IV = 1.35
	reason, hit = EvaluateExit(pos, exit, types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitIVCeiling, reason)
}

func TestEvaluateExit_FirstHitWins(t *testing.T) {
	// 同时满足止盈和持仓天数上限时，按固定顺序取止盈。
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	reason, hit := EvaluateExit(openPosition(2.00, 3.00), buyerExit(), types.TradeActionBuy, now)
	assert.True(t, hit)
	assert.Equal(t, ExitProfitTarget, reason)
}

func TestEvaluateExit_NoConditionConfigured(t *testing.T) {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	_, hit := EvaluateExit(openPosition(2.00, 9.00), types.ExitCriteria{}, types.TradeActionBuy, now)
	assert.False(t, hit)
}

func TestRunOnce_RevertsStuckPendingExit(t *testing.T) {
	ledger := new(MockLedger)
	provider := new(MockProvider)
	trader := new(MockTrader)

	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	m := NewMonitor(provider, ledger, trader, Config{StuckTimeout: 10 * time.Minute})
	m.SetNowFunc(func() time.Time { return now })

	stuck := openPosition(2.00, 2.10)
	stuck.ID = 7
	stuck.Status = types.PositionPendingExit

	ledger.On("ListStuckPendingExits", mock.Anything, now.Add(-10*time.Minute)).
		Return([]types.Position{stuck}, nil)
	ledger.On("RevertPendingExit", mock.Anything, int64(7)).Return(nil)
	ledger.On("ListOpenPositions", mock.Anything).Return([]types.Position{}, nil)

	results := m.RunOnce(context.Background(), "trace-1")
	assert.Len(t, results, 1)
	assert.Equal(t, "reverted", results[0].Outcome)
	assert.Equal(t, int64(7), results[0].PositionID)

	ledger.AssertExpectations(t)
}

func TestRunOnce_ManualPositionOnlyRefreshed(t *testing.T) {
	ledger := new(MockLedger)
	provider := new(MockProvider)
	trader := new(MockTrader)

	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	m := NewMonitor(provider, ledger, trader, Config{})
	m.SetNowFunc(func() time.Time { return now })

	pos := openPosition(2.00, 9.00) // 远超任何止盈线，但无归属自动化
	pos.ContractSymbol = "AAPL260116C00190000"

	ledger.On("ListStuckPendingExits", mock.Anything, mock.Anything).Return([]types.Position{}, nil)
	ledger.On("ListOpenPositions", mock.Anything).Return([]types.Position{pos}, nil)
	provider.On("GetOptionChain", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(market.OptionChain{Underlying: "AAPL"}, nil)

	results := m.RunOnce(context.Background(), "trace-2")
	assert.Len(t, results, 1)
	assert.Equal(t, "held", results[0].Outcome)
	assert.Equal(t, "manual_position", results[0].Reason)
	trader.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunOnce_SubmitsExitWhenTargetHit(t *testing.T) {
	ledger := new(MockLedger)
	provider := new(MockProvider)
	trader := new(MockTrader)

	now := time.Date(2025, 12, 10, 10, 0, 0, 0, time.UTC)
	m := NewMonitor(provider, ledger, trader, Config{})
	m.SetNowFunc(func() time.Time { return now })

	autoID := int64(3)
	pos := openPosition(2.00, 2.00)
	pos.AutomationID = &autoID
	pos.ContractSymbol = "AAPL260116C00190000"

	chain := market.OptionChain{
		Underlying: "AAPL",
		Contracts: []market.OptionContract{{
			Symbol: "AAPL260116C00190000",
			Bid:    2.62, Ask: 2.62,
			Greeks: market.Greeks{Delta: 0.55},
		}},
	}

	ledger.On("ListStuckPendingExits", mock.Anything, mock.Anything).Return([]types.Position{}, nil)
	ledger.On("ListOpenPositions", mock.Anything).Return([]types.Position{pos}, nil)
	provider.On("GetOptionChain", mock.Anything, "AAPL", mock.Anything, mock.Anything).Return(chain, nil)
	ledger.On("UpdatePositionMark", mock.Anything, int64(1), 2.62, chain.Contracts[0].Greeks).Return(nil)
	ledger.On("GetAutomation", mock.Anything, autoID).Return(types.Automation{
		ID: autoID, UserID: 1, Symbol: "AAPL", Strategy: "long_call",
		Exit: buyerExit(),
	}, true, nil)

	trader.On("Execute", mock.Anything, mock.MatchedBy(func(p types.ProposedTrade) bool {
		return p.PositionID == 1 &&
			p.Side == types.TradeSideExit &&
			p.Action == types.TradeActionSell &&
			p.ExitReason == ExitProfitTarget &&
			p.LimitPrice == 2.62 &&
			p.TraceID == "trace-3-x1"
	})).Return(executor.Outcome{Executed: true, OrderID: "ord-1"}, nil)

	results := m.RunOnce(context.Background(), "trace-3")
	assert.Len(t, results, 1)
	assert.Equal(t, "exit_submitted", results[0].Outcome)
	assert.Equal(t, ExitProfitTarget, results[0].Reason)

	ledger.AssertExpectations(t)
	trader.AssertExpectations(t)
}

func TestClosePosition_RejectsNonOpen(t *testing.T) {
	ledger := new(MockLedger)
	m := NewMonitor(new(MockProvider), ledger, new(MockTrader), Config{})

	closed := openPosition(2.00, 2.10)
	closed.Status = types.PositionClosed
	ledger.On("GetPosition", mock.Anything, int64(1)).Return(closed, true, nil)

	_, err := m.ClosePosition(context.Background(), 1, "trace-4")
	assert.Error(t, err)

	// pending_exit 已有在途退出单，手动平仓同样拒绝，防止双重卖出。
	pending := openPosition(2.00, 2.10)
	pending.Status = types.PositionPendingExit
	ledger.On("GetPosition", mock.Anything, int64(2)).Return(pending, true, nil)

	_, err = m.ClosePosition(context.Background(), 2, "trace-4")
	assert.Error(t, err)
}
