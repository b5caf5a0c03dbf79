// Package engine 驱动完整的决策周期：对账 → 逐自动化评估
// （信号 → 选约 → 风控 → 执行）→ 仓位巡检，并把每一步的结论
// 写入周期诊断日志。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"optq/internal/calendar"
	"optq/internal/executor"
	"optq/internal/gateway/notifier"
	"optq/internal/logger"
	"optq/internal/market"
	"optq/internal/matcher"
	"optq/internal/monitor"
	"optq/internal/risk"
	"optq/internal/signal"
	"optq/internal/store/cyclelog"
	"optq/internal/store/gormstore"
	"optq/internal/strategy"
	"optq/internal/types"
)

// 周期结论前缀。完整 outcome 形如 executed、skipped:low_confidence、
// denied:daily_loss_breached、error:unknown_strategy。
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

// Store 是 engine 依赖的台账能力子集。
type Store interface {
	executor.Ledger
	monitor.PositionLedger

	ListAutomations(ctx context.Context, onlyActive bool) ([]types.Automation, error)
	UpdateAutomationState(ctx context.Context, id int64, state types.AutomationState, reason string) error
	PauseUserAutomations(ctx context.Context, userID int64, reason string) (int64, error)
	SetAutomationDegraded(ctx context.Context, id int64, degraded bool, reason string) error
	CountOpenForAutomation(ctx context.Context, automationID int64, symbol string) (int64, error)
	GetRiskLimits(ctx context.Context, userID int64) (types.RiskLimits, bool, error)
	BuildPortfolioSnapshot(ctx context.Context, userID int64, now time.Time) (types.PortfolioSnapshot, error)
	ListUnresolvedIntents(ctx context.Context, userID int64, before time.Time) ([]gormstore.OrderIntent, error)
}

// Config 控制并发与信号门槛。
type Config struct {
	Parallelism int
	Lookback    int
	// Interval 是调度周期宽度。幂等窗口按它对齐：
	// 同一窗口内每个自动化至多入场一次。
	Interval time.Duration
	// ReconcileAfter 是意图行写入后允许对账的最短间隔，
	// 避免把正在执行中的订单误判为悬挂。
	ReconcileAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.Lookback <= 0 {
		c.Lookback = 260
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.ReconcileAfter <= 0 {
		c.ReconcileAfter = 2 * time.Minute
	}
	return c
}

// Engine 是决策周期的编排者。
type Engine struct {
	store     Store
	provider  market.DataProvider
	generator *signal.Generator
	matcher   *matcher.Matcher
	registry  *strategy.Registry
	exec      *executor.Executor
	monitor   *monitor.Monitor
	calendar  *calendar.Calendar
	cycles    *cyclelog.CycleLogStore
	notify    notifier.TextNotifier
	cfg       Config

	nowFn func() time.Time

	// userMu 串行化同一用户的 风控校验+执行，保证快照反映
	// 同周期内更早的成交。
	userMuMu sync.Mutex
	userMu   map[int64]*sync.Mutex

	// lastTick 记录每个自动化最近处理的周期窗口，实现同窗口幂等。
	tickMu   sync.Mutex
	lastTick map[int64]int64
}

// Deps 汇总 Engine 的全部协作方。
type Deps struct {
	Store     Store
	Provider  market.DataProvider
	Generator *signal.Generator
	Matcher   *matcher.Matcher
	Registry  *strategy.Registry
	Executor  *executor.Executor
	Monitor   *monitor.Monitor
	Calendar  *calendar.Calendar
	CycleLog  *cyclelog.CycleLogStore
	Notifier  notifier.TextNotifier
}

// New 构造引擎。Registry/CycleLog/Notifier 允许为空。
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil || deps.Provider == nil || deps.Generator == nil ||
		deps.Matcher == nil || deps.Executor == nil || deps.Monitor == nil || deps.Calendar == nil {
		return nil, fmt.Errorf("engine: 依赖不完整")
	}
	n := deps.Notifier
	if n == nil {
		n = notifier.Noop{}
	}
	return &Engine{
		store:     deps.Store,
		provider:  deps.Provider,
		generator: deps.Generator,
		matcher:   deps.Matcher,
		registry:  deps.Registry,
		exec:      deps.Executor,
		monitor:   deps.Monitor,
		calendar:  deps.Calendar,
		cycles:    deps.CycleLog,
		notify:    n,
		cfg:       cfg.withDefaults(),
		nowFn:     time.Now,
		userMu:    make(map[int64]*sync.Mutex),
		lastTick:  make(map[int64]int64),
	}, nil
}

// SetNowFunc 注入时钟，测试用。
func (e *Engine) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// CycleReport 是一轮周期的汇总结果。
type CycleReport struct {
	TraceID    string          `json:"trace_id"`
	StartedAt  time.Time       `json:"started_at"`
	MarketOpen bool            `json:"market_open"`
	Results    []AutomationRun `json:"results"`
	Monitor    int             `json:"monitor_results"`
}

// AutomationRun 是单个自动化在本周期的结论。
type AutomationRun struct {
	AutomationID int64  `json:"automation_id"`
	Symbol       string `json:"symbol"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// RunCycle 执行一轮完整周期。force 为 true 时跳过开闭市检查（手动触发）。
func (e *Engine) RunCycle(ctx context.Context, force bool) (CycleReport, error) {
	now := e.nowFn()
	report := CycleReport{
		TraceID:   uuid.NewString(),
		StartedAt: now,
	}
	report.MarketOpen = e.calendar.IsOpen(now)
	if !report.MarketOpen && !force {
		logger.Debugf("市场闭市，跳过本轮周期，下次开盘 %s", e.calendar.NextOpen(now).Format(time.RFC3339))
		return report, nil
	}

	e.reconcile(ctx, now)

	autos, err := e.store.ListAutomations(ctx, true)
	if err != nil {
		return report, fmt.Errorf("list automations: %w", err)
	}

	results := make([]AutomationRun, len(autos))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.cfg.Parallelism))
	for i, auto := range autos {
		i, auto := i, auto
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			// 单个自动化的失败只隔离记录，绝不让整轮周期夭折。
			results[i] = e.runAutomation(gctx, auto, report.TraceID, now)
			return nil
		})
	}
	_ = g.Wait()
	report.Results = results

	monResults := e.monitor.RunOnce(ctx, report.TraceID)
	report.Monitor = len(monResults)
	for _, mr := range monResults {
		e.logCycle(ctx, cyclelog.Record{
			TraceID:      report.TraceID,
			Timestamp:    now.UnixMilli(),
			AutomationID: 0,
			Symbol:       "",
			Outcome:      "monitor:" + mr.Outcome,
			Reason:       mr.Reason,
			Detail:       mr.Detail,
		})
	}
	return report, nil
}

// RunAutomationNow 手动触发单个自动化，同步返回结论。
func (e *Engine) RunAutomationNow(ctx context.Context, automationID int64) (AutomationRun, error) {
	auto, ok, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		return AutomationRun{}, err
	}
	if !ok {
		return AutomationRun{}, fmt.Errorf("自动化 %d 不存在", automationID)
	}
	traceID := uuid.NewString()
	return e.runAutomation(ctx, auto, traceID, e.nowFn()), nil
}

// reconcile 处理上一周期残留的悬挂订单意图。
func (e *Engine) reconcile(ctx context.Context, now time.Time) {
	intents, err := e.store.ListUnresolvedIntents(ctx, 0, now.Add(-e.cfg.ReconcileAfter))
	if err != nil {
		logger.Errorf("查询悬挂订单意图失败: %v", err)
		return
	}
	for _, intent := range intents {
		resolved, err := e.exec.Reconcile(ctx, intent)
		if err != nil {
			logger.Errorf("对账订单意图 %s 失败: %v", intent.ClientOrderID, err)
			continue
		}
		if resolved && intent.AutomationID != nil {
			if err := e.store.SetAutomationDegraded(ctx, *intent.AutomationID, false, ""); err != nil {
				logger.Errorf("清除自动化 %d 降级标记失败: %v", *intent.AutomationID, err)
			}
		}
	}
}

func (e *Engine) runAutomation(ctx context.Context, auto types.Automation, traceID string, now time.Time) AutomationRun {
	started := time.Now()
	run := AutomationRun{AutomationID: auto.ID, Symbol: auto.NormalizedSymbol()}
	rec := cyclelog.Record{
		TraceID:      traceID,
		Timestamp:    now.UnixMilli(),
		AutomationID: auto.ID,
		UserID:       auto.UserID,
		Symbol:       auto.NormalizedSymbol(),
		Strategy:     auto.Strategy,
	}
	defer func() {
		rec.Outcome = run.Outcome
		rec.Reason = run.Reason
		rec.Detail = run.Detail
		rec.DurationMS = time.Since(started).Milliseconds()
		e.logCycle(ctx, rec)
	}()

	outcome := func(kind, reason, detail string) AutomationRun {
		run.Outcome = kind
		if reason != "" {
			run.Outcome = kind + ":" + reason
			run.Reason = reason
		}
		run.Detail = detail
		return run
	}

	if !auto.Runnable() {
		return outcome(OutcomeSkipped, "not_active", auto.StateReason)
	}
	if auto.Degraded {
		return outcome(OutcomeSkipped, "degraded", auto.DegradedReason)
	}
	if !e.claimTick(auto.ID, now) {
		return outcome(OutcomeSkipped, "already_processed", "")
	}

	kind, ok := strategy.LookupKind(auto.Strategy)
	if !ok {
		e.failAutomation(ctx, auto, "unknown strategy "+auto.Strategy)
		return outcome(OutcomeError, "unknown_strategy", auto.Strategy)
	}
	if e.registry != nil && !e.registry.Enabled(auto.Strategy) {
		return outcome(OutcomeSkipped, "strategy_disabled", "")
	}

	sig, err := e.generator.Evaluate(ctx, auto.NormalizedSymbol(), e.cfg.Lookback)
	if err != nil {
		return outcome(OutcomeError, "signal_failed", err.Error())
	}
	rec.Direction = string(sig.Direction)
	rec.Confidence = sig.Confidence
	if sig.Degraded {
		return outcome(OutcomeSkipped, "signal_degraded", sig.DegradedReason)
	}
	if !sig.Tradable(auto.Entry.MinConfidence) {
		return outcome(OutcomeSkipped, "low_confidence",
			fmt.Sprintf("confidence=%.4f min=%.4f", sig.Confidence, auto.Entry.MinConfidence))
	}
	if !kind.MatchesDirection(sig.Direction) {
		return outcome(OutcomeSkipped, "direction_mismatch", string(sig.Direction))
	}

	if !auto.AllowMultiplePositions {
		count, err := e.store.CountOpenForAutomation(ctx, auto.ID, auto.NormalizedSymbol())
		if err != nil {
			return outcome(OutcomeError, "position_count_failed", err.Error())
		}
		if count > 0 {
			return outcome(OutcomeSkipped, "position_exists", "")
		}
	}

	chain, err := e.provider.GetOptionChain(ctx, auto.NormalizedSymbol(), auto.Entry.MinDTE, auto.Entry.MaxDTE)
	if err != nil {
		if market.IsTransient(err) {
			return outcome(OutcomeSkipped, "chain_unavailable", err.Error())
		}
		return outcome(OutcomeError, "chain_failed", err.Error())
	}

	contract, err := e.matcher.SelectContract(auto, kind, chain, now)
	if err != nil {
		if errors.Is(err, matcher.ErrNoContract) {
			return outcome(OutcomeSkipped, "no_contract", err.Error())
		}
		return outcome(OutcomeError, "matcher_failed", err.Error())
	}
	rec.Contract = contract.Symbol

	qty := auto.Entry.Quantity
	if qty <= 0 {
		qty = 1
	}
	autoID := auto.ID
	proposed := types.ProposedTrade{
		UserID:       auto.UserID,
		AutomationID: &autoID,
		Symbol:       auto.NormalizedSymbol(),
		Contract:     contract,
		Side:         types.TradeSideEntry,
		Action:       kind.EntryAction,
		Quantity:     qty,
		LimitPrice:   contract.Mid(),
		TraceID:      fmt.Sprintf("%s-a%d", traceID, auto.ID),
		CreatedAt:    now,
	}

	// 同一用户的 校验+执行 持锁串行，快照必然包含本周期更早的成交。
	mu := e.userLock(auto.UserID)
	mu.Lock()
	defer mu.Unlock()

	limits, ok, err := e.store.GetRiskLimits(ctx, auto.UserID)
	if err != nil {
		return outcome(OutcomeError, "risk_limits_failed", err.Error())
	}
	if !ok {
		return outcome(OutcomeDenied, "risk_limits_missing", "用户未配置风控限额")
	}
	snap, err := e.store.BuildPortfolioSnapshot(ctx, auto.UserID, now)
	if err != nil {
		return outcome(OutcomeError, "snapshot_failed", err.Error())
	}

	verdict := risk.Validate(proposed, snap, limits, now)
	if !verdict.Allowed {
		notifier.Dispatch(e.notify, notifier.DenialMessage(proposed, verdict.Reason, verdict.Detail))
		if verdict.AutoPause {
			count, pErr := e.store.PauseUserAutomations(ctx, auto.UserID, verdict.Reason)
			if pErr != nil {
				logger.Errorf("自动暂停用户 %d 失败: %v", auto.UserID, pErr)
			} else {
				logger.Warnf("用户 %d 触发 %s，已暂停 %d 个自动化", auto.UserID, verdict.Reason, count)
				notifier.Dispatch(e.notify, notifier.AutoPauseMessage(auto.UserID, verdict.Reason))
			}
		}
		return outcome(OutcomeDenied, verdict.Reason, verdict.Detail)
	}

	out, err := e.exec.Execute(ctx, proposed)
	if err != nil {
		if out.Held {
			// 订单状态未知：降级该自动化，等待对账，期间不再开新仓。
			if dErr := e.store.SetAutomationDegraded(ctx, auto.ID, true, out.Reason); dErr != nil {
				logger.Errorf("设置自动化 %d 降级标记失败: %v", auto.ID, dErr)
			}
			return outcome(OutcomeError, out.Reason, out.Detail)
		}
		return outcome(OutcomeError, "execute_failed", err.Error())
	}
	if out.Denied {
		notifier.Dispatch(e.notify, notifier.DenialMessage(proposed, out.Reason, out.Detail))
		return outcome(OutcomeDenied, out.Reason, out.Detail)
	}

	notifier.Dispatch(e.notify, notifier.ExecutionMessage(out.Trade, out.Position))
	logger.Infof("自动化 %d 建仓成交 %s x%d @ %.2f order=%s",
		auto.ID, out.Position.ContractSymbol, out.Trade.Quantity, out.Trade.Price, out.OrderID)
	return outcome(OutcomeExecuted, "", "")
}

// claimTick 为本周期抢占执行权。窗口按 Interval 对齐，
// 调度触发与手动触发落在同一窗口时只处理一次。
func (e *Engine) claimTick(automationID int64, now time.Time) bool {
	tick := now.Truncate(e.cfg.Interval).UnixMilli()
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.lastTick[automationID] == tick {
		return false
	}
	e.lastTick[automationID] = tick
	return true
}

func (e *Engine) userLock(userID int64) *sync.Mutex {
	e.userMuMu.Lock()
	defer e.userMuMu.Unlock()
	mu, ok := e.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.userMu[userID] = mu
	}
	return mu
}

// failAutomation 把配置损坏的自动化打入 error 状态，等用户修复。
func (e *Engine) failAutomation(ctx context.Context, auto types.Automation, reason string) {
	if err := e.store.UpdateAutomationState(ctx, auto.ID, types.AutomationError, reason); err != nil {
		logger.Errorf("标记自动化 %d 为 error 失败: %v", auto.ID, err)
	}
}

func (e *Engine) logCycle(ctx context.Context, rec cyclelog.Record) {
	if e.cycles == nil {
		return
	}
	if _, err := e.cycles.Insert(ctx, rec); err != nil {
		logger.Warnf("写入周期诊断日志失败: %v", err)
	}
}
