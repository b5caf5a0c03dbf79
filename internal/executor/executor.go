// Package executor 负责把风控放行的交易提案变成券商订单并落账。
// 下单前先写订单意图，成交与台账更新在同一事务内完成，
// 崩溃后残留的意图行由 Reconcile 对账收尾。
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optq/internal/gateway/broker"
	"optq/internal/logger"
	"optq/internal/pkg/backoff"
	"optq/internal/store/gormstore"
	"optq/internal/types"
)

// Ledger 是 executor 依赖的台账能力子集。
type Ledger interface {
	CreateOrderIntent(ctx context.Context, p types.ProposedTrade) (int64, error)
	AttachBrokerOrderID(ctx context.Context, clientOrderID, brokerOrderID string) error
	MarkIntentAbandoned(ctx context.Context, clientOrderID, reason string) error
	MarkIntentRecorded(ctx context.Context, clientOrderID, brokerOrderID string) error
	GetOrderIntent(ctx context.Context, clientOrderID string) (gormstore.OrderIntent, error)
	RecordEntryFill(ctx context.Context, fill gormstore.EntryFill) (types.Position, types.Trade, error)
	RecordExitFill(ctx context.Context, fill gormstore.ExitFill) (types.Position, types.Trade, error)
	MarkPendingExit(ctx context.Context, positionID int64, orderID, reason string, at time.Time) error
	RevertPendingExit(ctx context.Context, positionID int64) error
}

// Outcome 是一次执行的结果。拒单是业务结果（Denied），不是错误；
// Held 表示订单状态未知（提交后确认超时），需要挂起后续对账。
type Outcome struct {
	Executed bool
	Denied   bool
	Held     bool
	Reason   string
	Detail   string
	OrderID  string
	Position types.Position
	Trade    types.Trade
}

// Config 控制重试与 pending 轮询节奏。
type Config struct {
	Retry        backoff.Policy
	PollInterval time.Duration
	PollDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retry.Attempts <= 0 {
		c.Retry = backoff.DefaultPolicy
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollDeadline <= 0 {
		c.PollDeadline = 30 * time.Second
	}
	return c
}

// Executor 是执行网关。
type Executor struct {
	broker broker.Broker
	ledger Ledger
	cfg    Config
	nowFn  func() time.Time
}

// NewExecutor 构造执行网关。
func NewExecutor(b broker.Broker, ledger Ledger, cfg Config) *Executor {
	return &Executor{broker: b, ledger: ledger, cfg: cfg.withDefaults(), nowFn: time.Now}
}

// SetNowFunc 注入时钟，测试用。
func (e *Executor) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Execute 提交一笔提案并落账。调用方保证提案已通过风控校验。
func (e *Executor) Execute(ctx context.Context, p types.ProposedTrade) (Outcome, error) {
	if e == nil || e.broker == nil || e.ledger == nil {
		return Outcome{}, fmt.Errorf("executor 未初始化")
	}
	if p.TraceID == "" {
		return Outcome{}, fmt.Errorf("executor: trace id 不能为空")
	}

	if _, err := e.ledger.CreateOrderIntent(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("write order intent: %w", err)
	}

	// 退出单先切 pending_exit 再下单，下单失败时回退。
	if !p.IsEntry() {
		if err := e.ledger.MarkPendingExit(ctx, p.PositionID, "", p.ExitReason, e.nowFn()); err != nil {
			_ = e.ledger.MarkIntentAbandoned(ctx, p.TraceID, "mark pending exit failed")
			return Outcome{}, fmt.Errorf("mark pending exit: %w", err)
		}
	}

	order := broker.Order{
		ClientOrderID:  p.TraceID,
		Symbol:         p.Symbol,
		ContractSymbol: p.Contract.Symbol,
		Action:         p.Action,
		Quantity:       p.Quantity,
		LimitPrice:     p.LimitPrice,
	}

	var res broker.Result
	err := backoff.Retry(ctx, e.cfg.Retry, broker.IsTransient, func() error {
		var placeErr error
		res, placeErr = e.broker.PlaceOrder(ctx, order)
		return placeErr
	})
	if err != nil {
		// 通信层失败：订单是否被受理未知，意图行保持 submitted，
		// 留给下一周期对账，绝不盲目重建仓。
		logger.Errorf("下单失败（%s %s）: %v", p.Symbol, p.Contract.Symbol, err)
		if !p.IsEntry() {
			_ = e.ledger.RevertPendingExit(ctx, p.PositionID)
		}
		return Outcome{Held: true, Reason: "broker_unreachable", Detail: err.Error(), OrderID: res.OrderID}, err
	}

	if res.OrderID != "" {
		_ = e.ledger.AttachBrokerOrderID(ctx, p.TraceID, res.OrderID)
	}

	switch res.Status {
	case broker.StatusRejected:
		_ = e.ledger.MarkIntentAbandoned(ctx, p.TraceID, res.Reason)
		if !p.IsEntry() {
			if err := e.ledger.RevertPendingExit(ctx, p.PositionID); err != nil {
				return Outcome{}, fmt.Errorf("revert pending exit: %w", err)
			}
		}
		return Outcome{Denied: true, Reason: "broker_rejected", Detail: res.Reason, OrderID: res.OrderID}, nil
	case broker.StatusPending:
		final, err := e.pollUntilTerminal(ctx, res.OrderID)
		if err != nil {
			// 确认超时：订单可能仍会成交，挂起等待对账。
			return Outcome{Held: true, Reason: "order_unconfirmed", Detail: err.Error(), OrderID: res.OrderID}, err
		}
		if final.Status == broker.StatusRejected {
			_ = e.ledger.MarkIntentAbandoned(ctx, p.TraceID, final.Reason)
			if !p.IsEntry() {
				if err := e.ledger.RevertPendingExit(ctx, p.PositionID); err != nil {
					return Outcome{}, fmt.Errorf("revert pending exit: %w", err)
				}
			}
			return Outcome{Denied: true, Reason: "broker_rejected", Detail: final.Reason, OrderID: final.OrderID}, nil
		}
		res = final
	}

	return e.recordFill(ctx, p, res)
}

func (e *Executor) recordFill(ctx context.Context, p types.ProposedTrade, res broker.Result) (Outcome, error) {
	if res.FilledQty <= 0 {
		res.FilledQty = p.Quantity
	}
	if res.FillPrice <= 0 {
		res.FillPrice = p.LimitPrice
	}
	executedAt := e.nowFn()

	if p.IsEntry() {
		pos, trade, err := e.ledger.RecordEntryFill(ctx, gormstore.EntryFill{
			Proposed:   p,
			OrderID:    res.OrderID,
			FillPrice:  res.FillPrice,
			FilledQty:  res.FilledQty,
			Commission: res.Commission,
			ExecutedAt: executedAt,
		})
		if err != nil {
			// 成交已发生但落账失败是最严重的不一致，意图行保持
			// submitted，对账路径会重放这次落账。
			logger.Errorf("建仓落账失败 trace=%s order=%s: %v", p.TraceID, res.OrderID, err)
			return Outcome{Held: true, Reason: "ledger_write_failed", Detail: err.Error(), OrderID: res.OrderID}, err
		}
		return Outcome{Executed: true, OrderID: res.OrderID, Position: pos, Trade: trade}, nil
	}

	pos, trade, err := e.ledger.RecordExitFill(ctx, gormstore.ExitFill{
		PositionID: p.PositionID,
		OrderID:    res.OrderID,
		Action:     p.Action,
		FillPrice:  res.FillPrice,
		FilledQty:  res.FilledQty,
		Commission: res.Commission,
		ExecutedAt: executedAt,
		TraceID:    p.TraceID,
	})
	if err != nil {
		logger.Errorf("平仓落账失败 trace=%s order=%s: %v", p.TraceID, res.OrderID, err)
		return Outcome{Held: true, Reason: "ledger_write_failed", Detail: err.Error(), OrderID: res.OrderID}, err
	}
	return Outcome{Executed: true, OrderID: res.OrderID, Position: pos, Trade: trade}, nil
}

func (e *Executor) pollUntilTerminal(ctx context.Context, orderID string) (broker.Result, error) {
	deadline := e.nowFn().Add(e.cfg.PollDeadline)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		res, err := e.broker.OrderStatus(ctx, orderID)
		if err == nil && res.Status != broker.StatusPending {
			return res, nil
		}
		if err != nil && !broker.IsTransient(err) {
			return broker.Result{}, err
		}
		if e.nowFn().After(deadline) {
			return broker.Result{}, fmt.Errorf("order %s 在 %s 内未确认", orderID, e.cfg.PollDeadline)
		}
		select {
		case <-ctx.Done():
			return broker.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile 处理一条残留在 submitted 的订单意图：
// 向券商查询真实状态，成交则补落账，确认未受理则标记放弃。
// pending 返回 false 表示仍需保持挂起。
func (e *Executor) Reconcile(ctx context.Context, intent gormstore.OrderIntent) (bool, error) {
	if e == nil || e.broker == nil || e.ledger == nil {
		return false, fmt.Errorf("executor 未初始化")
	}
	p := intent.Payload
	if intent.BrokerOrderID == "" {
		// 券商从未返回单号，按“未受理”处理。
		if !p.IsEntry() && p.PositionID > 0 {
			_ = e.ledger.RevertPendingExit(ctx, p.PositionID)
		}
		if err := e.ledger.MarkIntentAbandoned(ctx, intent.ClientOrderID, "no broker order id"); err != nil {
			return false, err
		}
		logger.Warnf("订单意图 %s 无券商单号，标记放弃", intent.ClientOrderID)
		return true, nil
	}

	var res broker.Result
	err := backoff.Retry(ctx, e.cfg.Retry, broker.IsTransient, func() error {
		var qErr error
		res, qErr = e.broker.OrderStatus(ctx, intent.BrokerOrderID)
		return qErr
	})
	if err != nil {
		if errors.Is(err, broker.ErrOrderNotFound) || !broker.IsTransient(err) {
			if !p.IsEntry() && p.PositionID > 0 {
				_ = e.ledger.RevertPendingExit(ctx, p.PositionID)
			}
			if mErr := e.ledger.MarkIntentAbandoned(ctx, intent.ClientOrderID, "order not found"); mErr != nil {
				return false, mErr
			}
			return true, nil
		}
		return false, err
	}

	switch res.Status {
	case broker.StatusFilled:
		if _, err := e.recordFill(ctx, p, res); err != nil {
			return false, err
		}
		logger.Infof("对账补落账完成 trace=%s order=%s", intent.ClientOrderID, res.OrderID)
		return true, nil
	case broker.StatusRejected:
		if !p.IsEntry() && p.PositionID > 0 {
			_ = e.ledger.RevertPendingExit(ctx, p.PositionID)
		}
		if err := e.ledger.MarkIntentAbandoned(ctx, intent.ClientOrderID, res.Reason); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}
