package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"optq/internal/types"
)

// EntryFill 描述一笔已确认成交的建仓单落账所需的全部信息。
type EntryFill struct {
	Proposed   types.ProposedTrade
	OrderID    string
	FillPrice  float64
	FilledQty  int
	Commission float64
	ExecutedAt time.Time
}

// ExitFill 描述一笔已确认成交的平仓单。
type ExitFill struct {
	PositionID int64
	OrderID    string
	Action     types.TradeAction
	FillPrice  float64
	FilledQty  int
	Commission float64
	ExecutedAt time.Time
	TraceID    string
}

// RecordEntryFill 在单个事务内完成：建仓位 + 写成交台账 +
// 自动化执行计数 +1 + 账户资金扣减 + 订单意图确认。
// 事务性是硬约束：绝不允许出现有 Trade 无 Position（或反之）的中间态。
func (s *GormStore) RecordEntryFill(ctx context.Context, fill EntryFill) (types.Position, types.Trade, error) {
	if s == nil || s.db == nil {
		return types.Position{}, types.Trade{}, fmt.Errorf("gorm store 未初始化")
	}
	p := fill.Proposed
	if fill.FilledQty <= 0 || fill.FillPrice <= 0 {
		return types.Position{}, types.Trade{}, fmt.Errorf("fill 数据非法: qty=%d price=%.4f", fill.FilledQty, fill.FillPrice)
	}
	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = time.Now()
	}

	var outPos types.Position
	var outTrade types.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pos := newPositionModel(types.Position{
			UserID:       p.UserID,
			AutomationID: p.AutomationID,
			Symbol:       p.Symbol,
			ContractSymbol: p.Contract.Symbol,
			Strike:       p.Contract.Strike,
			Expiration:   p.Contract.Expiration,
			Right:        p.Contract.Right,
			Quantity:     fill.FilledQty,
			EntryAction:  p.Action,
			EntryPrice:   fill.FillPrice,
			CurrentPrice: fill.FillPrice,
			EntryGreeks:  p.Contract.Greeks,
			CurrentGreek: p.Contract.Greeks,
			Status:       types.PositionOpen,
			OpenedAt:     fill.ExecutedAt,
		})
		if err := tx.Create(&pos).Error; err != nil {
			return fmt.Errorf("create position: %w", err)
		}

		trade := tradeModel{
			PositionID:     pos.ID,
			UserID:         p.UserID,
			AutomationID:   p.AutomationID,
			Symbol:         strings.ToUpper(strings.TrimSpace(p.Symbol)),
			ContractSymbol: strings.ToUpper(strings.TrimSpace(p.Contract.Symbol)),
			Side:           string(types.TradeSideEntry),
			Action:         string(p.Action),
			Quantity:       fill.FilledQty,
			Price:          fill.FillPrice,
			Commission:     fill.Commission,
			BrokerOrderID:  strings.TrimSpace(fill.OrderID),
			TraceID:        strings.TrimSpace(p.TraceID),
			ExecutedAtUnix: fill.ExecutedAt.UnixMilli(),
			CreatedAtUnix:  time.Now().UnixMilli(),
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("create entry trade: %w", err)
		}

		if p.AutomationID != nil {
			if err := tx.Model(&automationModel{}).
				Where("id = ?", *p.AutomationID).
				Updates(map[string]interface{}{
					"execution_count": gorm.Expr("execution_count + 1"),
					"updated_at":      time.Now().UnixMilli(),
				}).Error; err != nil {
				return fmt.Errorf("bump execution count: %w", err)
			}
		}

		if err := applyAccountDelta(tx, p.UserID, string(p.Action), fill.FillPrice, fill.FilledQty, fill.Commission, 0); err != nil {
			return err
		}

		if err := markIntentRecordedTx(tx, p.TraceID, fill.OrderID); err != nil {
			return err
		}

		outPos = positionModelToRecord(pos)
		outTrade = tradeModelToRecord(trade)
		return nil
	})
	if err != nil {
		return types.Position{}, types.Trade{}, err
	}
	return outPos, outTrade, nil
}

// RecordExitFill 在单个事务内写平仓腿并关闭仓位。
// 已实现盈亏 = Σ卖出金额 − Σ买入金额 − Σ佣金，对买方/卖方策略统一成立；
// 计算只发生这一次，之后不可变。
func (s *GormStore) RecordExitFill(ctx context.Context, fill ExitFill) (types.Position, types.Trade, error) {
	if s == nil || s.db == nil {
		return types.Position{}, types.Trade{}, fmt.Errorf("gorm store 未初始化")
	}
	if fill.FilledQty <= 0 || fill.FillPrice <= 0 {
		return types.Position{}, types.Trade{}, fmt.Errorf("fill 数据非法: qty=%d price=%.4f", fill.FilledQty, fill.FillPrice)
	}
	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = time.Now()
	}

	var outPos types.Position
	var outTrade types.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos positionModel
		if err := tx.Where("id = ?", fill.PositionID).First(&pos).Error; err != nil {
			return fmt.Errorf("load position %d: %w", fill.PositionID, err)
		}
		if pos.Status == string(types.PositionClosed) {
			return fmt.Errorf("position %d already closed", fill.PositionID)
		}

		var priorTrades []tradeModel
		if err := tx.Where("position_id = ?", pos.ID).Order("id ASC").Find(&priorTrades).Error; err != nil {
			return fmt.Errorf("load trades: %w", err)
		}
		var entryTradeID *int64
		for _, t := range priorTrades {
			if t.Side == string(types.TradeSideEntry) {
				id := t.ID
				entryTradeID = &id
				break
			}
		}

		exit := tradeModel{
			PositionID:     pos.ID,
			UserID:         pos.UserID,
			AutomationID:   pos.AutomationID,
			Symbol:         pos.Symbol,
			ContractSymbol: pos.ContractSymbol,
			Side:           string(types.TradeSideExit),
			Action:         string(fill.Action),
			Quantity:       fill.FilledQty,
			Price:          fill.FillPrice,
			Commission:     fill.Commission,
			BrokerOrderID:  strings.TrimSpace(fill.OrderID),
			EntryTradeID:   entryTradeID,
			TraceID:        strings.TrimSpace(fill.TraceID),
			ExecutedAtUnix: fill.ExecutedAt.UnixMilli(),
			CreatedAtUnix:  time.Now().UnixMilli(),
		}
		if err := tx.Create(&exit).Error; err != nil {
			return fmt.Errorf("create exit trade: %w", err)
		}

		realized := realizedPnL(append(priorTrades, exit))
		closedAt := fill.ExecutedAt.UnixMilli()
		if err := tx.Model(&positionModel{}).
			Where("id = ?", pos.ID).
			Updates(map[string]interface{}{
				"status":        string(types.PositionClosed),
				"current_price": fill.FillPrice,
				"realized_pnl":  realized,
				"closed_at":     closedAt,
				"updated_at":    time.Now().UnixMilli(),
			}).Error; err != nil {
			return fmt.Errorf("close position: %w", err)
		}

		if err := applyAccountDelta(tx, pos.UserID, string(fill.Action), fill.FillPrice, fill.FilledQty, fill.Commission, realized); err != nil {
			return err
		}

		if err := markIntentRecordedTx(tx, fill.TraceID, fill.OrderID); err != nil {
			return err
		}

		pos.Status = string(types.PositionClosed)
		pos.CurrentPrice = fill.FillPrice
		pos.RealizedPnL = realized
		pos.ClosedAtUnix = &closedAt
		outPos = positionModelToRecord(pos)
		outTrade = tradeModelToRecord(exit)
		return nil
	})
	if err != nil {
		return types.Position{}, types.Trade{}, err
	}
	return outPos, outTrade, nil
}

// realizedPnL 用 decimal 精确累计一条仓位的全部成交腿。
func realizedPnL(trades []tradeModel) float64 {
	multiplier := decimal.NewFromInt(types.ContractMultiplier)
	total := decimal.Zero
	for _, t := range trades {
		amount := decimal.NewFromFloat(t.Price).
			Mul(multiplier).
			Mul(decimal.NewFromInt(int64(t.Quantity)))
		if t.Action == string(types.TradeActionSell) {
			total = total.Add(amount)
		} else {
			total = total.Sub(amount)
		}
		total = total.Sub(decimal.NewFromFloat(t.Commission))
	}
	f, _ := total.Round(2).Float64()
	return f
}

// applyAccountDelta 按成交方向增减账户购买力；
// realized 非零时同步调整净值（平仓时点）。
func applyAccountDelta(tx *gorm.DB, userID int64, action string, price float64, qty int, commission, realized float64) error {
	gross := price * types.ContractMultiplier * float64(qty)
	var bpDelta float64
	if action == string(types.TradeActionBuy) {
		bpDelta = -(gross + commission)
	} else {
		bpDelta = gross - commission
	}
	equityDelta := realized
	if realized == 0 {
		equityDelta = -commission
	}
	res := tx.Model(&accountModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"buying_power": gorm.Expr("buying_power + ?", bpDelta),
			"equity":       gorm.Expr("equity + ?", equityDelta),
			"updated_at":   time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return fmt.Errorf("apply account delta: %w", res.Error)
	}
	return nil
}

// ListTradesForPosition 返回仓位的全部成交腿（审计用）。
func (s *GormStore) ListTradesForPosition(ctx context.Context, positionID int64) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func tradeModelToRecord(m tradeModel) types.Trade {
	return types.Trade{
		ID:             m.ID,
		PositionID:     m.PositionID,
		UserID:         m.UserID,
		AutomationID:   m.AutomationID,
		Symbol:         m.Symbol,
		ContractSymbol: m.ContractSymbol,
		Side:           types.TradeSide(m.Side),
		Action:         types.TradeAction(m.Action),
		Quantity:       m.Quantity,
		Price:          m.Price,
		Commission:     m.Commission,
		BrokerOrderID:  m.BrokerOrderID,
		EntryTradeID:   m.EntryTradeID,
		TraceID:        m.TraceID,
		ExecutedAt:     millisToTime(m.ExecutedAtUnix),
		CreatedAt:      millisToTime(m.CreatedAtUnix),
	}
}
