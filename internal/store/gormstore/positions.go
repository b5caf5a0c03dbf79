package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"optq/internal/market"
	"optq/internal/types"
)

// GetPosition 按 ID 读取仓位。
func (s *GormStore) GetPosition(ctx context.Context, id int64) (types.Position, bool, error) {
	if s == nil || s.db == nil {
		return types.Position{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m positionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return types.Position{}, false, nil
		}
		return types.Position{}, false, err
	}
	return positionModelToRecord(m), true, nil
}

// ListOpenPositions 返回全部 open/pending_exit 仓位。
func (s *GormStore) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	return s.listPositions(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("status IN ?", []string{
			string(types.PositionOpen), string(types.PositionPendingExit),
		})
	})
}

// ListUserOpenPositions 返回某用户的在市仓位。
func (s *GormStore) ListUserOpenPositions(ctx context.Context, userID int64) ([]types.Position, error) {
	return s.listPositions(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("user_id = ? AND status IN ?", userID, []string{
			string(types.PositionOpen), string(types.PositionPendingExit),
		})
	})
}

// ListRecentPositions 返回最近的仓位（含已平仓），limit 上限 500。
func (s *GormStore) ListRecentPositions(ctx context.Context, symbol string, limit int) ([]types.Position, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.listPositions(ctx, func(q *gorm.DB) *gorm.DB {
		if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
			q = q.Where("symbol = ?", sym)
		}
		return q.Order("COALESCE(closed_at, opened_at) DESC, id DESC").Limit(limit)
	})
}

func (s *GormStore) listPositions(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]types.Position, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&positionModel{})
	if scope != nil {
		query = scope(query)
	}
	var models []positionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToRecord(m))
	}
	return out, nil
}

// CountOpenForAutomation 统计某自动化在某标的上的在市仓位数，
// 用于 allow_multiple_positions 不变量。
func (s *GormStore) CountOpenForAutomation(ctx context.Context, automationID int64, symbol string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("automation_id = ? AND symbol = ? AND status IN ?",
			automationID, strings.ToUpper(strings.TrimSpace(symbol)),
			[]string{string(types.PositionOpen), string(types.PositionPendingExit)}).
		Count(&total).Error
	return total, err
}

// UpdatePositionMark 刷新仓位的现价与希腊值（监控周期使用）。
func (s *GormStore) UpdatePositionMark(ctx context.Context, id int64, price float64, greeks market.Greeks) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND status != ?", id, string(types.PositionClosed)).
		Updates(map[string]interface{}{
			"current_price":       price,
			"current_greeks_json": mustMarshalJSON(greeks),
			"updated_at":          time.Now().UnixMilli(),
		}).Error
}

// MarkPendingExit 将 open 仓位迁移到 pending_exit。
// 仅当当前状态为 open 时生效，天然防止重叠周期的二次退出单。
func (s *GormStore) MarkPendingExit(ctx context.Context, id int64, orderID, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND status = ?", id, string(types.PositionOpen)).
		Updates(map[string]interface{}{
			"status":                string(types.PositionPendingExit),
			"exit_reason":           strings.TrimSpace(reason),
			"pending_exit_at":       at.UnixMilli(),
			"pending_exit_order_id": strings.TrimSpace(orderID),
			"updated_at":            time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("position %d is not open, refusing pending_exit", id)
	}
	return nil
}

// RevertPendingExit 把退出失败/超时的仓位退回 open，
// 仓位绝不允许停留在 pending_exit 悬而不决。
func (s *GormStore) RevertPendingExit(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND status = ?", id, string(types.PositionPendingExit)).
		Updates(map[string]interface{}{
			"status":                string(types.PositionOpen),
			"exit_reason":           "",
			"pending_exit_at":       nil,
			"pending_exit_order_id": "",
			"updated_at":            time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListStuckPendingExits 返回进入 pending_exit 早于 olderThan 的仓位。
func (s *GormStore) ListStuckPendingExits(ctx context.Context, olderThan time.Time) ([]types.Position, error) {
	return s.listPositions(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND pending_exit_at IS NOT NULL AND pending_exit_at < ?",
			string(types.PositionPendingExit), olderThan.UnixMilli())
	})
}

// --------------------- Converters ---------------------

func newPositionModel(p types.Position) positionModel {
	now := time.Now()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return positionModel{
		ID:                 p.ID,
		UserID:             p.UserID,
		AutomationID:       p.AutomationID,
		Symbol:             strings.ToUpper(strings.TrimSpace(p.Symbol)),
		ContractSymbol:     strings.ToUpper(strings.TrimSpace(p.ContractSymbol)),
		Strike:             p.Strike,
		ExpirationUnix:     p.Expiration.UnixMilli(),
		Right:              string(p.Right),
		Quantity:           p.Quantity,
		EntryAction:        string(p.EntryAction),
		EntryPrice:         p.EntryPrice,
		CurrentPrice:       p.CurrentPrice,
		EntryGreeksJSON:    mustMarshalJSON(p.EntryGreeks),
		CurrentGreeksJSON:  mustMarshalJSON(p.CurrentGreek),
		Status:             string(p.Status),
		ExitReason:         strings.TrimSpace(p.ExitReason),
		PendingExitUnix:    timePtrToMillis(p.PendingExitAt),
		PendingExitOrderID: strings.TrimSpace(p.PendingExitOrderID),
		OpenedAtUnix:       p.OpenedAt.UnixMilli(),
		ClosedAtUnix:       timePtrToMillis(p.ClosedAt),
		RealizedPnL:        p.RealizedPnL,
		UpdatedAtUnix:      p.UpdatedAt.UnixMilli(),
	}
}

func positionModelToRecord(m positionModel) types.Position {
	p := types.Position{
		ID:                 m.ID,
		UserID:             m.UserID,
		AutomationID:       m.AutomationID,
		Symbol:             strings.ToUpper(strings.TrimSpace(m.Symbol)),
		ContractSymbol:     strings.ToUpper(strings.TrimSpace(m.ContractSymbol)),
		Strike:             m.Strike,
		Expiration:         millisToTime(m.ExpirationUnix),
		Right:              market.OptionRight(m.Right),
		Quantity:           m.Quantity,
		EntryAction:        types.TradeAction(m.EntryAction),
		EntryPrice:         m.EntryPrice,
		CurrentPrice:       m.CurrentPrice,
		Status:             types.PositionStatus(m.Status),
		ExitReason:         m.ExitReason,
		PendingExitAt:      millisPtrToTime(m.PendingExitUnix),
		PendingExitOrderID: m.PendingExitOrderID,
		OpenedAt:           millisToTime(m.OpenedAtUnix),
		ClosedAt:           millisPtrToTime(m.ClosedAtUnix),
		RealizedPnL:        m.RealizedPnL,
		UpdatedAt:          millisToTime(m.UpdatedAtUnix),
	}
	_ = json.Unmarshal(m.EntryGreeksJSON, &p.EntryGreeks)
	_ = json.Unmarshal(m.CurrentGreeksJSON, &p.CurrentGreek)
	return p
}
