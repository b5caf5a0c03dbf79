package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"optq/internal/types"
)

// 订单意图状态机：submitted → recorded / abandoned。
const (
	IntentSubmitted = "submitted"
	IntentRecorded  = "recorded"
	IntentAbandoned = "abandoned"
)

// OrderIntent 是下单前先行落库的意图记录。
// 下单调用崩溃后，残留的 submitted 行就是对账线索。
type OrderIntent struct {
	ID            int64
	UserID        int64
	AutomationID  *int64
	PositionID    int64
	ClientOrderID string
	BrokerOrderID string
	Side          types.TradeSide
	Status        string
	Payload       types.ProposedTrade
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateOrderIntent 在向券商下单之前写入意图行。
// ClientOrderID 唯一，重复写入说明同一笔提案被重复执行，直接报错。
func (s *GormStore) CreateOrderIntent(ctx context.Context, p types.ProposedTrade) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	clientID := strings.TrimSpace(p.TraceID)
	if clientID == "" {
		return 0, fmt.Errorf("order intent: trace id 不能为空")
	}
	now := time.Now().UnixMilli()
	m := orderIntentModel{
		UserID:        p.UserID,
		AutomationID:  p.AutomationID,
		PositionID:    p.PositionID,
		ClientOrderID: clientID,
		Side:          string(p.Side),
		Status:        IntentSubmitted,
		PayloadJSON:   mustMarshalJSON(p),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("create order intent: %w", err)
	}
	return m.ID, nil
}

// AttachBrokerOrderID 在券商返回单号后补写到意图行；
// 即便后续落账失败，对账时也能凭单号查询券商侧状态。
func (s *GormStore) AttachBrokerOrderID(ctx context.Context, clientOrderID, brokerOrderID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&orderIntentModel{}).
		Where("client_order_id = ?", strings.TrimSpace(clientOrderID)).
		Updates(map[string]interface{}{
			"broker_order_id": strings.TrimSpace(brokerOrderID),
			"updated_at":      time.Now().UnixMilli(),
		}).Error
}

// MarkIntentAbandoned 标记一笔确认未成交（拒单或确认未提交）的意图。
func (s *GormStore) MarkIntentAbandoned(ctx context.Context, clientOrderID, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&orderIntentModel{}).
		Where("client_order_id = ? AND status = ?", strings.TrimSpace(clientOrderID), IntentSubmitted).
		Updates(map[string]interface{}{
			"status":     IntentAbandoned,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

// MarkIntentRecorded 单独确认一笔意图（对账路径，意图对应的成交
// 已在更早的事务里落账）。
func (s *GormStore) MarkIntentRecorded(ctx context.Context, clientOrderID, brokerOrderID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return markIntentRecordedTx(s.db.WithContext(ctx), clientOrderID, brokerOrderID)
}

// ListUnresolvedIntents 返回指定时刻之前写入、仍停留在 submitted
// 的意图行，按写入顺序排列。
func (s *GormStore) ListUnresolvedIntents(ctx context.Context, userID int64, before time.Time) ([]OrderIntent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	q := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", IntentSubmitted, before.UnixMilli())
	if userID > 0 {
		q = q.Where("user_id = ?", userID)
	}
	var models []orderIntentModel
	if err := q.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]OrderIntent, 0, len(models))
	for _, m := range models {
		rec, err := intentModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetOrderIntent 按 client order id 查询单条意图。
func (s *GormStore) GetOrderIntent(ctx context.Context, clientOrderID string) (OrderIntent, error) {
	if s == nil || s.db == nil {
		return OrderIntent{}, fmt.Errorf("gorm store 未初始化")
	}
	var m orderIntentModel
	err := s.db.WithContext(ctx).
		Where("client_order_id = ?", strings.TrimSpace(clientOrderID)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OrderIntent{}, fmt.Errorf("order intent %s 不存在", clientOrderID)
	}
	if err != nil {
		return OrderIntent{}, err
	}
	return intentModelToRecord(m)
}

// markIntentRecordedTx 是成交落账事务的收尾步骤。
// 找不到对应 submitted 行不算错误：对账路径可能已抢先确认。
func markIntentRecordedTx(tx *gorm.DB, clientOrderID, brokerOrderID string) error {
	clientOrderID = strings.TrimSpace(clientOrderID)
	if clientOrderID == "" {
		return nil
	}
	updates := map[string]interface{}{
		"status":     IntentRecorded,
		"updated_at": time.Now().UnixMilli(),
	}
	if b := strings.TrimSpace(brokerOrderID); b != "" {
		updates["broker_order_id"] = b
	}
	res := tx.Model(&orderIntentModel{}).
		Where("client_order_id = ? AND status = ?", clientOrderID, IntentSubmitted).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("mark intent recorded: %w", res.Error)
	}
	return nil
}

func intentModelToRecord(m orderIntentModel) (OrderIntent, error) {
	rec := OrderIntent{
		ID:            m.ID,
		UserID:        m.UserID,
		AutomationID:  m.AutomationID,
		PositionID:    m.PositionID,
		ClientOrderID: m.ClientOrderID,
		BrokerOrderID: m.BrokerOrderID,
		Side:          types.TradeSide(m.Side),
		Status:        m.Status,
		CreatedAt:     millisToTime(m.CreatedAtUnix),
		UpdatedAt:     millisToTime(m.UpdatedAtUnix),
	}
	if len(m.PayloadJSON) > 0 {
		if err := json.Unmarshal(m.PayloadJSON, &rec.Payload); err != nil {
			return OrderIntent{}, fmt.Errorf("decode intent payload: %w", err)
		}
	}
	return rec, nil
}
