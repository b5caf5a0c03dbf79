package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"optq/internal/types"
)

// GetRiskLimits 返回用户的风控限额；未配置过时返回 ok=false。
func (s *GormStore) GetRiskLimits(ctx context.Context, userID int64) (types.RiskLimits, bool, error) {
	if s == nil || s.db == nil {
		return types.RiskLimits{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m riskLimitsModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.RiskLimits{}, false, nil
	}
	if err != nil {
		return types.RiskLimits{}, false, err
	}
	return types.RiskLimits{
		UserID:              m.UserID,
		MaxPositionSizePct:  m.MaxPositionSizePct,
		MaxCapitalAtRiskPct: m.MaxCapitalAtRiskPct,
		MaxOpenPositions:    m.MaxOpenPositions,
		MaxDailyLossPct:     m.MaxDailyLossPct,
		MaxWeeklyLossPct:    m.MaxWeeklyLossPct,
		MinDTE:              m.MinDTE,
		MaxDTE:              m.MaxDTE,
		UpdatedAt:           millisToTime(m.UpdatedAtUnix),
	}, true, nil
}

// UpsertRiskLimits 写入或覆盖用户限额。
func (s *GormStore) UpsertRiskLimits(ctx context.Context, limits types.RiskLimits) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if limits.UserID <= 0 {
		return fmt.Errorf("risk limits: user id 非法")
	}
	m := riskLimitsModel{
		UserID:              limits.UserID,
		MaxPositionSizePct:  limits.MaxPositionSizePct,
		MaxCapitalAtRiskPct: limits.MaxCapitalAtRiskPct,
		MaxOpenPositions:    limits.MaxOpenPositions,
		MaxDailyLossPct:     limits.MaxDailyLossPct,
		MaxWeeklyLossPct:    limits.MaxWeeklyLossPct,
		MinDTE:              limits.MinDTE,
		MaxDTE:              limits.MaxDTE,
		UpdatedAtUnix:       time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// Account 是账户资金视图。
type Account struct {
	UserID      int64
	Equity      float64
	BuyingPower float64
	UpdatedAt   time.Time
}

// GetAccount 返回账户资金；不存在时返回 ok=false。
func (s *GormStore) GetAccount(ctx context.Context, userID int64) (Account, bool, error) {
	if s == nil || s.db == nil {
		return Account{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m accountModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return Account{
		UserID:      m.UserID,
		Equity:      m.Equity,
		BuyingPower: m.BuyingPower,
		UpdatedAt:   millisToTime(m.UpdatedAtUnix),
	}, true, nil
}

// UpsertAccount 写入或覆盖账户资金（入金、管理端调整）。
func (s *GormStore) UpsertAccount(ctx context.Context, acct Account) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if acct.UserID <= 0 {
		return fmt.Errorf("account: user id 非法")
	}
	m := accountModel{
		UserID:        acct.UserID,
		Equity:        acct.Equity,
		BuyingPower:   acct.BuyingPower,
		UpdatedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// BuildPortfolioSnapshot 聚合用户当前的组合状态：账户资金、
// 在市仓位数、资金占用、当日与本周盈亏。快照取自同一个时间点，
// 同周期稍早的成交已在事务内更新账户，读到的就是最新值。
func (s *GormStore) BuildPortfolioSnapshot(ctx context.Context, userID int64, now time.Time) (types.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return types.PortfolioSnapshot{}, fmt.Errorf("gorm store 未初始化")
	}
	snap := types.PortfolioSnapshot{UserID: userID, TakenAt: now}

	acct, ok, err := s.GetAccount(ctx, userID)
	if err != nil {
		return types.PortfolioSnapshot{}, err
	}
	if !ok {
		return types.PortfolioSnapshot{}, fmt.Errorf("账户 %d 不存在，无法构建组合快照", userID)
	}
	snap.Equity = acct.Equity
	snap.BuyingPower = acct.BuyingPower

	open, err := s.ListUserOpenPositions(ctx, userID)
	if err != nil {
		return types.PortfolioSnapshot{}, err
	}
	snap.OpenPositions = len(open)
	for _, p := range open {
		snap.CapitalAtRisk += p.EntryCost()
		snap.DailyUnrealizedPnL += p.UnrealizedPnL()
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := startOfWeek(now)

	daily, err := s.sumRealizedClosedSince(ctx, userID, dayStart)
	if err != nil {
		return types.PortfolioSnapshot{}, err
	}
	snap.DailyRealizedPnL = daily

	weekly, err := s.sumRealizedClosedSince(ctx, userID, weekStart)
	if err != nil {
		return types.PortfolioSnapshot{}, err
	}
	snap.WeeklyRealizedPnL = weekly

	return snap, nil
}

func (s *GormStore) sumRealizedClosedSince(ctx context.Context, userID int64, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Where("user_id = ? AND status = ? AND closed_at >= ?", userID, string(types.PositionClosed), since.UnixMilli()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum realized pnl: %w", err)
	}
	return total, nil
}

// startOfWeek 返回本周一 00:00（本地时区）。
func startOfWeek(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return day.AddDate(0, 0, -offset)
}
