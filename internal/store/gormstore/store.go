// Package gormstore 用 Gorm + SQLite 实现持仓台账与风控配置的持久化。
package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	storemodel "optq/internal/store/model"
	"optq/internal/types"
)

type (
	automationModel  = storemodel.AutomationModel
	positionModel    = storemodel.PositionModel
	tradeModel       = storemodel.TradeModel
	riskLimitsModel  = storemodel.RiskLimitsModel
	accountModel     = storemodel.AccountModel
	orderIntentModel = storemodel.OrderIntentModel
)

// GormStore 是引擎唯一的台账入口：自动化、仓位、成交、风控限额、
// 账户与订单意图都经由它读写。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 打开（必要时创建）SQLite 台账库。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&automationModel{},
		&positionModel{},
		&tradeModel{},
		&riskLimitsModel{},
		&accountModel{},
		&orderIntentModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

var memStoreSeq atomic.Int64

// NewMemoryStore 打开独立的内存库（测试用），互相不共享数据。
func NewMemoryStore() (*GormStore, error) {
	dsn := fmt.Sprintf("file:memledger%d?mode=memory&cache=shared", memStoreSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&automationModel{}, &positionModel{}, &tradeModel{},
		&riskLimitsModel{}, &accountModel{}, &orderIntentModel{},
	); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close 关闭底层连接。
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB 暴露底层 *sql.DB 供共享连接使用。
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------- Automation ---------------------

// CreateAutomation 新建自动化，返回分配的 ID。
func (s *GormStore) CreateAutomation(ctx context.Context, a types.Automation) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	if a.UserID <= 0 {
		return 0, fmt.Errorf("user_id 必填")
	}
	if a.NormalizedSymbol() == "" {
		return 0, fmt.Errorf("symbol 必填")
	}
	if a.State == "" {
		a.State = types.AutomationActive
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m := newAutomationModel(a)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, err
	}
	return m.ID, nil
}

// GetAutomation 按 ID 读取。
func (s *GormStore) GetAutomation(ctx context.Context, id int64) (types.Automation, bool, error) {
	if s == nil || s.db == nil {
		return types.Automation{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m automationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return types.Automation{}, false, nil
		}
		return types.Automation{}, false, err
	}
	return automationModelToRecord(m), true, nil
}

// ListAutomations 返回全部自动化；onlyActive 为 true 时仅 active 状态。
func (s *GormStore) ListAutomations(ctx context.Context, onlyActive bool) ([]types.Automation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&automationModel{}).Order("id ASC")
	if onlyActive {
		query = query.Where("state = ?", string(types.AutomationActive))
	}
	var models []automationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Automation, 0, len(models))
	for _, m := range models {
		out = append(out, automationModelToRecord(m))
	}
	return out, nil
}

// UpdateAutomationState 迁移自动化状态并记录原因。
func (s *GormStore) UpdateAutomationState(ctx context.Context, id int64, state types.AutomationState, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&automationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        string(state),
			"state_reason": strings.TrimSpace(reason),
			"updated_at":   time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PauseUserAutomations 暂停某用户全部 active 自动化（当日亏损触线）。
// 返回被暂停的数量。
func (s *GormStore) PauseUserAutomations(ctx context.Context, userID int64, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&automationModel{}).
		Where("user_id = ? AND state = ?", userID, string(types.AutomationActive)).
		Updates(map[string]interface{}{
			"state":        string(types.AutomationPaused),
			"state_reason": strings.TrimSpace(reason),
			"updated_at":   time.Now().UnixMilli(),
		})
	return res.RowsAffected, res.Error
}

// SetAutomationDegraded 设置/清除对账降级标记。
func (s *GormStore) SetAutomationDegraded(ctx context.Context, id int64, degraded bool, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	flag := 0
	if degraded {
		flag = 1
	} else {
		reason = ""
	}
	return s.db.WithContext(ctx).Model(&automationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"degraded":        flag,
			"degraded_reason": strings.TrimSpace(reason),
			"updated_at":      time.Now().UnixMilli(),
		}).Error
}

// --------------------- Converters & helpers ---------------------

func newAutomationModel(a types.Automation) automationModel {
	return automationModel{
		ID:             a.ID,
		UserID:         a.UserID,
		Symbol:         a.NormalizedSymbol(),
		Strategy:       strings.ToLower(strings.TrimSpace(a.Strategy)),
		EntryJSON:      mustMarshalJSON(a.Entry),
		ExitJSON:       mustMarshalJSON(a.Exit),
		State:          string(a.State),
		StateReason:    strings.TrimSpace(a.StateReason),
		AllowMultiple:  boolToInt(a.AllowMultiplePositions),
		Degraded:       boolToInt(a.Degraded),
		DegradedReason: strings.TrimSpace(a.DegradedReason),
		ExecutionCount: a.ExecutionCount,
		CreatedAtUnix:  a.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  a.UpdatedAt.UnixMilli(),
	}
}

func automationModelToRecord(m automationModel) types.Automation {
	a := types.Automation{
		ID:                     m.ID,
		UserID:                 m.UserID,
		Symbol:                 strings.ToUpper(strings.TrimSpace(m.Symbol)),
		Strategy:               strings.ToLower(strings.TrimSpace(m.Strategy)),
		State:                  types.AutomationState(m.State),
		StateReason:            m.StateReason,
		AllowMultiplePositions: m.AllowMultiple != 0,
		Degraded:               m.Degraded != 0,
		DegradedReason:         m.DegradedReason,
		ExecutionCount:         m.ExecutionCount,
		CreatedAt:              millisToTime(m.CreatedAtUnix),
		UpdatedAt:              millisToTime(m.UpdatedAtUnix),
	}
	_ = json.Unmarshal(m.EntryJSON, &a.Entry)
	_ = json.Unmarshal(m.ExitJSON, &a.Exit)
	return a
}

func mustMarshalJSON(v interface{}) datatypes.JSON {
	buf, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(buf)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func timePtrToMillis(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func millisPtrToTime(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	ts := time.UnixMilli(*v)
	return &ts
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
