// Package cyclelog 持久化每个决策周期的诊断记录，方便排查
// “为什么这一轮没有下单”。与主台账分库，写入失败不影响交易主流程。
package cyclelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CycleLogStore 管理周期诊断日志。
type CycleLogStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// Record 是一条自动化在一个周期内的处理结果。
// Outcome 取 executed / skipped:<reason> / denied:<reason> / error:<reason>。
type Record struct {
	ID           int64   `json:"id"`
	TraceID      string  `json:"trace_id"`
	Timestamp    int64   `json:"ts"`
	AutomationID int64   `json:"automation_id"`
	UserID       int64   `json:"user_id"`
	Symbol       string  `json:"symbol"`
	Strategy     string  `json:"strategy"`
	Outcome      string  `json:"outcome"`
	Reason       string  `json:"reason,omitempty"`
	Direction    string  `json:"direction,omitempty"`
	Confidence   float64 `json:"confidence"`
	Contract     string  `json:"contract,omitempty"`
	Detail       string  `json:"detail,omitempty"`
	DurationMS   int64   `json:"duration_ms"`
}

// Query 用于筛选诊断记录。
type Query struct {
	TraceID      string
	AutomationID int64
	Symbol       string
	Outcome      string
	Limit        int
	Offset       int
}

// NewCycleLogStore 初始化 SQLite 存储。
func NewCycleLogStore(path string) (*CycleLogStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cycle log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureCycleLogSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &CycleLogStore{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 允许复用外部初始化的 SQLite 连接，避免多连接锁冲突。
func (s *CycleLogStore) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("cycle log store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureCycleLogSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// Close 关闭底层 DB。
func (s *CycleLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureCycleLogSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycle_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			automation_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			strategy TEXT,
			outcome TEXT NOT NULL,
			reason TEXT,
			direction TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			contract TEXT,
			detail TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_logs_trace ON cycle_logs(trace_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_logs_automation_ts ON cycle_logs(automation_id, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_logs_symbol_ts ON cycle_logs(symbol, ts DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("cycle log schema: %w", err)
		}
	}
	return nil
}

// Insert 写入一条诊断记录。
func (s *CycleLogStore) Insert(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("cycle log store 未初始化")
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO cycle_logs
			(trace_id, ts, automation_id, user_id, symbol, strategy, outcome, reason,
			 direction, confidence, contract, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(rec.TraceID),
		ts,
		rec.AutomationID,
		rec.UserID,
		strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		rec.Strategy,
		rec.Outcome,
		rec.Reason,
		rec.Direction,
		rec.Confidence,
		rec.Contract,
		rec.Detail,
		rec.DurationMS,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListByTrace 返回同一周期（同 trace）的全部记录，按写入顺序。
func (s *CycleLogStore) ListByTrace(ctx context.Context, traceID string) ([]Record, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil, fmt.Errorf("trace_id 不能为空")
	}
	return s.query(ctx, " WHERE trace_id = ? ORDER BY id ASC LIMIT 500", traceID)
}

// List 按筛选条件返回诊断记录，新的在前。
func (s *CycleLogStore) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildCycleFilter(q)
	var sb strings.Builder
	sb.WriteString(filterSQL)
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	return s.query(ctx, sb.String(), args...)
}

// Count 统计满足筛选条件的记录数量。
func (s *CycleLogStore) Count(ctx context.Context, q Query) (int, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("cycle log store 未初始化")
	}
	filterSQL, args := buildCycleFilter(q)
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycle_logs`+filterSQL, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildCycleFilter(q Query) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if t := strings.TrimSpace(q.TraceID); t != "" {
		conds = append(conds, "trace_id = ?")
		args = append(args, t)
	}
	if q.AutomationID > 0 {
		conds = append(conds, "automation_id = ?")
		args = append(args, q.AutomationID)
	}
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, sym)
	}
	if o := strings.TrimSpace(q.Outcome); o != "" {
		// outcome 带冒号后缀，前缀匹配即可筛到整类结果。
		conds = append(conds, "(outcome = ? OR outcome LIKE ?)")
		args = append(args, o, o+":%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *CycleLogStore) query(ctx context.Context, suffix string, args ...interface{}) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("cycle log store 未初始化")
	}
	rows, err := db.QueryContext(ctx, `SELECT id, trace_id, ts, automation_id, user_id, symbol,
		strategy, outcome, reason, direction, confidence, contract, detail, duration_ms
		FROM cycle_logs`+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.Timestamp, &rec.AutomationID,
			&rec.UserID, &rec.Symbol, &rec.Strategy, &rec.Outcome, &rec.Reason,
			&rec.Direction, &rec.Confidence, &rec.Contract, &rec.Detail, &rec.DurationMS); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// MarshalRecord 输出记录的 JSON 表示（调试/通知用）。
func MarshalRecord(rec Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(b)
}
