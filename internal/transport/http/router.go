package apihttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"optq/internal/engine"
	"optq/internal/monitor"
	"optq/internal/store/cyclelog"
	"optq/internal/store/gormstore"
	"optq/internal/strategy"
	"optq/internal/types"
)

// Router 暴露周期触发、自动化管理与台账查询接口。
type Router struct {
	Engine  *engine.Engine
	Monitor *monitor.Monitor
	Store   *gormstore.GormStore
	Cycles  *cyclelog.CycleLogStore
}

// Register 将 /api/v1 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/cycles/run", r.handleRunCycle)
	group.GET("/cycles", r.handleListCycles)
	group.GET("/cycles/:trace", r.handleCycleByTrace)

	group.GET("/automations", r.handleListAutomations)
	group.GET("/automations/:id", r.handleGetAutomation)
	group.POST("/automations", r.handleCreateAutomation)
	group.POST("/automations/:id/state", r.handleSetAutomationState)

	group.GET("/positions", r.handleListPositions)
	group.GET("/positions/:id", r.handleGetPosition)
	group.POST("/positions/:id/close", r.handleClosePosition)

	group.GET("/users/:user_id/limits", r.handleGetLimits)
	group.PUT("/users/:user_id/limits", r.handlePutLimits)
	group.GET("/users/:user_id/snapshot", r.handleSnapshot)
}

type runCycleRequest struct {
	AutomationID int64 `json:"automation_id"`
}

// handleRunCycle 手动触发一轮周期（或单个自动化），同步返回结论。
func (r *Router) handleRunCycle(c *gin.Context) {
	var req runCycleRequest
	_ = c.ShouldBindJSON(&req)

	if req.AutomationID > 0 {
		run, err := r.Engine.RunAutomationNow(c.Request.Context(), req.AutomationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
		return
	}

	report, err := r.Engine.RunCycle(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleListCycles(c *gin.Context) {
	if r.Cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "周期诊断日志未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	autoID, _ := strconv.ParseInt(c.Query("automation_id"), 10, 64)
	q := cyclelog.Query{
		Symbol:       c.Query("symbol"),
		Outcome:      c.Query("outcome"),
		AutomationID: autoID,
		Limit:        limit,
		Offset:       offset,
	}
	records, err := r.Cycles.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := r.Cycles.Count(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": records})
}

func (r *Router) handleCycleByTrace(c *gin.Context) {
	if r.Cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "周期诊断日志未启用"})
		return
	}
	records, err := r.Cycles.ListByTrace(c.Request.Context(), c.Param("trace"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trace_id": c.Param("trace"), "records": records})
}

func (r *Router) handleListAutomations(c *gin.Context) {
	onlyActive := c.Query("state") == "active"
	autos, err := r.Store.ListAutomations(c.Request.Context(), onlyActive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"automations": autos})
}

func (r *Router) handleGetAutomation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	auto, ok, err := r.Store.GetAutomation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}
	c.JSON(http.StatusOK, auto)
}

func (r *Router) handleCreateAutomation(c *gin.Context) {
	var auto types.Automation
	if err := c.ShouldBindJSON(&auto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if auto.UserID <= 0 || strings.TrimSpace(auto.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id 和 symbol 必填"})
		return
	}
	if _, ok := strategy.LookupKind(auto.Strategy); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知策略类型 " + auto.Strategy})
		return
	}
	if auto.State == "" {
		auto.State = types.AutomationActive
	}
	id, err := r.Store.CreateAutomation(c.Request.Context(), auto)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type stateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (r *Router) handleSetAutomationState(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state := types.AutomationState(req.State)
	switch state {
	case types.AutomationActive, types.AutomationPaused:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state 只能是 active 或 paused"})
		return
	}
	if err := r.Store.UpdateAutomationState(c.Request.Context(), id, state, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleListPositions(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol != "" {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		positions, err := r.Store.ListRecentPositions(c.Request.Context(), symbol, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": positions})
		return
	}
	positions, err := r.Store.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleGetPosition(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	pos, ok, err := r.Store.GetPosition(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	trades, err := r.Store.ListTradesForPosition(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos, "trades": trades})
}

func (r *Router) handleClosePosition(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	out, err := r.Monitor.ClosePosition(c.Request.Context(), id, uuid.NewString())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if out.Denied {
		c.JSON(http.StatusConflict, gin.H{"status": "rejected", "reason": out.Reason, "detail": out.Detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "position": out.Position, "trade": out.Trade})
}

func (r *Router) handleGetLimits(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	limits, ok, err := r.Store.GetRiskLimits(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "risk limits not configured"})
		return
	}
	c.JSON(http.StatusOK, limits)
}

func (r *Router) handlePutLimits(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	var limits types.RiskLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limits.UserID = userID
	if err := r.Store.UpsertRiskLimits(c.Request.Context(), limits); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	snap, err := r.Store.BuildPortfolioSnapshot(c.Request.Context(), userID, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}
