// Package app 负责应用级编排：加载配置 → 初始化依赖 →
// 启动 HTTP 服务与周期调度。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"optq/internal/config"
	"optq/internal/engine"
	"optq/internal/logger"
	"optq/internal/scheduler"
	"optq/internal/store/cyclelog"
	"optq/internal/store/gormstore"
	"optq/internal/strategy"
	apihttp "optq/internal/transport/http"
)

// App 持有全部长生命周期组件。
type App struct {
	cfg      *config.Config
	store    *gormstore.GormStore
	cycles   *cyclelog.CycleLogStore
	registry *strategy.Registry
	engine   *engine.Engine
	httpSrv  *apihttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(cfg)
}

// Run 启动 HTTP 服务与决策周期调度，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	interval, ok := scheduler.ParseIntervalDuration(a.cfg.Engine.Interval)
	if !ok {
		return fmt.Errorf("invalid engine interval %q", a.cfg.Engine.Interval)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewAlignedScheduler(ctx, interval,
			time.Duration(a.cfg.Engine.OffsetSeconds)*time.Second)
		sched.RunImmediately = a.cfg.Engine.RunImmediately
		sched.Start(func() {
			report, err := a.engine.RunCycle(ctx, false)
			if err != nil {
				logger.Errorf("决策周期执行失败: %v", err)
				return
			}
			if report.MarketOpen {
				logger.Infof("周期 %s 完成：评估自动化 %d 个，巡检结果 %d 条",
					report.TraceID, len(report.Results), report.Monitor)
			}
		})
		return nil
	})

	return group.Wait()
}

// Engine 暴露底层引擎实例（测试/回放用）。
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.cycles != nil {
		_ = a.cycles.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
