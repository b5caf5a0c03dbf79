package app

import (
	"fmt"
	"strings"

	"optq/internal/config"
	"optq/internal/strategy"
)

// StartupSummary 汇总启动时的关键配置，打印到 stdout 便于核对。
type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Interval   string
	Primary    string
	Secondary  string
	BrokerMode string
	Strategies []string
	Calendar   string
	Telegram   bool
}

func buildSummary(cfg *config.Config, registry *strategy.Registry) *StartupSummary {
	s := &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		Interval:   cfg.Engine.Interval,
		Primary:    cfg.Market.Primary.Name,
		BrokerMode: cfg.Broker.Mode,
		Calendar:   fmt.Sprintf("%s %s-%s", cfg.Calendar.Timezone, cfg.Calendar.OpenTime, cfg.Calendar.CloseTime),
		Telegram:   cfg.Notify.Telegram.Enabled,
	}
	if cfg.Market.HasSecondary() {
		s.Secondary = cfg.Market.Secondary.Name
	}
	if registry != nil {
		for _, t := range registry.Snapshot().Templates {
			if t.Enabled {
				s.Strategies = append(s.Strategies, t.ID)
			}
		}
	} else {
		s.Strategies = strategy.KindIDs()
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("环境: %s | HTTP: %s | 周期: %s\n", s.Env, s.HTTPAddr, s.Interval)
	fmt.Printf("行情源: %s", s.Primary)
	if s.Secondary != "" {
		fmt.Printf(" (备用: %s)", s.Secondary)
	}
	fmt.Println()
	fmt.Printf("券商模式: %s | 交易时段: %s\n", s.BrokerMode, s.Calendar)
	fmt.Printf("启用策略: %s\n", formatList(s.Strategies))
	fmt.Printf("Telegram 通知: %v\n", s.Telegram)
	fmt.Println(strings.Repeat("=", 72))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
