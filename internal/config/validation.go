package config

import (
	"fmt"
	"strings"

	"optq/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Matcher.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.Primary.BaseURL) == "" {
		return fmt.Errorf("market.primary.base_url is required")
	}
	if strings.TrimSpace(m.Primary.Name) == "" {
		return fmt.Errorf("market.primary.name is required")
	}
	if m.HasSecondary() && strings.TrimSpace(m.Secondary.Name) == "" {
		return fmt.Errorf("market.secondary.name is required when secondary is configured")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if b.Mode != "paper" {
		return fmt.Errorf("broker.mode only supports \"paper\", got %q", b.Mode)
	}
	if b.SlippagePct < 0 || b.SlippagePct > 0.1 {
		return fmt.Errorf("broker.slippage_pct must be in [0, 0.1]")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(e.Interval); !ok {
		return fmt.Errorf("engine.interval %q is invalid (expect 5m/15m/1h/1d)", e.Interval)
	}
	return nil
}

func (m *MatcherConfig) validate() error {
	if m.Delta < 0 || m.DTE < 0 || m.Liquidity < 0 || m.Spread < 0 {
		return fmt.Errorf("matcher weights must be >= 0")
	}
	if m.Delta+m.DTE+m.Liquidity+m.Spread <= 0 {
		return fmt.Errorf("matcher weights must not all be zero")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when enabled")
		}
		if strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when enabled")
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.LedgerPath) == "" {
		return fmt.Errorf("store.ledger_path is required")
	}
	if strings.TrimSpace(s.CycleLogPath) == "" {
		return fmt.Errorf("store.cycle_log_path is required")
	}
	return nil
}
