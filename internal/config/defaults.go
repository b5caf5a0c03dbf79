package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9980"
	defaultAppLogPath       = "data/logs/optq.log"
	defaultMarketTimeout    = 10
	defaultMarketRate       = 5.0
	defaultMarketBurst      = 10
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30
	defaultBrokerMode       = "paper"
	defaultBrokerCommission = 0.65
	defaultEngineInterval   = "5m"
	defaultEngineOffset     = 5
	defaultParallelism      = 4
	defaultLookback         = 260
	defaultReconcileAfter   = 120
	defaultPollInterval     = 2
	defaultPollDeadline     = 30
	defaultRetryAttempts    = 3
	defaultRetryBase        = 1
	defaultStuckTimeout     = 600
	defaultLedgerPath       = "data/db/ledger.db"
	defaultCycleLogPath     = "data/db/cycles.db"
	defaultCatalogPath      = "configs/strategies.yaml"
	defaultCalendarTZ       = "America/New_York"
	defaultCalendarOpen     = "09:30"
	defaultCalendarClose    = "16:00"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Matcher.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Calendar.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "market.primary.timeout_seconds",
			need:  func() bool { return m.Primary.TimeoutSeconds <= 0 },
			apply: func() { m.Primary.TimeoutSeconds = defaultMarketTimeout },
		},
		fieldDefault{
			key:   "market.secondary.timeout_seconds",
			need:  func() bool { return m.Secondary.TimeoutSeconds <= 0 },
			apply: func() { m.Secondary.TimeoutSeconds = defaultMarketTimeout },
		},
		fieldDefault{
			key:   "market.rate_per_sec",
			need:  func() bool { return m.RatePerSec <= 0 },
			apply: func() { m.RatePerSec = defaultMarketRate },
		},
		fieldDefault{
			key:   "market.rate_burst",
			need:  func() bool { return m.RateBurst <= 0 },
			apply: func() { m.RateBurst = defaultMarketBurst },
		},
		fieldDefault{
			key:   "market.breaker_threshold",
			need:  func() bool { return m.BreakerThreshold <= 0 },
			apply: func() { m.BreakerThreshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   "market.breaker_cooldown_seconds",
			need:  func() bool { return m.BreakerCooldownSeconds <= 0 },
			apply: func() { m.BreakerCooldownSeconds = defaultBreakerCooldown },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		fieldDefault{
			key:   "broker.commission_per_contract",
			need:  func() bool { return b.CommissionPerContract <= 0 },
			apply: func() { b.CommissionPerContract = defaultBrokerCommission },
		},
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("engine.interval", &e.Interval, defaultEngineInterval),
		fieldDefault{
			key:   "engine.offset_seconds",
			need:  func() bool { return e.OffsetSeconds <= 0 },
			apply: func() { e.OffsetSeconds = defaultEngineOffset },
		},
		fieldDefault{
			key:   "engine.parallelism",
			need:  func() bool { return e.Parallelism <= 0 },
			apply: func() { e.Parallelism = defaultParallelism },
		},
		fieldDefault{
			key:   "engine.lookback",
			need:  func() bool { return e.Lookback <= 0 },
			apply: func() { e.Lookback = defaultLookback },
		},
		fieldDefault{
			key:   "engine.reconcile_after_seconds",
			need:  func() bool { return e.ReconcileAfterSeconds <= 0 },
			apply: func() { e.ReconcileAfterSeconds = defaultReconcileAfter },
		},
		fieldDefault{
			key:   "engine.poll_interval_seconds",
			need:  func() bool { return e.PollIntervalSeconds <= 0 },
			apply: func() { e.PollIntervalSeconds = defaultPollInterval },
		},
		fieldDefault{
			key:   "engine.poll_deadline_seconds",
			need:  func() bool { return e.PollDeadlineSeconds <= 0 },
			apply: func() { e.PollDeadlineSeconds = defaultPollDeadline },
		},
		fieldDefault{
			key:   "engine.retry_attempts",
			need:  func() bool { return e.RetryAttempts <= 0 },
			apply: func() { e.RetryAttempts = defaultRetryAttempts },
		},
		fieldDefault{
			key:   "engine.retry_base_seconds",
			need:  func() bool { return e.RetryBaseSeconds <= 0 },
			apply: func() { e.RetryBaseSeconds = defaultRetryBase },
		},
		fieldDefault{
			key:   "engine.stuck_timeout_seconds",
			need:  func() bool { return e.StuckTimeoutSeconds <= 0 },
			apply: func() { e.StuckTimeoutSeconds = defaultStuckTimeout },
		},
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	// 任一权重显式设置即视为整组自定义，全空时套默认权重。
	if s.MAShort > 0 || s.MAMid > 0 || s.MALong > 0 || s.RSI > 0 ||
		s.MACD > 0 || s.Volume > 0 || s.YearRange > 0 {
		return
	}
	s.MAShort = 0.10
	s.MAMid = 0.10
	s.MALong = 0.15
	s.RSI = 0.15
	s.MACD = 0.25
	s.Volume = 0.10
	s.YearRange = 0.15
}

func (m *MatcherConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if m.Delta > 0 || m.DTE > 0 || m.Liquidity > 0 || m.Spread > 0 {
		return
	}
	m.Delta = 0.45
	m.DTE = 0.25
	m.Liquidity = 0.20
	m.Spread = 0.10
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "monitor.stuck_timeout_seconds",
			need:  func() bool { return m.StuckTimeoutSeconds <= 0 },
			apply: func() { m.StuckTimeoutSeconds = defaultStuckTimeout },
		},
	)
}

func (c *CalendarConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("calendar.timezone", &c.Timezone, defaultCalendarTZ),
		stringFieldDefault("calendar.open_time", &c.OpenTime, defaultCalendarOpen),
		stringFieldDefault("calendar.close_time", &c.CloseTime, defaultCalendarClose),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.ledger_path", &s.LedgerPath, defaultLedgerPath),
		stringFieldDefault("store.cycle_log_path", &s.CycleLogPath, defaultCycleLogPath),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.catalog_path", &s.CatalogPath, defaultCatalogPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
