package config

import "strings"

// Config 是 optq 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Broker   BrokerConfig   `toml:"broker"`
	Engine   EngineConfig   `toml:"engine"`
	Signal   SignalConfig   `toml:"signal"`
	Matcher  MatcherConfig  `toml:"matcher"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Calendar CalendarConfig `toml:"calendar"`
	Notify   NotifyConfig   `toml:"notify"`
	Store    StoreConfig    `toml:"store"`
	Strategy StrategyConfig `toml:"strategy"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ProviderConfig 描述单个行情数据源。
type ProviderConfig struct {
	Name           string `toml:"name"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MarketConfig 配置行情源与共享限流/熔断参数。
type MarketConfig struct {
	Primary   ProviderConfig `toml:"primary"`
	Secondary ProviderConfig `toml:"secondary"`
	// RatePerSec 是全局出站请求预算：主备行情与券商网关
	// 共享同一个令牌桶。
	RatePerSec float64 `toml:"rate_per_sec"`
	RateBurst  int     `toml:"rate_burst"`
	// Breaker* 控制数据源熔断器。
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// HasSecondary 判断是否配置了备用数据源。
func (m MarketConfig) HasSecondary() bool {
	return strings.TrimSpace(m.Secondary.BaseURL) != ""
}

// BrokerConfig 配置券商网关。当前仅支持纸面模拟。
// 出站限流走 market.rate_per_sec 的共享令牌桶，这里不单独配置。
type BrokerConfig struct {
	Mode                  string  `toml:"mode"`
	CommissionPerContract float64 `toml:"commission_per_contract"`
	SlippagePct           float64 `toml:"slippage_pct"`
}

// EngineConfig 配置决策周期节奏与并发。
type EngineConfig struct {
	Interval               string `toml:"interval"`
	OffsetSeconds          int    `toml:"offset_seconds"`
	RunImmediately         bool   `toml:"run_immediately"`
	Parallelism            int    `toml:"parallelism"`
	Lookback               int    `toml:"lookback"`
	ReconcileAfterSeconds  int    `toml:"reconcile_after_seconds"`
	PollIntervalSeconds    int    `toml:"poll_interval_seconds"`
	PollDeadlineSeconds    int    `toml:"poll_deadline_seconds"`
	StuckTimeoutSeconds    int    `toml:"stuck_timeout_seconds"`
	RetryAttempts          int    `toml:"retry_attempts"`
	RetryBaseSeconds       int    `toml:"retry_base_seconds"`
}

// SignalConfig 是信号生成器的指标权重。
type SignalConfig struct {
	MAShort   float64 `toml:"ma_short"`
	MAMid     float64 `toml:"ma_mid"`
	MALong    float64 `toml:"ma_long"`
	RSI       float64 `toml:"rsi"`
	MACD      float64 `toml:"macd"`
	Volume    float64 `toml:"volume"`
	YearRange float64 `toml:"year_range"`
}

// MatcherConfig 是合约匹配器的评分权重。
type MatcherConfig struct {
	Delta     float64 `toml:"delta"`
	DTE       float64 `toml:"dte"`
	Liquidity float64 `toml:"liquidity"`
	Spread    float64 `toml:"spread"`
}

// MonitorConfig 配置仓位巡检。
type MonitorConfig struct {
	StuckTimeoutSeconds int `toml:"stuck_timeout_seconds"`
}

// CalendarConfig 配置交易所时段。
type CalendarConfig struct {
	Timezone  string   `toml:"timezone"`
	OpenTime  string   `toml:"open_time"`
	CloseTime string   `toml:"close_time"`
	Holidays  []string `toml:"holidays"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// StoreConfig 配置两套 SQLite 库：台账与周期诊断。
type StoreConfig struct {
	LedgerPath   string `toml:"ledger_path"`
	CycleLogPath string `toml:"cycle_log_path"`
}

// StrategyConfig 配置策略目录文件。
type StrategyConfig struct {
	CatalogPath string `toml:"catalog_path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
