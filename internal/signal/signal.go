package signal

import (
	"time"

	"optq/internal/analysis/indicator"
)

// Direction 表示信号方向。
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Signal 是单次评估的输出，仅存活于产生它的周期内，不落库。
type Signal struct {
	Symbol     string
	Timestamp  time.Time
	Direction  Direction
	Confidence float64
	Indicators indicator.Snapshot
	// Degraded 标记本信号因行情缺失而降级为零置信度。
	Degraded       bool
	DegradedReason string
}

// Tradable 判断信号是否达到某个自动化策略的入场门槛。
func (s Signal) Tradable(minConfidence float64) bool {
	if s.Degraded || s.Direction == DirectionNeutral {
		return false
	}
	return s.Confidence > 0 && s.Confidence >= minConfidence
}

// Weights 控制各指标投票的权重。保持为显式配置，
// 避免把评分公式硬编码在逻辑深处。
type Weights struct {
	MAShort   float64 `toml:"ma_short"`
	MAMid     float64 `toml:"ma_mid"`
	MALong    float64 `toml:"ma_long"`
	RSI       float64 `toml:"rsi"`
	MACD      float64 `toml:"macd"`
	Volume    float64 `toml:"volume"`
	YearRange float64 `toml:"year_range"`
}

// DefaultWeights 是指标投票的默认权重，总和 1.0。
func DefaultWeights() Weights {
	return Weights{
		MAShort:   0.10,
		MAMid:     0.10,
		MALong:    0.15,
		RSI:       0.15,
		MACD:      0.25,
		Volume:    0.10,
		YearRange: 0.15,
	}
}
