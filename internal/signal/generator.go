package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"optq/internal/analysis/indicator"
	"optq/internal/logger"
	"optq/internal/market"
)

const (
	defaultLookback = 260
	minLookback     = 30
)

// Generator 把历史行情转成带方向与置信度的信号。
// 评分是纯函数：同一串 K 线必然得到同一个置信度，便于复盘解释。
type Generator struct {
	provider market.DataProvider
	settings indicator.Settings
	weights  Weights
	nowFn    func() time.Time
}

// NewGenerator 构建信号生成器；weights 传零值时使用默认权重。
func NewGenerator(provider market.DataProvider, settings indicator.Settings, weights Weights) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("signal generator requires data provider")
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Generator{
		provider: provider,
		settings: settings,
		weights:  weights,
		nowFn:    time.Now,
	}, nil
}

// SetNowFunc 注入时钟，仅测试使用。
func (g *Generator) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		g.nowFn = fn
	}
}

// Evaluate 拉取 lookback 根日线并评分。
// 行情瞬时不可用时返回零置信度的降级信号而不是错误，
// 让调度器可以记录原因后继续处理其他标的。
func (g *Generator) Evaluate(ctx context.Context, symbol string, lookback int) (Signal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Signal{}, fmt.Errorf("symbol is required")
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if lookback < minLookback {
		lookback = minLookback
	}
	now := g.nowFn()

	candles, err := g.provider.GetHistory(ctx, symbol, lookback)
	if err != nil {
		if market.IsTransient(err) {
			logger.Warnf("signal: history %s unavailable, degrading to zero confidence: %v", symbol, err)
			return g.degraded(symbol, now, err.Error()), nil
		}
		return Signal{}, fmt.Errorf("fetch history %s: %w", symbol, err)
	}
	if len(candles) < minLookback {
		return g.degraded(symbol, now, fmt.Sprintf("insufficient history: %d candles", len(candles))), nil
	}

	cfg := g.settings
	cfg.Symbol = symbol
	snap, err := indicator.Compute(candles, cfg)
	if err != nil {
		return g.degraded(symbol, now, "indicator compute failed: "+err.Error()), nil
	}

	direction, confidence := Score(snap, g.weights)
	return Signal{
		Symbol:     symbol,
		Timestamp:  now,
		Direction:  direction,
		Confidence: confidence,
		Indicators: snap,
	}, nil
}

func (g *Generator) degraded(symbol string, now time.Time, reason string) Signal {
	return Signal{
		Symbol:         symbol,
		Timestamp:      now,
		Direction:      DirectionNeutral,
		Confidence:     0,
		Degraded:       true,
		DegradedReason: reason,
	}
}

// Score 把指标快照转成 (方向, 置信度)。
// 每个指标按权重给多头或空头投票，置信度取两侧差值；
// 票数打平视为歧义，按约定返回零置信度。
func Score(snap indicator.Snapshot, w Weights) (Direction, float64) {
	var bull, bear float64

	vote := func(weight float64, bullish, bearish bool) {
		switch {
		case bullish:
			bull += weight
		case bearish:
			bear += weight
		}
	}

	if snap.MAShort > 0 {
		vote(w.MAShort, snap.Close > snap.MAShort, snap.Close < snap.MAShort)
	}
	if snap.MAMid > 0 {
		vote(w.MAMid, snap.Close > snap.MAMid, snap.Close < snap.MAMid)
	}
	if snap.MALong > 0 {
		vote(w.MALong, snap.Close > snap.MALong, snap.Close < snap.MALong)
	}

	switch snap.RSIState {
	case "overbought":
		bear += w.RSI
	case "oversold":
		bull += w.RSI
	case "neutral":
		vote(w.RSI, snap.RSI > 50, snap.RSI < 50)
	}

	vote(w.MACD, snap.MACDHist > 0, snap.MACDHist < 0)

	// 52 周区间位置：贴近高点视为强势突破区，贴近低点视为弱势。
	vote(w.YearRange, snap.HighProximity >= 0.90, snap.LowProximity >= 0.90)

	// 放量只强化已有方向，不独立产生方向。
	if snap.VolumeRatio >= 1.20 {
		switch {
		case bull > bear:
			bull += w.Volume
		case bear > bull:
			bear += w.Volume
		}
	}

	diff := bull - bear
	confidence := clamp01(math.Abs(diff))
	switch {
	case diff > 0:
		return DirectionBullish, round4(confidence)
	case diff < 0:
		return DirectionBearish, round4(confidence)
	default:
		return DirectionNeutral, 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
