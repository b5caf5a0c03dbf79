package signal

import (
	"context"
	"testing"
	"time"

	"optq/internal/analysis/indicator"
	"optq/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.Quote), args.Error(1)
}

func (m *MockProvider) GetHistory(ctx context.Context, symbol string, lookback int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, lookback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *MockProvider) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (market.OptionChain, error) {
	args := m.Called(ctx, symbol, minDTE, maxDTE)
	return args.Get(0).(market.OptionChain), args.Error(1)
}

// trendCandles 生成单调上涨的日线序列，成交量恒定。
func trendCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	price := start
	for i := range out {
		open := price
		price += step
		out[i] = market.Candle{
			OpenTime:  base.AddDate(0, 0, i).UnixMilli(),
			CloseTime: base.AddDate(0, 0, i).Add(23 * time.Hour).UnixMilli(),
			Open:      open,
			High:      price + 0.5,
			Low:       open - 0.5,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

func bullishSnapshot() indicator.Snapshot {
	return indicator.Snapshot{
		Symbol: "AAPL", Count: 260,
		Close: 110, MAShort: 105, MAMid: 100, MALong: 95,
		RSI: 62, RSIState: "neutral",
		MACDHist:      0.8,
		VolumeRatio:   1.0,
		HighProximity: 0.95, LowProximity: 0.2,
	}
}

func TestScore_BullishAlignment(t *testing.T) {
	dir, conf := Score(bullishSnapshot(), DefaultWeights())
	assert.Equal(t, DirectionBullish, dir)
	// 全部指标同向：0.10+0.10+0.15+0.15+0.25+0.15 = 0.90（未放量）
	assert.InDelta(t, 0.90, conf, 1e-9)
}

func TestScore_VolumeAmplifiesExistingDirection(t *testing.T) {
	snap := bullishSnapshot()
	snap.VolumeRatio = 1.5

	_, conf := Score(snap, DefaultWeights())
	assert.InDelta(t, 1.0, conf, 1e-9)
}

func TestScore_BearishMirror(t *testing.T) {
	snap := indicator.Snapshot{
		Symbol: "AAPL", Count: 260,
		Close: 80, MAShort: 85, MAMid: 90, MALong: 95,
		RSI: 38, RSIState: "neutral",
		MACDHist:     -0.8,
		LowProximity: 0.95,
	}
	dir, conf := Score(snap, DefaultWeights())
	assert.Equal(t, DirectionBearish, dir)
	assert.InDelta(t, 0.90, conf, 1e-9)
}

func TestScore_TieReturnsNeutralZero(t *testing.T) {
	// 均线多空票数相抵，其余指标不投票。
	snap := indicator.Snapshot{
		Symbol: "AAPL", Count: 260,
		Close: 100, MAShort: 95, MAMid: 105, // 0.10 多 vs 0.10 空
		RSI: 50, RSIState: "neutral",
	}
	dir, conf := Score(snap, DefaultWeights())
	assert.Equal(t, DirectionNeutral, dir)
	assert.Zero(t, conf)
}

func TestScore_OverboughtRSIVotesBearish(t *testing.T) {
	snap := bullishSnapshot()
	snap.RSIState = "overbought"

	dir, conf := Score(snap, DefaultWeights())
	assert.Equal(t, DirectionBullish, dir)
	// RSI 的 0.15 从多头挪到空头：0.75 - 0.15 = 0.60
	assert.InDelta(t, 0.60, conf, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	snap := bullishSnapshot()
	for i := 0; i < 10; i++ {
		dir, conf := Score(snap, DefaultWeights())
		assert.Equal(t, DirectionBullish, dir)
		assert.InDelta(t, 0.90, conf, 1e-9)
	}
}

func TestEvaluate_TransientErrorDegrades(t *testing.T) {
	provider := new(MockProvider)
	provider.On("GetHistory", mock.Anything, "AAPL", 260).
		Return(nil, market.ErrUnavailable)

	g, err := NewGenerator(provider, indicator.Settings{}, Weights{})
	assert.NoError(t, err)

	sig, err := g.Evaluate(context.Background(), "aapl", 260)
	assert.NoError(t, err)
	assert.True(t, sig.Degraded)
	assert.Equal(t, DirectionNeutral, sig.Direction)
	assert.Zero(t, sig.Confidence)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.False(t, sig.Tradable(0.1))
}

func TestEvaluate_PermanentErrorPropagates(t *testing.T) {
	provider := new(MockProvider)
	provider.On("GetHistory", mock.Anything, "BAD", 260).
		Return(nil, market.ErrSymbolNotFound)

	g, _ := NewGenerator(provider, indicator.Settings{}, Weights{})
	_, err := g.Evaluate(context.Background(), "BAD", 260)
	assert.Error(t, err)
	assert.ErrorIs(t, err, market.ErrSymbolNotFound)
}

func TestEvaluate_ShortHistoryDegrades(t *testing.T) {
	provider := new(MockProvider)
	provider.On("GetHistory", mock.Anything, "AAPL", mock.Anything).
		Return(trendCandles(10, 100, 0.5), nil)

	g, _ := NewGenerator(provider, indicator.Settings{}, Weights{})
	sig, err := g.Evaluate(context.Background(), "AAPL", 260)
	assert.NoError(t, err)
	assert.True(t, sig.Degraded)
	assert.Contains(t, sig.DegradedReason, "insufficient history")
}

func TestEvaluate_UptrendProducesBullishSignal(t *testing.T) {
	provider := new(MockProvider)
	provider.On("GetHistory", mock.Anything, "AAPL", 260).
		Return(trendCandles(260, 100, 0.5), nil)

	g, _ := NewGenerator(provider, indicator.Settings{}, Weights{})
	g.SetNowFunc(func() time.Time { return time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC) })

	sig, err := g.Evaluate(context.Background(), "AAPL", 260)
	assert.NoError(t, err)
	assert.False(t, sig.Degraded)
	assert.Equal(t, DirectionBullish, sig.Direction)
	assert.Greater(t, sig.Confidence, 0.3)
	assert.True(t, sig.Tradable(0.3))
}

func TestEvaluate_EmptySymbolRejected(t *testing.T) {
	g, _ := NewGenerator(new(MockProvider), indicator.Settings{}, Weights{})
	_, err := g.Evaluate(context.Background(), "  ", 260)
	assert.Error(t, err)
}

func TestTradable(t *testing.T) {
	s := Signal{Direction: DirectionBullish, Confidence: 0.5}
	assert.True(t, s.Tradable(0.5))
	assert.False(t, s.Tradable(0.51))

	s.Degraded = true
	assert.False(t, s.Tradable(0.1))

	neutral := Signal{Direction: DirectionNeutral, Confidence: 0.9}
	assert.False(t, neutral.Tradable(0.1))
}
