package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"optq/internal/market"
)

// Settings 描述信号评估所需的指标参数。
type Settings struct {
	Symbol string
	MA     MASettings
	RSI    RSISettings
	// VolumeWindow 是成交量对比的滚动均值窗口。
	VolumeWindow int
	// YearWindow 是 52 周高低点的回看根数（日线约 252）。
	YearWindow int
}

// MASettings 描述短/中/长期均线周期。
type MASettings struct {
	Short int `json:"short,omitempty"`
	Mid   int `json:"mid,omitempty"`
	Long  int `json:"long,omitempty"`
}

// RSISettings 描述 RSI 参数与超买超卖阈值。
type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Snapshot 汇总一次评估用到的全部指标终值。
// 字段全部为确定性纯计算结果：同一串 K 线必然得到同一个 Snapshot。
type Snapshot struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`

	Close   float64 `json:"close"`
	MAShort float64 `json:"ma_short"`
	MAMid   float64 `json:"ma_mid"`
	MALong  float64 `json:"ma_long"`

	RSI      float64 `json:"rsi"`
	RSIState string  `json:"rsi_state"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`

	// VolumeRatio = 最新成交量 / 滚动均量，>1 表示放量。
	VolumeRatio float64 `json:"volume_ratio"`

	High52W float64 `json:"high_52w"`
	Low52W  float64 `json:"low_52w"`
	// HighProximity/LowProximity ∈ [0,1]，1 表示紧贴 52 周高/低点。
	HighProximity float64 `json:"high_proximity"`
	LowProximity  float64 `json:"low_proximity"`

	Warnings []string `json:"warnings,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.MA.Short <= 0 {
		s.MA.Short = 20
	}
	if s.MA.Mid <= 0 {
		s.MA.Mid = 50
	}
	if s.MA.Long <= 0 {
		s.MA.Long = 200
	}
	if s.RSI.Period <= 0 {
		s.RSI.Period = 14
	}
	if s.RSI.Overbought == 0 {
		s.RSI.Overbought = 70
	}
	if s.RSI.Oversold == 0 {
		s.RSI.Oversold = 30
	}
	if s.VolumeWindow <= 0 {
		s.VolumeWindow = 20
	}
	if s.YearWindow <= 0 {
		s.YearWindow = 252
	}
	return s
}

// Compute 从一串日线 K 线计算全部指标终值。
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	cfg = cfg.withDefaults()
	snap := Snapshot{Symbol: cfg.Symbol, Count: len(candles)}
	if len(candles) == 0 {
		return snap, fmt.Errorf("no candles")
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	snap.Close = closes[len(closes)-1]

	snap.MAShort = lastValid(sanitizeSeries(talib.Sma(closes, minPeriod(cfg.MA.Short, len(closes)))))
	snap.MAMid = lastValid(sanitizeSeries(talib.Sma(closes, minPeriod(cfg.MA.Mid, len(closes)))))
	if len(closes) >= cfg.MA.Long {
		snap.MALong = lastValid(sanitizeSeries(talib.Sma(closes, cfg.MA.Long)))
	} else {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("ma_long skipped: need %d candles, have %d", cfg.MA.Long, len(closes)))
	}

	if len(closes) > cfg.RSI.Period {
		snap.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSI.Period)))
		switch {
		case snap.RSI >= cfg.RSI.Overbought:
			snap.RSIState = "overbought"
		case snap.RSI <= cfg.RSI.Oversold:
			snap.RSIState = "oversold"
		default:
			snap.RSIState = "neutral"
		}
	} else {
		snap.RSIState = "unknown"
		snap.Warnings = append(snap.Warnings, "rsi skipped: insufficient candles")
	}

	if len(closes) >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		snap.MACD = lastValid(sanitizeSeries(macd))
		snap.MACDSignal = lastValid(sanitizeSeries(signal))
		snap.MACDHist = lastValid(sanitizeSeries(hist))
	} else {
		snap.Warnings = append(snap.Warnings, "macd skipped: insufficient candles")
	}

	volWindow := minPeriod(cfg.VolumeWindow, len(volumes))
	avgVol := lastValid(sanitizeSeries(talib.Sma(volumes, volWindow)))
	if avgVol > 0 {
		snap.VolumeRatio = round4(volumes[len(volumes)-1] / avgVol)
	}

	yearWindow := cfg.YearWindow
	if yearWindow > len(candles) {
		yearWindow = len(candles)
	}
	snap.High52W = maxOf(highs[len(highs)-yearWindow:])
	snap.Low52W = minOf(lows[len(lows)-yearWindow:])
	if snap.High52W > snap.Low52W {
		span := snap.High52W - snap.Low52W
		snap.HighProximity = round4(clamp01((snap.Close - snap.Low52W) / span))
		snap.LowProximity = round4(1 - snap.HighProximity)
	}

	return snap, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func minPeriod(want, have int) int {
	if want < 2 {
		want = 2
	}
	if want > have {
		// talib 在周期大于样本时整段返回 0，退化为可用的最大周期。
		if have < 2 {
			return 2
		}
		return have
	}
	return want
}

func maxOf(series []float64) float64 {
	out := math.Inf(-1)
	for _, v := range series {
		if v > out {
			out = v
		}
	}
	if math.IsInf(out, -1) {
		return 0
	}
	return out
}

func minOf(series []float64) float64 {
	out := math.Inf(1)
	for _, v := range series {
		if v > 0 && v < out {
			out = v
		}
	}
	if math.IsInf(out, 1) {
		return 0
	}
	return out
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
