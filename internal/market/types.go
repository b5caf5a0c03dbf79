package market

import (
	"strings"
	"time"
)

// Candle 表示单根历史 K 线，时间戳使用毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Quote 表示标的的实时报价快照。
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid 返回买卖中间价，报价缺双边时退回 Last。
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// OptionRight 区分看涨/看跌。
type OptionRight string

const (
	RightCall OptionRight = "call"
	RightPut  OptionRight = "put"
)

// ParseRight 宽松解析合约方向。
func ParseRight(raw string) (OptionRight, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "call", "c":
		return RightCall, true
	case "put", "p":
		return RightPut, true
	default:
		return "", false
	}
}

// Greeks 保存期权价格敏感度。IV 为隐含波动率。
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	IV    float64 `json:"iv"`
}

// OptionContract 表示链上的单个可交易合约。
type OptionContract struct {
	Symbol       string      `json:"symbol"` // OCC 风格合约代码
	Underlying   string      `json:"underlying"`
	Strike       float64     `json:"strike"`
	Expiration   time.Time   `json:"expiration"`
	Right        OptionRight `json:"right"`
	Bid          float64     `json:"bid"`
	Ask          float64     `json:"ask"`
	Last         float64     `json:"last"`
	OpenInterest int64       `json:"open_interest"`
	Volume       int64       `json:"volume"`
	Greeks       Greeks      `json:"greeks"`
}

// DTE 返回距离到期的自然日数（向下取整，已到期为 0）。
func (c OptionContract) DTE(now time.Time) int {
	if c.Expiration.IsZero() {
		return 0
	}
	d := c.Expiration.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Mid 返回合约买卖中间价，缺双边时退回 Last。
func (c OptionContract) Mid() float64 {
	if c.Bid > 0 && c.Ask > 0 {
		return (c.Bid + c.Ask) / 2
	}
	return c.Last
}

// Spread 返回绝对买卖价差，无法计算时返回 0。
func (c OptionContract) Spread() float64 {
	if c.Bid > 0 && c.Ask > 0 && c.Ask >= c.Bid {
		return c.Ask - c.Bid
	}
	return 0
}

// OptionChain 是单个标的在一次抓取中的全部候选合约。
type OptionChain struct {
	Underlying string           `json:"underlying"`
	Spot       float64          `json:"spot"`
	Contracts  []OptionContract `json:"contracts"`
	FetchedAt  time.Time        `json:"fetched_at"`
}
