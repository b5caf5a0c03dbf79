package matcher

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"optq/internal/market"
	"optq/internal/strategy"
	"optq/internal/types"
)

// ErrNoContract 表示没有合约满足硬约束。
// 这是高频的正常结果，不是故障：调用方应记为 skipped 而非 error。
var ErrNoContract = errors.New("no contract satisfies constraints")

// Weights 控制候选合约排序的权衡，来源见配置。
// 原系统的优先级是隐式写死的，这里显式暴露为可配权重。
type Weights struct {
	Delta     float64 `toml:"delta"`
	DTE       float64 `toml:"dte"`
	Liquidity float64 `toml:"liquidity"`
	Spread    float64 `toml:"spread"`
}

// DefaultWeights 返回默认排序权重。
func DefaultWeights() Weights {
	return Weights{Delta: 0.45, DTE: 0.25, Liquidity: 0.20, Spread: 0.10}
}

// Matcher 从期权链中为一个合格信号挑选具体合约。
type Matcher struct {
	weights Weights
}

func New(weights Weights) *Matcher {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Matcher{weights: weights}
}

// scoreEpsilon 以内的分差视为并列，落入显式的平手规则。
const scoreEpsilon = 1e-9

// SelectContract 先按硬约束过滤（DTE 区间、|delta| 区间、策略谓词、
// 权利金上限、可成交报价），再按加权得分排序取最优。
// 平手规则：更高未平仓量优先，其次更窄价差。
func (m *Matcher) SelectContract(auto types.Automation, kind strategy.Kind, chain market.OptionChain, now time.Time) (market.OptionContract, error) {
	entry := auto.Entry
	candidates := make([]market.OptionContract, 0, len(chain.Contracts))
	for _, c := range chain.Contracts {
		if !kind.AllowsContract(c, chain.Spot) {
			continue
		}
		dte := c.DTE(now)
		if dte < entry.MinDTE || dte > entry.MaxDTE {
			continue
		}
		absDelta := math.Abs(c.Greeks.Delta)
		if absDelta < entry.MinDelta || absDelta > entry.MaxDelta {
			continue
		}
		mid := c.Mid()
		if mid <= 0 {
			continue
		}
		if entry.MaxPremium > 0 && mid > entry.MaxPremium {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return market.OptionContract{}, fmt.Errorf("%w: %s %s chain had %d contracts, 0 passed filters (dte %d-%d, delta %.2f-%.2f)",
			ErrNoContract, auto.NormalizedSymbol(), kind.Right, len(chain.Contracts),
			entry.MinDTE, entry.MaxDTE, entry.MinDelta, entry.MaxDelta)
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.Symbol] = m.score(c, entry, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		sa, sb := scores[a.Symbol], scores[b.Symbol]
		if math.Abs(sa-sb) > scoreEpsilon {
			return sa > sb
		}
		if a.OpenInterest != b.OpenInterest {
			return a.OpenInterest > b.OpenInterest
		}
		return a.Spread() < b.Spread()
	})
	return candidates[0], nil
}

// score 对单个候选合约打分，各分量归一化到 [0,1]。
func (m *Matcher) score(c market.OptionContract, entry types.EntryCriteria, now time.Time) float64 {
	absDelta := math.Abs(c.Greeks.Delta)
	deltaCloseness := 1 - math.Min(1, math.Abs(absDelta-entry.TargetDelta)/0.5)

	dteSpan := float64(entry.MaxDTE - entry.MinDTE)
	if dteSpan < 1 {
		dteSpan = 1
	}
	preferred := entry.PreferredDTE
	if preferred <= 0 {
		preferred = (entry.MinDTE + entry.MaxDTE) / 2
	}
	dteCloseness := 1 - math.Min(1, math.Abs(float64(c.DTE(now)-preferred))/dteSpan)

	// 饱和式流动性评分：500 张未平仓约得 0.5 分。
	liquidity := float64(c.OpenInterest) / (float64(c.OpenInterest) + 500)

	tightness := 0.0
	if mid := c.Mid(); mid > 0 {
		tightness = 1 - math.Min(1, c.Spread()/mid)
	}

	return m.weights.Delta*deltaCloseness +
		m.weights.DTE*dteCloseness +
		m.weights.Liquidity*liquidity +
		m.weights.Spread*tightness
}
