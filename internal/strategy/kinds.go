package strategy

import (
	"strings"

	"optq/internal/market"
	"optq/internal/signal"
	"optq/internal/types"
)

// Kind 是策略类型的封闭集合成员：每种类型自带方向门槛、
// 合约方向与建仓动作，以及自己的合约筛选谓词。
// 刻意不用接口继承，保持可枚举、可序列化。
type Kind struct {
	ID          string
	Description string
	// Right 是该策略交易的合约方向。
	Right market.OptionRight
	// EntryAction 是建仓动作：买方策略 buy，卖方策略 sell。
	EntryAction types.TradeAction

	directions map[signal.Direction]bool
	predicate  func(c market.OptionContract, spot float64) bool
}

// MatchesDirection 判断信号方向是否允许该策略入场。
func (k Kind) MatchesDirection(d signal.Direction) bool {
	return k.directions[d]
}

// AllowsContract 执行策略自身的合约谓词（硬约束）。
func (k Kind) AllowsContract(c market.OptionContract, spot float64) bool {
	if c.Right != k.Right {
		return false
	}
	if k.predicate == nil {
		return true
	}
	return k.predicate(c, spot)
}

// ExitAction 返回平仓动作（与建仓动作相反）。
func (k Kind) ExitAction() types.TradeAction {
	if k.EntryAction == types.TradeActionBuy {
		return types.TradeActionSell
	}
	return types.TradeActionBuy
}

const (
	KindLongCall        = "long_call"
	KindLongPut         = "long_put"
	KindCoveredCall     = "covered_call"
	KindCashSecuredPut  = "cash_secured_put"
)

func builtinKinds() map[string]Kind {
	return map[string]Kind{
		KindLongCall: {
			ID:          KindLongCall,
			Description: "buy calls on bullish signals",
			Right:       market.RightCall,
			EntryAction: types.TradeActionBuy,
			directions:  map[signal.Direction]bool{signal.DirectionBullish: true},
		},
		KindLongPut: {
			ID:          KindLongPut,
			Description: "buy puts on bearish signals",
			Right:       market.RightPut,
			EntryAction: types.TradeActionBuy,
			directions:  map[signal.Direction]bool{signal.DirectionBearish: true},
		},
		KindCoveredCall: {
			ID:          KindCoveredCall,
			Description: "sell out-of-the-money calls against held stock",
			Right:       market.RightCall,
			EntryAction: types.TradeActionSell,
			// 中性信号不入场：置信度评分只在方向明确时有意义。
			directions: map[signal.Direction]bool{
				signal.DirectionBullish: true,
			},
			// 卖出备兑只接受价外合约，避免立刻被行权。
			predicate: func(c market.OptionContract, spot float64) bool {
				return spot <= 0 || c.Strike > spot
			},
		},
		KindCashSecuredPut: {
			ID:          KindCashSecuredPut,
			Description: "sell cash-secured puts below spot",
			Right:       market.RightPut,
			EntryAction: types.TradeActionSell,
			directions: map[signal.Direction]bool{
				signal.DirectionBullish: true,
			},
			predicate: func(c market.OptionContract, spot float64) bool {
				return spot <= 0 || c.Strike < spot
			},
		},
	}
}

// LookupKind 在封闭集合中查找策略类型。
func LookupKind(id string) (Kind, bool) {
	k, ok := builtinKinds()[strings.ToLower(strings.TrimSpace(id))]
	return k, ok
}

// KindIDs 返回全部内置策略 ID（排序不保证）。
func KindIDs() []string {
	kinds := builtinKinds()
	out := make([]string, 0, len(kinds))
	for id := range kinds {
		out = append(out, id)
	}
	return out
}
