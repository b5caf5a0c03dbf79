package notifier

import (
	"fmt"
	"time"

	"optq/internal/logger"
	"optq/internal/types"
)

// Dispatch 异步发送通知，失败只记日志。
// 通知是 fire-and-forget：任何失败都不允许回滚或阻塞交易路径。
func Dispatch(n TextNotifier, msg StructuredMessage) {
	if n == nil {
		return
	}
	go func() {
		if err := n.SendText(msg.RenderMarkdown()); err != nil {
			logger.Warnf("notifier: send failed: %v", err)
		}
	}()
}

// ExecutionMessage 构建成交通知。
func ExecutionMessage(trade types.Trade, position types.Position) StructuredMessage {
	icon := "📈"
	title := fmt.Sprintf("Entry filled: %s", trade.Symbol)
	if trade.Side == types.TradeSideExit {
		icon = "🏁"
		title = fmt.Sprintf("Exit filled: %s", trade.Symbol)
	}
	lines := []string{
		fmt.Sprintf("contract: %s", trade.ContractSymbol),
		fmt.Sprintf("%s %d @ %.2f", trade.Action, trade.Quantity, trade.Price),
		fmt.Sprintf("commission: %.2f", trade.Commission),
	}
	if trade.Side == types.TradeSideExit {
		lines = append(lines,
			fmt.Sprintf("exit reason: %s", position.ExitReason),
			fmt.Sprintf("realized pnl: %.2f", position.RealizedPnL))
	}
	return StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  []MessageSection{{Title: "Fill", Lines: lines}},
		Timestamp: time.Now(),
	}
}

// DenialMessage 构建风控拒单通知。
func DenialMessage(p types.ProposedTrade, reason, detail string) StructuredMessage {
	return StructuredMessage{
		Icon:  "🚫",
		Title: fmt.Sprintf("Entry denied: %s", p.Symbol),
		Sections: []MessageSection{{
			Title: "Risk check",
			Lines: []string{
				fmt.Sprintf("contract: %s", p.Contract.Symbol),
				fmt.Sprintf("reason: %s", reason),
				detail,
			},
		}},
		Timestamp: time.Now(),
	}
}

// AutoPauseMessage 构建自动暂停通知，要求立刻可见而非只进日志。
func AutoPauseMessage(userID int64, reason string) StructuredMessage {
	return StructuredMessage{
		Icon:  "⏸️",
		Title: "Automations auto-paused",
		Sections: []MessageSection{{
			Title: "Details",
			Lines: []string{
				fmt.Sprintf("user: %d", userID),
				fmt.Sprintf("reason: %s", reason),
				"new entries are blocked until limits are manually reset",
			},
		}},
		Timestamp: time.Now(),
	}
}
