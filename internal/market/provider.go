package market

import (
	"context"
	"errors"
	"fmt"
)

// 数据源错误分类：引擎据此决定降级 / 跳过 / 熔断，
// 绝不允许静默伪造行情（历史教训）。
var (
	// ErrUnavailable 表示数据源暂时不可用（网络/5xx/超时）。
	ErrUnavailable = errors.New("market data unavailable")
	// ErrRateLimited 表示数据源限流，应退避后重试或切换备源。
	ErrRateLimited = errors.New("market data rate limited")
	// ErrSymbolNotFound 表示标的不存在，属于配置错误而非瞬时故障。
	ErrSymbolNotFound = errors.New("symbol not found")
)

// IsTransient 判断错误是否值得在下一周期再试。
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

// DataProvider 是行情协作方的最小接口。实现可以是 HTTP 源、备源包装、
// 限流包装或测试桩，核心引擎只依赖这一层。
type DataProvider interface {
	Name() string

	// GetQuote 返回标的最新报价。
	GetQuote(ctx context.Context, symbol string) (Quote, error)

	// GetHistory 返回最近 lookback 根日线，按时间升序。
	GetHistory(ctx context.Context, symbol string, lookback int) ([]Candle, error)

	// GetOptionChain 返回到期日落在 [minDTE, maxDTE] 内的期权链。
	GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (OptionChain, error)
}

// ValidateLookback 统一约束历史请求长度。
func ValidateLookback(lookback, max int) (int, error) {
	if lookback <= 0 {
		return 0, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	if max > 0 && lookback > max {
		return max, nil
	}
	return lookback, nil
}
