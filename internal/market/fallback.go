package market

import (
	"context"
	"fmt"
	"strings"

	"optq/internal/logger"
)

// FallbackProvider 将主源与备源串联：主源瞬时故障时透明切换备源，
// 非瞬时错误（如标的不存在）直接上抛，避免掩盖配置问题。
type FallbackProvider struct {
	primary   DataProvider
	secondary DataProvider
}

// NewFallbackProvider 组合主备数据源，secondary 可为 nil（即无备源）。
func NewFallbackProvider(primary, secondary DataProvider) (*FallbackProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("fallback provider requires a primary source")
	}
	return &FallbackProvider{primary: primary, secondary: secondary}, nil
}

func (f *FallbackProvider) Name() string {
	names := []string{f.primary.Name()}
	if f.secondary != nil {
		names = append(names, f.secondary.Name())
	}
	return strings.Join(names, "->")
}

func (f *FallbackProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	q, err := f.primary.GetQuote(ctx, symbol)
	if err == nil || !f.shouldFallback(err) {
		return q, err
	}
	logger.Warnf("market: primary %s quote %s failed (%v), trying %s", f.primary.Name(), symbol, err, f.secondary.Name())
	return f.secondary.GetQuote(ctx, symbol)
}

func (f *FallbackProvider) GetHistory(ctx context.Context, symbol string, lookback int) ([]Candle, error) {
	candles, err := f.primary.GetHistory(ctx, symbol, lookback)
	if err == nil || !f.shouldFallback(err) {
		return candles, err
	}
	logger.Warnf("market: primary %s history %s failed (%v), trying %s", f.primary.Name(), symbol, err, f.secondary.Name())
	return f.secondary.GetHistory(ctx, symbol, lookback)
}

func (f *FallbackProvider) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (OptionChain, error) {
	chain, err := f.primary.GetOptionChain(ctx, symbol, minDTE, maxDTE)
	if err == nil || !f.shouldFallback(err) {
		return chain, err
	}
	logger.Warnf("market: primary %s chain %s failed (%v), trying %s", f.primary.Name(), symbol, err, f.secondary.Name())
	return f.secondary.GetOptionChain(ctx, symbol, minDTE, maxDTE)
}

func (f *FallbackProvider) shouldFallback(err error) bool {
	return f.secondary != nil && IsTransient(err)
}

var _ DataProvider = (*FallbackProvider)(nil)
