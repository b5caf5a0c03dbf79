package market

import (
	"context"
	"fmt"

	"optq/internal/pkg/circuit"
)

// GuardedProvider 给数据源套一层熔断：源持续失败时快速拒绝，
// 避免每个周期都在同一个坏源上浪费超时时间。
type GuardedProvider struct {
	inner   DataProvider
	breaker *circuit.Breaker
}

func NewGuardedProvider(inner DataProvider, breaker *circuit.Breaker) (*GuardedProvider, error) {
	if inner == nil {
		return nil, fmt.Errorf("guarded provider requires inner source")
	}
	if breaker == nil {
		return nil, fmt.Errorf("guarded provider requires breaker")
	}
	return &GuardedProvider{inner: inner, breaker: breaker}, nil
}

func (g *GuardedProvider) Name() string { return g.inner.Name() }

func (g *GuardedProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if !g.breaker.Allow() {
		return Quote{}, fmt.Errorf("%w: circuit open for %s", ErrUnavailable, g.inner.Name())
	}
	q, err := g.inner.GetQuote(ctx, symbol)
	g.record(err)
	return q, err
}

func (g *GuardedProvider) GetHistory(ctx context.Context, symbol string, lookback int) ([]Candle, error) {
	if !g.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrUnavailable, g.inner.Name())
	}
	candles, err := g.inner.GetHistory(ctx, symbol, lookback)
	g.record(err)
	return candles, err
}

func (g *GuardedProvider) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (OptionChain, error) {
	if !g.breaker.Allow() {
		return OptionChain{}, fmt.Errorf("%w: circuit open for %s", ErrUnavailable, g.inner.Name())
	}
	chain, err := g.inner.GetOptionChain(ctx, symbol, minDTE, maxDTE)
	g.record(err)
	return chain, err
}

// record 只把瞬时故障计入熔断；标的不存在这类业务错误不应打开熔断。
func (g *GuardedProvider) record(err error) {
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case IsTransient(err):
		g.breaker.RecordFailure()
	}
}

var _ DataProvider = (*GuardedProvider)(nil)
