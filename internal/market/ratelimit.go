package market

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider 用共享令牌桶约束对外行情调用。
// 同一个 *rate.Limiter 也会交给 broker 网关，保证全局出站速率统一受控。
type RateLimitedProvider struct {
	inner   DataProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider 包装数据源；limiter 为 nil 时直接透传。
func NewRateLimitedProvider(inner DataProvider, limiter *rate.Limiter) (*RateLimitedProvider, error) {
	if inner == nil {
		return nil, fmt.Errorf("rate limited provider requires inner source")
	}
	return &RateLimitedProvider{inner: inner, limiter: limiter}, nil
}

func (r *RateLimitedProvider) Name() string { return r.inner.Name() }

func (r *RateLimitedProvider) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: limiter wait: %v", ErrRateLimited, err)
	}
	return nil
}

func (r *RateLimitedProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if err := r.wait(ctx); err != nil {
		return Quote{}, err
	}
	return r.inner.GetQuote(ctx, symbol)
}

func (r *RateLimitedProvider) GetHistory(ctx context.Context, symbol string, lookback int) ([]Candle, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetHistory(ctx, symbol, lookback)
}

func (r *RateLimitedProvider) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (OptionChain, error) {
	if err := r.wait(ctx); err != nil {
		return OptionChain{}, err
	}
	return r.inner.GetOptionChain(ctx, symbol, minDTE, maxDTE)
}

var _ DataProvider = (*RateLimitedProvider)(nil)
