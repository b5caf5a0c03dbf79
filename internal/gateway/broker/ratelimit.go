package broker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedBroker 与行情侧共享同一个令牌桶，
// 保证两个协作方的出站调用合计不超过全局速率上限。
type RateLimitedBroker struct {
	inner   Broker
	limiter *rate.Limiter
}

func NewRateLimitedBroker(inner Broker, limiter *rate.Limiter) (*RateLimitedBroker, error) {
	if inner == nil {
		return nil, fmt.Errorf("rate limited broker requires inner broker")
	}
	return &RateLimitedBroker{inner: inner, limiter: limiter}, nil
}

func (r *RateLimitedBroker) Name() string { return r.inner.Name() }

func (r *RateLimitedBroker) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: limiter wait: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RateLimitedBroker) PlaceOrder(ctx context.Context, order Order) (Result, error) {
	if err := r.wait(ctx); err != nil {
		return Result{}, err
	}
	return r.inner.PlaceOrder(ctx, order)
}

func (r *RateLimitedBroker) OrderStatus(ctx context.Context, orderID string) (Result, error) {
	if err := r.wait(ctx); err != nil {
		return Result{}, err
	}
	return r.inner.OrderStatus(ctx, orderID)
}

var _ Broker = (*RateLimitedBroker)(nil)
