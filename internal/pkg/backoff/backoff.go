package backoff

import (
	"context"
	"time"
)

// Policy 描述指数退避参数。Attempts 含首次尝试。
type Policy struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultPolicy 适用于对券商/行情的短重试：1s, 2s, 4s。
var DefaultPolicy = Policy{Base: time.Second, Max: 8 * time.Second, Attempts: 3}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Max <= 0 {
		p.Max = 8 * time.Second
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	return p
}

// Delay 返回第 attempt 次失败后的等待时长（attempt 从 0 开始）。
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Retry 按策略执行 fn；retryable 返回 false 的错误立即失败不再重试。
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func() error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts-1 {
			break
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
