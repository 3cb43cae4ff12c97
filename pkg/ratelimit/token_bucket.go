package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器
type TokenBucket struct {
	rate           float64 // 每秒生成的令牌数
	capacity       float64
	tokens         float64
	lastRefillTime time.Time
	mutex          sync.Mutex
	retryWaitTime  time.Duration
	maxRetries     int
	now            func() time.Time
}

// NewTokenBucket 创建令牌桶，capacity <= 0 时为 QPM 的一半
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 1
	}
	if capacity <= 0 {
		capacity = max(qpm/2, 1)
	}

	return &TokenBucket{
		rate:           float64(qpm) / 60.0,
		capacity:       float64(capacity),
		tokens:         float64(capacity), // 初始填满
		lastRefillTime: time.Now(),
		retryWaitTime:  time.Second,
		now:            time.Now,
	}
}

// WithRetryPolicy 设置重试策略，maxRetries 为 0 时只调用一次
func (tb *TokenBucket) WithRetryPolicy(waitTime time.Duration, maxRetries int) *TokenBucket {
	if waitTime > 0 {
		tb.retryWaitTime = waitTime
	}
	tb.maxRetries = max(maxRetries, 0)
	return tb
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.lastRefillTime = now
	tb.tokens = min(tb.tokens+elapsed*tb.rate, tb.capacity)
}

// Allow 非阻塞地尝试消耗一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Wait 等待直到有令牌可用或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		timer := time.NewTimer(tb.untilNextToken())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// untilNextToken 距离下一个令牌生成的时间
func (tb *TokenBucket) untilNextToken() time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		return 0
	}
	return time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
}

// RetryWithBackoff 取得令牌后执行 fn，可重试的错误按指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for retry := 0; retry <= tb.maxRetries; retry++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryableError(err) || retry >= tb.maxRetries {
			return err
		}

		backoff := time.NewTimer(tb.retryWaitTime * time.Duration(1<<uint(retry)))
		select {
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		case <-backoff.C:
		}
	}
	return err
}

type httpStatusError interface {
	HTTPStatus() int
}

// isRetryableError 限流、服务端错误和网络抖动可重试；上下文取消或超时不重试
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se httpStatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code == http.StatusTooManyRequests || code >= 500
	}

	return contains(err.Error(), []string{
		"connection reset",
		"EOF",
		"connection refused",
		"rate limit",
		"no such host",
		"服务器繁忙",
		"请求超过限额",
		"QPS限制",
	})
}

func contains(s string, substrs []string) bool {
	for _, substr := range substrs {
		if substr != "" && strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
