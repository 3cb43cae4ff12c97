package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cv-ingest/internal/logger"
)

// slowWait 超过该时长的令牌等待会记录日志
const slowWait = 100 * time.Millisecond

// LimitedChatModel 在补全模型外层做 QPM 限流
type LimitedChatModel struct {
	original model.ToolCallingChatModel
	bucket   *TokenBucket
	name     string
	logger   zerolog.Logger
}

var _ model.ToolCallingChatModel = (*LimitedChatModel)(nil)

// NewLimitedChatModel 创建限流代理，桶容量为 QPM 的一半，默认不重试
func NewLimitedChatModel(original model.ToolCallingChatModel, name string, qpm int) *LimitedChatModel {
	return &LimitedChatModel{
		original: original,
		bucket:   NewTokenBucket(qpm, qpm/2),
		name:     name,
		logger:   logger.Component("ratelimit").With().Str("model", name).Logger(),
	}
}

// WithRetryPolicy 设置重试策略
func (m *LimitedChatModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *LimitedChatModel {
	m.bucket.WithRetryPolicy(waitTime, maxRetries)
	return m
}

// WithLogger 替换日志
func (m *LimitedChatModel) WithLogger(l zerolog.Logger) *LimitedChatModel {
	m.logger = l
	return m
}

// Generate 取得令牌后调用原模型
func (m *LimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var (
		response *schema.Message
		attempts int
	)
	start := time.Now()
	err := m.bucket.RetryWithBackoff(ctx, func() error {
		attempts++
		if attempts == 1 {
			m.observeWait(ctx, time.Since(start))
		}
		var genErr error
		response, genErr = m.original.Generate(ctx, messages, options...)
		return genErr
	})
	if attempts > 1 {
		m.logger.Warn().Err(err).Int("attempts", attempts).Msg("补全调用经过重试")
	}
	return response, err
}

// Stream 只做限流，不重试
func (m *LimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	start := time.Now()
	if err := m.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	m.observeWait(ctx, time.Since(start))
	return m.original.Stream(ctx, messages, options...)
}

// WithTools 新实例共用同一个令牌桶
func (m *LimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	withTools, err := m.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &LimitedChatModel{
		original: withTools,
		bucket:   m.bucket,
		name:     m.name,
		logger:   m.logger,
	}, nil
}

func (m *LimitedChatModel) observeWait(ctx context.Context, waited time.Duration) {
	if waited < slowWait {
		return
	}
	trace.SpanFromContext(ctx).AddEvent("ratelimit.wait",
		trace.WithAttributes(attribute.Int64("ratelimit.wait_ms", waited.Milliseconds())))
	m.logger.Debug().Dur("waited", waited).Msg("等待补全令牌")
}

// NewLLMWithRateLimit 按模型 QPM 配置创建限流代理。maxRetries 为 0 时不重试
func NewLLMWithRateLimit(original model.ToolCallingChatModel, modelName string, cfg map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) model.ToolCallingChatModel {
	return NewLimitedChatModel(original, modelName, EffectiveQPM(modelName, cfg, customQPM)).
		WithRetryPolicy(retryWaitTime, maxRetries)
}

// EffectiveQPM 模型有单独限制时取其 90%，否则用 customQPM，都没有时为 30
func EffectiveQPM(modelName string, cfg map[string]int, customQPM int) int {
	qpm := customQPM
	if modelQPM, ok := cfg[modelName]; ok && modelQPM > 0 && modelName != "" {
		qpm = max(int(float64(modelQPM)*0.9), 1)
	}
	if qpm <= 0 {
		qpm = 30
	}
	return qpm
}
