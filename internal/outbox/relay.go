// Package outbox 发件箱：消息队列暂时不可用时先把消息落库，由 Relay 在后台补发
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/storage/models"
	"cv-ingest/internal/tracing"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	defaultMaxRetries      = 5
)

// Publisher 补发使用的发布器
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// Relay 轮询 outbox_messages 表并把 PENDING 消息发布出去
type Relay struct {
	db              *gorm.DB
	publisher       Publisher
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	now             func() time.Time
	tracer          trace.Tracer
	logger          zerolog.Logger
}

// Option 配置选项
type Option func(*Relay)

func WithPollingInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxRetries 超过次数的消息标记为 FAILED，不再补发
func WithMaxRetries(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// NewRelay 创建 Relay
func NewRelay(db *gorm.DB, publisher Publisher, options ...Option) *Relay {
	r := &Relay{
		db:              db,
		publisher:       publisher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		maxRetries:      defaultMaxRetries,
		now:             time.Now,
		tracer:          otel.Tracer("cv-ingest/outbox"),
		logger:          logger.Component("outbox_relay"),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// NewMessage 构造一条待发布消息
func NewMessage(exchange, routingKey, aggregateID, eventType string, payload any) (*models.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化发件箱消息失败: %w", err)
	}
	return &models.OutboxMessage{
		AggregateID:      aggregateID,
		EventType:        eventType,
		Payload:          datatypes.JSON(data),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}

// Enqueue 把消息写入发件箱
func (r *Relay) Enqueue(ctx context.Context, exchange, routingKey, aggregateID, eventType string, payload any) error {
	msg, err := NewMessage(exchange, routingKey, aggregateID, eventType, payload)
	if err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "outbox.Enqueue",
		trace.WithAttributes(
			attribute.String("messaging.destination", exchange),
			attribute.String("messaging.routing_key", routingKey),
			attribute.String("outbox.aggregate_id", aggregateID),
		))
	defer span.End()

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	r.logger.Info().
		Uint64("id", msg.ID).
		Str("aggregate_id", aggregateID).
		Str("event_type", eventType).
		Msg("消息已写入发件箱")
	return nil
}

// Run 按轮询间隔补发，阻塞到 ctx 取消
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.pollingInterval).Msg("发件箱补发启动")
	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("发件箱补发停止")
			return
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("处理发件箱消息失败")
			}
		}
	}
}

// ProcessPending 处理一批 PENDING 消息，返回成功发布的条数
func (r *Relay) ProcessPending(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 让多个实例可以并行补发
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("查询待发布消息失败: %w", err)
	}

	// 空轮询不创建 span
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))))
	defer span.End()

	sent := 0
	for i := range messages {
		msg := &messages[i]
		if err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true); err != nil {
			r.markRetry(msg, err)
		} else {
			now := r.now()
			msg.Status = models.OutboxStatusSent
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
			sent++
		}

		// 更新失败时整批回滚，下次轮询重新拾取
		if err := tx.Save(msg).Error; err != nil {
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeDB)
			return 0, fmt.Errorf("更新发件箱消息 %d 失败: %w", msg.ID, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeDB)
		return 0, err
	}
	span.SetAttributes(attribute.Int("outbox.sent", sent))
	r.logger.Debug().Int("fetched", len(messages)).Int("sent", sent).Msg("发件箱批次处理完成")
	return sent, nil
}

func (r *Relay) markRetry(msg *models.OutboxMessage, err error) {
	msg.RetryCount++
	msg.ErrorMessage = tracing.TruncateString(err.Error(), 2000)
	if msg.RetryCount >= r.maxRetries {
		msg.Status = models.OutboxStatusFailed
	}
	r.logger.Warn().
		Err(err).
		Uint64("id", msg.ID).
		Str("aggregate_id", msg.AggregateID).
		Int("retries", msg.RetryCount).
		Str("status", msg.Status).
		Msg("补发消息失败")
}
