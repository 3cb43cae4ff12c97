// Package worker 消费解析请求队列，处理结果发布到结果队列
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
	"cv-ingest/internal/outbox"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
)

var tracer = otel.Tracer("cv-ingest/worker")

// KindInvalidRequest 请求消息缺少必要字段
const KindInvalidRequest processor.ErrorKind = "invalid_request"

// ResultEventType 结果消息写入发件箱时的事件类型
const ResultEventType = "cv.ingest.result"

// ObjectStore 文档下载
type ObjectStore interface {
	DownloadDocument(ctx context.Context, objectKey string, maxBytes int64) ([]byte, string, error)
}

// Publisher 结果发布
type Publisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error
}

// ResultFallback 结果发布失败时的落库补发
type ResultFallback interface {
	Enqueue(ctx context.Context, exchange, routingKey, aggregateID, eventType string, payload any) error
}

// Consumer 队列消费
type Consumer interface {
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler storage.DeliveryHandler) (<-chan struct{}, error)
}

var (
	_ ObjectStore      = (*storage.MinIO)(nil)
	_ Publisher        = (*storage.RabbitMQ)(nil)
	_ Consumer         = (*storage.RabbitMQ)(nil)
	_ ResultFallback   = (*outbox.Relay)(nil)
	_ outbox.Publisher = (*storage.RabbitMQ)(nil)
)

// Worker 处理单条解析请求
type Worker struct {
	store     ObjectStore
	publisher Publisher
	fallback  ResultFallback
	ingestor  processor.Ingestor
	mq        config.RabbitMQConfig
	maxBytes  int64
	now       func() time.Time
	logger    zerolog.Logger
}

// Option 配置选项
type Option func(*Worker)

// WithMaxDocumentBytes 下载大小上限，0 表示不限制
func WithMaxDocumentBytes(n int64) Option {
	return func(w *Worker) {
		w.maxBytes = n
	}
}

// WithResultFallback 结果发布失败时写入发件箱，由后台补发
func WithResultFallback(f ResultFallback) Option {
	return func(w *Worker) {
		w.fallback = f
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

func withClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New 创建 Worker
func New(store ObjectStore, publisher Publisher, ingestor processor.Ingestor, mq config.RabbitMQConfig, options ...Option) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		ingestor:  ingestor,
		mq:        mq,
		maxBytes:  20 << 20,
		now:       time.Now,
		logger:    logger.Component("worker"),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run 启动 mq.Workers 个消费者并阻塞到全部退出
func (w *Worker) Run(ctx context.Context, consumer Consumer) error {
	workers := max(w.mq.Workers, 1)
	prefetch := max(w.mq.PrefetchCount, 1)

	var dones []<-chan struct{}
	for i := 0; i < workers; i++ {
		done, err := consumer.StartConsumer(ctx, w.mq.RequestQueue, prefetch, w.Handle)
		if err != nil {
			return fmt.Errorf("启动第 %d 个消费者失败: %w", i+1, err)
		}
		dones = append(dones, done)
	}
	w.logger.Info().
		Str("queue", w.mq.RequestQueue).
		Int("workers", workers).
		Int("prefetch", prefetch).
		Msg("解析消费者就绪")

	var wg sync.WaitGroup
	for _, done := range dones {
		wg.Add(1)
		go func(done <-chan struct{}) {
			defer wg.Done()
			<-done
		}(done)
	}
	wg.Wait()
	return ctx.Err()
}

// Handle 处理一条消息。补全服务错误首次投递时重新入队，其余失败发布失败结果并确认。
func (w *Worker) Handle(ctx context.Context, d storage.Delivery) storage.Disposition {
	var req storage.IngestRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		w.logger.Error().Err(err).Str("message_id", d.MessageID).Msg("解析消息失败，丢弃")
		return storage.Drop
	}

	ctx, span := tracer.Start(ctx, "Worker.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("submission_id", req.SubmissionID),
		attribute.Bool("messaging.redelivered", d.Redelivered),
	)
	log := w.logger.With().Str("submission_id", req.SubmissionID).Logger()

	if req.SubmissionID == "" || req.ObjectKey == "" {
		log.Warn().Str("object_key", req.ObjectKey).Msg("请求缺少 submission_id 或 object_key")
		if req.SubmissionID == "" {
			return storage.Drop
		}
		return w.publish(ctx, d, storage.IngestResult{
			SubmissionID: req.SubmissionID,
			Status:       storage.IngestStatusFailed,
			ErrorKind:    string(KindInvalidRequest),
			ErrorMessage: "object_key is required",
		}, log)
	}

	data, contentType, err := w.store.DownloadDocument(ctx, req.ObjectKey, w.maxBytes)
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeStorage)
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return w.publishFailure(ctx, d, req, "", KindInvalidRequest, "The document is too large.", log)
		}
		if ctx.Err() != nil || !d.Redelivered {
			log.Warn().Err(err).Msg("下载文档失败，重新入队")
			return storage.Requeue
		}
		log.Error().Err(err).Msg("下载文档失败")
		return w.publishFailure(ctx, d, req, "", processor.KindInternal, processor.UserMessage(processor.ErrInternal), log)
	}

	doc := &types.RawDocument{
		Data:     data,
		MIMEType: resolveMIME(req, contentType),
		Filename: req.Filename,
	}
	outcome, err := w.ingestor.Ingest(ctx, doc)
	if err != nil {
		kind := processor.KindOf(err)
		var ie *processor.IngestError
		runID := ""
		if errors.As(err, &ie) {
			runID = ie.RunID
		}
		switch {
		case kind == processor.KindCancelled || ctx.Err() != nil:
			log.Warn().Err(err).Msg("处理被取消，重新入队")
			return storage.Requeue
		case processor.Retryable(err) && !d.Redelivered:
			log.Warn().Err(err).Str("run_id", runID).Msg("补全服务错误，重新入队一次")
			return storage.Requeue
		}
		log.Info().Err(err).Str("run_id", runID).Str("kind", string(kind)).Msg("解析失败")
		return w.publishFailure(ctx, d, req, runID, kind, processor.UserMessage(err), log)
	}

	return w.publish(ctx, d, storage.IngestResult{
		SubmissionID: req.SubmissionID,
		RunID:        outcome.RunID,
		Status:       storage.IngestStatusSucceeded,
		CacheHit:     outcome.CacheHit,
		CV:           outcome.CV,
	}, log)
}

func (w *Worker) publishFailure(ctx context.Context, d storage.Delivery, req storage.IngestRequest, runID string, kind processor.ErrorKind, message string, log zerolog.Logger) storage.Disposition {
	return w.publish(ctx, d, storage.IngestResult{
		SubmissionID: req.SubmissionID,
		RunID:        runID,
		Status:       storage.IngestStatusFailed,
		ErrorKind:    string(kind),
		ErrorMessage: message,
	}, log)
}

func (w *Worker) publish(ctx context.Context, d storage.Delivery, result storage.IngestResult, log zerolog.Logger) storage.Disposition {
	result.CompletedAt = w.now().UTC()
	// 发布不受消费上下文取消影响
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := w.publisher.PublishJSON(pubCtx, w.mq.IngestExchange, w.mq.ResultRoutingKey, result, true)
	if err == nil {
		log.Debug().Str("status", result.Status).Msg("结果已发布")
		return storage.Ack
	}
	if w.fallback != nil {
		fbErr := w.fallback.Enqueue(pubCtx, w.mq.IngestExchange, w.mq.ResultRoutingKey, result.SubmissionID, ResultEventType, result)
		if fbErr == nil {
			log.Warn().Err(err).Msg("发布结果失败，已写入发件箱")
			return storage.Ack
		}
		log.Error().Err(fbErr).Msg("写入发件箱失败")
	}
	if !d.Redelivered {
		log.Warn().Err(err).Msg("发布结果失败，重新入队")
		return storage.Requeue
	}
	log.Error().Err(err).Msg("发布结果失败，丢弃消息")
	return storage.Drop
}

func resolveMIME(req storage.IngestRequest, contentType string) string {
	if req.MIMEType != "" {
		return req.MIMEType
	}
	if contentType != "" && parser.NormalizeMIME(contentType) != "application/octet-stream" {
		return contentType
	}
	return parser.MIMEFromFilename(req.Filename)
}
