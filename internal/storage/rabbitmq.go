package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cv-ingest/internal/config"
	"cv-ingest/internal/tracing"
)

var rabbitmqTracer = otel.Tracer("cv-ingest/storage/rabbitmq")

// MessageQueue 消息队列接口
type MessageQueue interface {
	// 发布消息
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error

	// 发布JSON格式消息
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error

	// 确保交换机存在
	EnsureExchange(exchangeName, exchangeType string, durable bool) error

	// 确保队列存在
	EnsureQueue(queueName string, durable bool) error

	// 绑定队列到交换机
	BindQueue(queueName, exchangeName, routingKey string) error

	// 关闭连接
	Close() error
}

var _ MessageQueue = (*RabbitMQ)(nil)

// Disposition 消费者对一条消息的处理结论
type Disposition int

const (
	// Ack 处理完成，确认
	Ack Disposition = iota
	// Requeue 拒绝并重新入队
	Requeue
	// Drop 拒绝且不重新入队
	Drop
)

// Delivery 交给处理函数的消息
type Delivery struct {
	Body        []byte
	MessageID   string
	Redelivered bool
}

// DeliveryHandler 处理一条消息并返回处理结论
type DeliveryHandler func(ctx context.Context, d Delivery) Disposition

// RabbitMQ 提供消息队列功能
type RabbitMQ struct {
	conn        *amqp.Connection
	channelPool sync.Pool
	mu          sync.Mutex
	exchangeMap map[string]bool
	queueMap    map[string]bool
	bindingMap  map[string]bool // key: "exchange:queue:routingKey"
	publishMu   sync.Mutex
	cfg         *config.RabbitMQConfig
	logger      zerolog.Logger
}

var errNoChannel = errors.New("无法获取RabbitMQ通道")

// NewRabbitMQ 创建RabbitMQ客户端
func NewRabbitMQ(cfg *config.RabbitMQConfig, l zerolog.Logger) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		queueMap:    make(map[string]bool),
		bindingMap:  make(map[string]bool),
		cfg:         cfg,
		logger:      l,
	}
	mq.channelPool = sync.Pool{
		New: func() any {
			ch, err := conn.Channel()
			if err != nil {
				mq.logger.Error().Err(err).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, errNoChannel
	}
	mq.putChannel(testCh)

	mq.logger.Info().Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	v := r.channelPool.Get()
	if ch, ok := v.(*amqp.Channel); ok && ch != nil && !ch.IsClosed() {
		return ch
	}
	ch, err := r.conn.Channel()
	if err != nil {
		r.logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
		return nil
	}
	return ch
}

// putChannel 已关闭的通道直接丢弃
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	if exchangeName == "amq.default" || exchangeName == "default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", exchangeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchangeMap[exchangeName] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return errNoChannel
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		exchangeName, // exchange名称
		exchangeType, // exchange类型
		durable,      // 持久化
		false,        // 自动删除
		false,        // 内部专用
		false,        // 非阻塞
		nil,          // 参数
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	r.logger.Debug().Str("exchange", exchangeName).Str("type", exchangeType).Msg("已确保exchange存在")
	return nil
}

// EnsureQueue 确保队列存在
func (r *RabbitMQ) EnsureQueue(queueName string, durable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queueMap[queueName] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return errNoChannel
	}
	defer r.putChannel(ch)

	_, err := ch.QueueDeclare(
		queueName, // 队列名称
		durable,   // 持久化
		false,     // 自动删除
		false,     // 独占
		false,     // 非阻塞
		nil,       // 参数
	)
	if err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}

	r.queueMap[queueName] = true
	r.logger.Debug().Str("queue", queueName).Msg("已确保队列存在")
	return nil
}

// BindQueue 绑定队列到exchange
func (r *RabbitMQ) BindQueue(queueName, exchangeName, routingKey string) error {
	bindingKey := fmt.Sprintf("%s:%s:%s", exchangeName, queueName, routingKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindingMap[bindingKey] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return errNoChannel
	}
	defer r.putChannel(ch)

	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}

	r.bindingMap[bindingKey] = true
	r.logger.Debug().
		Str("queue", queueName).
		Str("exchange", exchangeName).
		Str("routing_key", routingKey).
		Msg("已绑定队列")
	return nil
}

// SetupIngestTopology 声明请求与结果两条路由
func (r *RabbitMQ) SetupIngestTopology() error {
	if err := r.EnsureExchange(r.cfg.IngestExchange, "direct", true); err != nil {
		return err
	}
	routes := []struct{ queue, key string }{
		{r.cfg.RequestQueue, r.cfg.RequestRouteKey},
		{r.cfg.ResultQueue, r.cfg.ResultRoutingKey},
	}
	for _, route := range routes {
		if route.queue == "" {
			continue
		}
		if err := r.EnsureQueue(route.queue, true); err != nil {
			return err
		}
		if err := r.BindQueue(route.queue, r.cfg.IngestExchange, route.key); err != nil {
			return err
		}
	}
	return nil
}

// PublishMessage 发布消息到exchange
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return errNoChannel
	}
	defer r.putChannel(ch)

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		exchangeName, // exchange名
		routingKey,   // 路由键
		false,        // 强制
		false,        // 立即
		amqp.Publishing{
			DeliveryMode: deliveryMode,
			ContentType:  "application/json",
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.PublishMessage(ctx, exchangeName, routingKey, jsonData, persistent)
}

// StartConsumer 启动消费者，ctx 取消后停止接收；返回的通道在消费协程退出后关闭
func (r *RabbitMQ) StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler DeliveryHandler) (<-chan struct{}, error) {
	ch := r.getChannel()
	if ch == nil {
		return nil, errNoChannel
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName, // 队列
		"",        // 消费者标签，由server生成
		false,     // 自动确认
		false,     // 独占
		false,     // 非本地
		false,     // 非阻塞
		nil,       // 参数
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 消费通道不放回池中
		defer ch.Close()

		log := r.logger.With().Str("queue", queueName).Logger()
		log.Info().Int("prefetch", prefetchCount).Msg("RabbitMQ消费者已启动")
		defer log.Info().Msg("RabbitMQ消费者已停止")

		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("RabbitMQ通道已关闭")
					return
				}
				r.dispatch(ctx, queueName, log, delivery, handler)
			}
		}
	}()

	return done, nil
}

func (r *RabbitMQ) dispatch(ctx context.Context, queueName string, log zerolog.Logger, delivery amqp.Delivery, handler DeliveryHandler) {
	ctx, span := rabbitmqTracer.Start(ctx, "RabbitMQ.Consume "+queueName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", queueName),
			attribute.String("messaging.message_id", delivery.MessageId),
			attribute.Bool("messaging.rabbitmq.redelivered", delivery.Redelivered),
		))
	defer span.End()

	disposition := handler(ctx, Delivery{
		Body:        delivery.Body,
		MessageID:   delivery.MessageId,
		Redelivered: delivery.Redelivered,
	})

	var err error
	switch disposition {
	case Ack:
		err = delivery.Ack(false)
	case Requeue:
		tracing.RecordRabbitMQNack(span, delivery.MessageId, "requeued for retry", true)
		err = delivery.Nack(false, true)
	default:
		tracing.RecordRabbitMQNack(span, delivery.MessageId, "dropped", false)
		err = delivery.Nack(false, false)
	}
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeRabbitMQ)
		log.Error().Err(err).Int("disposition", int(disposition)).Msg("确认消息失败")
	}
}
