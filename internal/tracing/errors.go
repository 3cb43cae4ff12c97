package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 错误分类，写入 span 的 error.type 属性
type ErrorType string

const (
	ErrorTypeHTTP     ErrorType = "http"
	ErrorTypeDB       ErrorType = "db"
	ErrorTypeRedis    ErrorType = "redis"
	ErrorTypeRabbitMQ ErrorType = "rabbitmq"
	ErrorTypeStorage  ErrorType = "object_storage"
	// ErrorTypeExtraction 文本提取失败（损坏、文本不足）
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeCompletion 补全服务调用或响应解析失败
	ErrorTypeCompletion ErrorType = "completion"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// RecordError 记录错误并把 span 置为错误状态
func RecordError(span trace.Span, err error, errorType ErrorType) {
	RecordErrorWithInfo(span, err, errorType)
}

// RecordErrorWithInfo 记录错误并附加额外属性
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 专门记录HTTP错误
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}

	var errorCategory string
	switch {
	case statusCode >= 400 && statusCode < 500:
		errorCategory = "client_error"
	case statusCode >= 500:
		errorCategory = "server_error"
	default:
		errorCategory = "unknown"
	}

	RecordErrorWithInfo(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", errorCategory),
	)
}

// RecordRabbitMQNack 记录消息被消费者拒绝
func RecordRabbitMQNack(span trace.Span, messageID string, reason string, requeue bool) {
	if span == nil {
		return
	}

	errMsg := "message rejected by consumer"
	if reason != "" {
		errMsg = reason
	}

	span.SetAttributes(
		attribute.String("error.type", string(ErrorTypeRabbitMQ)),
		attribute.String("error.message", TruncateString(errMsg, DefaultMaxLength)),
		attribute.String("messaging.message_id", messageID),
		attribute.String("messaging.error_type", "nack"),
		attribute.Bool("messaging.rabbitmq.requeue", requeue),
	)
	span.SetStatus(codes.Error, errMsg)
}
