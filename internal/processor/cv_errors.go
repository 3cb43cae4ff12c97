package processor

import (
	"context"
	"errors"
	"fmt"
)

// 流水线的终止错误
var (
	ErrUnsupportedFormat   = errors.New("unsupported document format")
	ErrDocumentCorrupted   = errors.New("document could not be parsed")
	ErrInsufficientText    = errors.New("insufficient text extracted")
	ErrCompletionService   = errors.New("completion service error")
	ErrMalformedCompletion = errors.New("malformed completion response")
	ErrCancelled           = errors.New("ingestion cancelled")
	ErrInternal            = errors.New("internal pipeline error")
)

// ErrorKind 稳定的错误分类，用于传输层映射状态码
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindDocumentCorrupted   ErrorKind = "document_corrupted"
	KindInsufficientText    ErrorKind = "insufficient_text"
	KindCompletionService   ErrorKind = "completion_service_error"
	KindMalformedCompletion ErrorKind = "malformed_completion_response"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrDocumentCorrupted, KindDocumentCorrupted},
	{ErrInsufficientText, KindInsufficientText},
	{ErrCompletionService, KindCompletionService},
	{ErrMalformedCompletion, KindMalformedCompletion},
	{ErrCancelled, KindCancelled},
	{ErrInternal, KindInternal},
}

// IngestError 包含运行上下文的错误，同时暴露分类错误和底层原因
type IngestError struct {
	RunID   string
	Op      string
	BaseErr error
	Detail  string
	Cause   error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("%s (操作:%s, run:%s)", e.BaseErr, e.Op, e.RunID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 让 errors.Is/As 同时看到分类错误和原因
func (e *IngestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.Cause}
}

// Kind 返回错误分类
func (e *IngestError) Kind() ErrorKind {
	return KindOf(e.BaseErr)
}

func newIngestError(runID, op string, base error, cause error, detail string) *IngestError {
	return &IngestError{RunID: runID, Op: op, BaseErr: base, Detail: detail, Cause: cause}
}

// KindOf 把任意错误映射为稳定分类，nil 返回 KindNone
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindBySentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindCompletionService
	}
	return KindInternal
}

// UserMessage 面向用户的提示语
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindUnsupportedFormat:
		return "This file type is not supported. Please upload a PDF or Word document."
	case KindDocumentCorrupted:
		return "We could not open this document. It may be damaged or password protected."
	case KindInsufficientText:
		return "We could not read enough text from this document. Your PDF appears to be scanned or empty; please upload a text-based version."
	case KindCompletionService:
		return "Our AI service is busy right now. Please try again in a few minutes."
	case KindMalformedCompletion:
		return "We could not interpret the analysis of your résumé. Please try again."
	case KindCancelled:
		return "The upload was cancelled before processing finished."
	}
	return "Something went wrong while processing your résumé."
}

// Retryable 只有补全服务错误值得调用方重试
func Retryable(err error) bool {
	return KindOf(err) == KindCompletionService
}
