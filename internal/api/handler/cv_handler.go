package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
	"cv-ingest/pkg/utils"
)

// DocumentLocker 同一文档并发上传时只处理一次
type DocumentLocker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// HealthChecker 健康检查依赖
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var (
	_ DocumentLocker = (*storage.Redis)(nil)
	_ HealthChecker  = (*storage.Redis)(nil)
	_ HealthChecker  = (*storage.MySQL)(nil)
)

// IngestResponse 解析成功的响应
type IngestResponse struct {
	RunID       string             `json:"run_id"`
	DocumentMD5 string             `json:"document_md5"`
	CacheHit    bool               `json:"cache_hit"`
	Tier        types.QualityTier  `json:"tier,omitempty"`
	Strategy    types.Strategy     `json:"strategy,omitempty"`
	Truncated   bool               `json:"truncated"`
	Diagnostics []string           `json:"diagnostics,omitempty"`
	CV          *types.CanonicalCV `json:"cv"`
}

// ErrorResponse 失败响应
type ErrorResponse struct {
	RunID     string `json:"run_id,omitempty"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// CVHandler 简历解析接口
type CVHandler struct {
	ingestor       processor.Ingestor
	locker         DocumentLocker
	checks         map[string]HealthChecker
	maxUploadBytes int64
	lockTTL        time.Duration
	logger         zerolog.Logger
}

// Option CVHandler 的配置选项
type Option func(*CVHandler)

// WithLocker 启用按 MD5 的处理锁
func WithLocker(l DocumentLocker) Option {
	return func(h *CVHandler) {
		h.locker = l
	}
}

// WithHealthCheck 注册一个健康检查依赖
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(h *CVHandler) {
		h.checks[name] = c
	}
}

// WithMaxUploadBytes 上传大小限制，默认 20MB
func WithMaxUploadBytes(n int64) Option {
	return func(h *CVHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *CVHandler) {
		h.logger = l
	}
}

// NewCVHandler 创建处理器
func NewCVHandler(ingestor processor.Ingestor, options ...Option) *CVHandler {
	h := &CVHandler{
		ingestor:       ingestor,
		checks:         make(map[string]HealthChecker),
		maxUploadBytes: 20 << 20,
		lockTTL:        5 * time.Minute,
		logger:         logger.Component("cv_handler"),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// StatusForKind 错误类别对应的 HTTP 状态码
func StatusForKind(kind processor.ErrorKind) int {
	switch kind {
	case processor.KindUnsupportedFormat:
		return consts.StatusUnsupportedMediaType
	case processor.KindDocumentCorrupted, processor.KindInsufficientText:
		return consts.StatusUnprocessableEntity
	case processor.KindCompletionService:
		return consts.StatusServiceUnavailable
	case processor.KindMalformedCompletion:
		return consts.StatusBadGateway
	case processor.KindCancelled:
		// 客户端已断开
		return 499
	}
	return consts.StatusInternalServerError
}

// HandleIngest 上传并同步解析一份简历
// POST /api/v1/cv/ingest  multipart: file, mime_type(可选)
func (h *CVHandler) HandleIngest(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{ErrorKind: "invalid_request", Message: "file is required"})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(consts.StatusRequestEntityTooLarge, ErrorResponse{
			ErrorKind: "invalid_request",
			Message:   fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes),
		})
		return
	}

	mimeType := string(c.FormValue("mime_type"))
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}
	if mimeType == "" || parser.NormalizeMIME(mimeType) == "application/octet-stream" {
		mimeType = parser.MIMEFromFilename(fileHeader.Filename)
	}

	// 不支持的类型在读取文件内容前拒绝
	if parser.ClassifyFormat(mimeType) == types.KindUnsupported {
		h.writeError(ctx, c, "", fmt.Errorf("%w: %s", processor.ErrUnsupportedFormat, parser.NormalizeMIME(mimeType)))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, ErrorResponse{ErrorKind: string(processor.KindInternal), Message: "failed to open upload"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	file.Close()
	if err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{ErrorKind: "invalid_request", Message: "failed to read upload"})
		return
	}

	log := h.logger.With().Str("filename", fileHeader.Filename).Int("size", len(data)).Logger()

	if h.locker != nil {
		lockKey := storage.FileLockKey(utils.CalculateMD5(data))
		lockValue, err := h.locker.AcquireLock(ctx, lockKey, h.lockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("获取文档锁失败，继续处理")
		case lockValue == "":
			c.JSON(consts.StatusConflict, ErrorResponse{
				ErrorKind: "in_progress",
				Message:   "This document is already being processed.",
				Retryable: true,
			})
			return
		default:
			defer func() {
				if _, err := h.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockValue); err != nil {
					log.Warn().Err(err).Msg("释放文档锁失败")
				}
			}()
		}
	}

	outcome, err := h.ingestor.Ingest(ctx, &types.RawDocument{
		Data:     data,
		MIMEType: mimeType,
		Filename: fileHeader.Filename,
	})
	if err != nil {
		var ie *processor.IngestError
		runID := ""
		if errors.As(err, &ie) {
			runID = ie.RunID
		}
		log.Info().Err(err).Str("run_id", runID).Msg("简历解析失败")
		h.writeError(ctx, c, runID, err)
		return
	}

	resp := IngestResponse{
		RunID:       outcome.RunID,
		DocumentMD5: outcome.DocumentMD5,
		CacheHit:    outcome.CacheHit,
		CV:          outcome.CV,
	}
	if r := outcome.Result; r != nil {
		resp.Tier = r.Tier
		resp.Strategy = r.Strategy
		resp.Truncated = r.Truncated
		resp.Diagnostics = r.Diagnostics
	}
	c.JSON(consts.StatusOK, resp)
}

func (h *CVHandler) writeError(ctx context.Context, c *app.RequestContext, runID string, err error) {
	kind := processor.KindOf(err)
	status := StatusForKind(kind)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
	c.JSON(status, ErrorResponse{
		RunID:     runID,
		ErrorKind: string(kind),
		Message:   processor.UserMessage(err),
		Retryable: processor.Retryable(err),
	})
}

// HandleHealth GET /api/v1/health
func (h *CVHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := consts.StatusOK
	if status != "ok" {
		code = consts.StatusServiceUnavailable
	}
	c.JSON(code, map[string]any{"status": status, "dependencies": deps})
}
