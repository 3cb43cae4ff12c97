package processor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
	"cv-ingest/pkg/utils"
)

// DocumentProcessor Pipeline 的抽象，便于服务层测试
type DocumentProcessor interface {
	Process(ctx context.Context, doc *types.RawDocument) (*Result, error)
}

var _ DocumentProcessor = (*Pipeline)(nil)

// IngestOutcome 服务层的输出
type IngestOutcome struct {
	RunID       string
	DocumentMD5 string
	CV          *types.CanonicalCV
	CacheHit    bool
	// Result 缓存命中时为 nil
	Result *Result
}

// IngestService 在流水线外围提供按 MD5 缓存和运行审计
type IngestService struct {
	pipeline DocumentProcessor
	cache    CVCache
	recorder RunRecorder
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// ServiceOption IngestService 的配置选项
type ServiceOption func(*IngestService)

// WithCache 启用结果缓存，ttl <= 0 时不写入缓存
func WithCache(c CVCache, ttl time.Duration) ServiceOption {
	return func(s *IngestService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithRunRecorder(r RunRecorder) ServiceOption {
	return func(s *IngestService) {
		s.recorder = r
	}
}

func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *IngestService) {
		s.logger = l
	}
}

var _ Ingestor = (*IngestService)(nil)

func NewIngestService(pipeline DocumentProcessor, options ...ServiceOption) *IngestService {
	s := &IngestService{
		pipeline: pipeline,
		logger:   logger.Component("ingest_service"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Ingest 缓存命中时直接返回已有记录，不运行流水线
func (s *IngestService) Ingest(ctx context.Context, doc *types.RawDocument) (*IngestOutcome, error) {
	ctx, span := tracer.Start(ctx, "processor.IngestService.Ingest")
	defer span.End()

	start := time.Now()
	md5Hex := utils.CalculateMD5(doc.Data)
	span.SetAttributes(attribute.String("document.md5", md5Hex))
	log := s.logger.With().Str("md5", md5Hex).Logger()

	rec := RunRecord{
		DocumentMD5: md5Hex,
		Filename:    doc.Filename,
		MIMEType:    doc.MIMEType,
		SizeBytes:   doc.Size(),
	}

	if cv := s.lookup(ctx, md5Hex, log); cv != nil {
		doc.Release()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		rec.Status = RunStatusCached
		rec.CacheHit = true
		rec.RunID = newRunID()
		rec.Duration = time.Since(start)
		s.record(ctx, rec, log)
		return &IngestOutcome{RunID: rec.RunID, DocumentMD5: md5Hex, CV: cv, CacheHit: true}, nil
	}

	result, err := s.pipeline.Process(ctx, doc)
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Status = RunStatusFailed
		rec.ErrorKind = KindOf(err)
		rec.ErrorMessage = err.Error()
		var ie *IngestError
		if errors.As(err, &ie) {
			rec.RunID = ie.RunID
		}
		s.record(ctx, rec, log)
		return nil, err
	}

	rec.RunID = result.RunID
	rec.Status = RunStatusSucceeded
	rec.FinalState = StateNormalized
	rec.States = result.States
	rec.Tier = result.Tier
	rec.Strategy = result.Strategy
	rec.TextLength = result.TextLength
	rec.Truncated = result.Truncated
	rec.Attempts = result.Attempts
	s.record(ctx, rec, log)

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetCV(ctx, md5Hex, result.CV, s.cacheTTL); err != nil {
			log.Warn().Err(err).Msg("写入结果缓存失败")
		}
	}

	return &IngestOutcome{RunID: result.RunID, DocumentMD5: md5Hex, CV: result.CV, Result: result}, nil
}

// lookup 缓存错误只记录日志，不影响主流程
func (s *IngestService) lookup(ctx context.Context, md5Hex string, log zerolog.Logger) *types.CanonicalCV {
	if s.cache == nil {
		return nil
	}
	cv, err := s.cache.GetCV(ctx, md5Hex)
	if err != nil {
		log.Warn().Err(err).Msg("读取结果缓存失败")
		return nil
	}
	if cv != nil {
		log.Info().Msg("命中结果缓存")
	}
	return cv
}

func (s *IngestService) record(ctx context.Context, rec RunRecord, log zerolog.Logger) {
	if s.recorder == nil {
		return
	}
	if rec.FinalState == "" && rec.ErrorKind != KindNone {
		rec.FinalState = stateByKind[rec.ErrorKind]
		if rec.FinalState == "" {
			rec.FinalState = StateFailed
		}
	}
	// 调用方取消后仍然写入审计记录
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordRun(recordCtx, rec); err != nil {
		log.Warn().Err(err).Str("run_id", rec.RunID).Msg("写入运行记录失败")
	}
}
