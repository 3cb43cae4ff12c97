package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/parser"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
)

var tracer = otel.Tracer("cv-ingest/processor")

// Result 一次成功运行的输出
type Result struct {
	RunID       string
	CV          *types.CanonicalCV
	Tier        types.QualityTier
	Strategy    types.Strategy
	TextLength  int
	Sections    map[types.SectionType]string
	Attempts    []types.ExtractionAttempt
	Truncated   bool
	Diagnostics []string
	States      []RunState
	Duration    time.Duration
}

// Pipeline 串联分类、提取、分段、窗口化、补全与规范化。本身无状态，可并发调用
type Pipeline struct {
	chain      TextExtractionChain
	extractor  StructuredExtractor
	normalizer RecordNormalizer

	windowSize       int
	annotateSections bool
	tempDir          string
	newRunID         func() string
	logger           zerolog.Logger
}

// Option Pipeline 的配置选项
type Option func(*Pipeline)

// WithWindowSize 发送给补全服务的文本上限（字符）
func WithWindowSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.windowSize = n
		}
	}
}

// WithAnnotateSections 发送带 [SECTION] 标注的文本
func WithAnnotateSections(enabled bool) Option {
	return func(p *Pipeline) {
		p.annotateSections = enabled
	}
}

// WithTempDir 临时资源的根目录
func WithTempDir(dir string) Option {
	return func(p *Pipeline) {
		p.tempDir = dir
	}
}

func WithRunIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if gen != nil {
			p.newRunID = gen
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

const defaultWindowSize = 24000

// effectiveWindow 窗口不超过补全请求留给文本的预算，避免二次截断
func (p *Pipeline) effectiveWindow() int {
	if budget := p.extractor.TextBudget(); budget > 0 && budget < p.windowSize {
		return budget
	}
	return p.windowSize
}

// NewPipeline 三个阶段组件都是必需的
func NewPipeline(chain TextExtractionChain, extractor StructuredExtractor, normalizer RecordNormalizer, options ...Option) (*Pipeline, error) {
	if chain == nil || extractor == nil || normalizer == nil {
		return nil, errors.New("pipeline requires extraction chain, structured extractor and normalizer")
	}
	p := &Pipeline{
		chain:      chain,
		extractor:  extractor,
		normalizer: normalizer,
		windowSize: defaultWindowSize,
		newRunID:   newRunID,
		logger:     logger.Component("pipeline"),
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

// Process 执行一次完整运行。doc 的字节在提取完成后以及任何错误退出时释放，
// 本次运行创建的临时资源在所有退出路径上清理
func (p *Pipeline) Process(ctx context.Context, doc *types.RawDocument) (result *Result, err error) {
	start := time.Now()
	runID := p.newRunID()
	tracker := newRunTracker()

	ctx, span := tracer.Start(ctx, "processor.Pipeline.Process",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("document.mime", doc.MIMEType),
			attribute.String("document.filename", tracing.SafeFilename(doc.Filename)),
			attribute.Int("document.size", doc.Size()),
		))
	defer span.End()

	log := p.logger.With().Str("run_id", runID).Str("filename", tracing.SafeFilename(doc.Filename)).Logger()
	defer doc.Release()

	fail := func(op string, base, cause error, detail string) error {
		ie := newIngestError(runID, op, base, cause, detail)
		state := tracker.Fail(ie.Kind())
		span.SetAttributes(attribute.String("run.final_state", string(state)))
		errType := tracing.ErrorTypeExtraction
		if op == "complete" || op == "parse" {
			errType = tracing.ErrorTypeCompletion
		}
		tracing.RecordErrorWithInfo(span, ie, errType, attribute.String("error.kind", string(ie.Kind())))
		log.Warn().
			Err(ie).
			Str("kind", string(ie.Kind())).
			Str("state", string(state)).
			Dur("duration", time.Since(start)).
			Msg("运行失败")
		return ie
	}

	// 分类在创建任何临时资源之前完成
	kind := parser.ClassifyFormat(doc.MIMEType)
	if kind == types.KindUnsupported {
		return nil, fail("classify", ErrUnsupportedFormat, nil, fmt.Sprintf("mime type %q", doc.MIMEType))
	}
	p.advance(tracker, StateClassified)
	log.Debug().Str("kind", string(kind)).Int("size", doc.Size()).Msg("文档已分类")

	guard := NewResourceGuard(p.tempDir, log)
	defer func() {
		if r := recover(); r != nil {
			_ = guard.Release()
			result = nil
			err = fail("panic", ErrInternal, nil, fmt.Sprint(r))
			return
		}
		_ = guard.Release()
	}()

	extracted, err := p.chain.Extract(ctx, doc, guard)
	doc.Release()
	if err != nil {
		return nil, p.extractionFailure(ctx, fail, err)
	}
	if extracted.Tier == types.TierEmpty {
		return nil, fail("extract", ErrInsufficientText, nil,
			fmt.Sprintf("best strategy %s produced %d characters after %d attempts",
				extracted.Strategy, parser.TextLength(extracted.Content), len(extracted.Attempts)))
	}
	// 提取完成后临时文件已无用
	_ = guard.Release()
	p.advance(tracker, StateTextExtracted)

	seg := parser.SegmentSections(extracted.Content)
	extracted.Sections = seg.ByType
	text := extracted.Content
	if p.annotateSections {
		text = seg.Annotated
	}
	windowed, truncated := parser.WindowText(text, p.effectiveWindow())
	p.advance(tracker, StateWindowed)
	log.Debug().
		Int("headers", seg.Headers).
		Int("length", parser.TextLength(text)).
		Bool("truncated", truncated).
		Msg("文本已分段并窗口化")

	req := p.extractor.BuildRequest(windowed)
	truncated = truncated || req.Truncated
	p.advance(tracker, StateCompletionRequested)

	raw, err := p.extractor.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, fail("complete", ErrCancelled, err, "")
		}
		return nil, fail("complete", ErrCompletionService, err, "")
	}
	parsed, err := p.extractor.Parse(raw)
	if err != nil {
		return nil, fail("parse", ErrMalformedCompletion, err, "")
	}
	p.advance(tracker, StateCompletionParsed)

	cv := p.normalizer.Normalize(parsed)
	p.advance(tracker, StateNormalized)

	result = &Result{
		RunID:       runID,
		CV:          cv,
		Tier:        extracted.Tier,
		Strategy:    extracted.Strategy,
		TextLength:  parser.TextLength(extracted.Content),
		Sections:    extracted.Sections,
		Attempts:    extracted.Attempts,
		Truncated:   truncated,
		Diagnostics: parsed.Diagnostics,
		States:      tracker.History(),
		Duration:    time.Since(start),
	}
	span.SetAttributes(
		attribute.String("run.final_state", string(StateNormalized)),
		attribute.String("extraction.tier", string(result.Tier)),
		attribute.Bool("window.truncated", truncated),
		attribute.String("cv.email", tracing.SafeAttributeValue("email", cv.Personal.Email, tracing.DefaultMaxLength)),
	)
	log.Info().
		Str("tier", string(result.Tier)).
		Str("strategy", string(result.Strategy)).
		Int("text_length", result.TextLength).
		Bool("truncated", truncated).
		Int("experience", len(cv.Experience)).
		Str("email", tracing.MaskPII(cv.Personal.Email)).
		Dur("duration", result.Duration).
		Msg("运行完成")
	return result, nil
}

// extractionFailure 把提取链错误映射为分类错误
func (p *Pipeline) extractionFailure(ctx context.Context, fail func(string, error, error, string) error, err error) error {
	switch {
	case ctx.Err() != nil:
		return fail("extract", ErrCancelled, err, "")
	case errors.Is(err, parser.ErrUnsupportedDocument):
		return fail("extract", ErrUnsupportedFormat, err, "")
	default:
		return fail("extract", ErrDocumentCorrupted, err, "")
	}
}

// advance 状态转换失败说明代码路径有误
func (p *Pipeline) advance(t *runTracker, next RunState) {
	if err := t.Advance(next); err != nil {
		panic(err)
	}
}
