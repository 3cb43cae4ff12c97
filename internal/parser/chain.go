package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
)

var tracer = otel.Tracer("cv-ingest/parser")

var (
	// ErrUnsupportedDocument MIME 类型不在支持范围内
	ErrUnsupportedDocument = errors.New("unsupported document type")
	// ErrUnreadableDocument 文字处理文档解析失败或没有可用的解析器
	ErrUnreadableDocument = errors.New("document could not be parsed")
)

// ExtractionChain 按顺序执行提取策略并保留最长的结果。
// PDF: 结构化解析 -> 字节扫描 -> OCR；文字处理文档只做一次结构化解析。
type ExtractionChain struct {
	structural    TextExtractor
	pattern       TextExtractor
	ocr           TextExtractor
	word          TextExtractor
	legacyWord    TextExtractor
	patternAccept int
	logger        zerolog.Logger
}

// ChainOption 配置选项
type ChainOption func(*ExtractionChain)

// WithPatternAcceptLength 字节扫描结果的接受阈值，限定在 [100, 300]
func WithPatternAcceptLength(n int) ChainOption {
	return func(c *ExtractionChain) {
		switch {
		case n < MinimalTextLength:
			n = MinimalTextLength
		case n > DefaultPatternAcceptLength:
			n = DefaultPatternAcceptLength
		}
		c.patternAccept = n
	}
}

// WithOCR 设置 OCR 策略，nil 表示不做 OCR
func WithOCR(e TextExtractor) ChainOption {
	return func(c *ExtractionChain) {
		c.ocr = e
	}
}

// WithWordExtractor .docx 使用的解析器
func WithWordExtractor(e TextExtractor) ChainOption {
	return func(c *ExtractionChain) {
		c.word = e
	}
}

// WithLegacyWordExtractor .doc 使用的解析器，通常是 Tika
func WithLegacyWordExtractor(e TextExtractor) ChainOption {
	return func(c *ExtractionChain) {
		c.legacyWord = e
	}
}

func WithChainLogger(l zerolog.Logger) ChainOption {
	return func(c *ExtractionChain) {
		c.logger = l
	}
}

// NewExtractionChain 创建提取链，structural 和 pattern 用于 PDF
func NewExtractionChain(structural, pattern TextExtractor, options ...ChainOption) *ExtractionChain {
	c := &ExtractionChain{
		structural:    structural,
		pattern:       pattern,
		patternAccept: DefaultPatternAcceptLength,
		logger:        logger.Component("extraction_chain"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Extract 对 PDF 不会因为单个策略失败而返回错误，结果质量由 Tier 表示；
// 只有上下文取消、文字处理文档解析失败或类型不支持时返回错误。
func (c *ExtractionChain) Extract(ctx context.Context, doc *types.RawDocument, scratch Scratch) (*types.ExtractedText, error) {
	ctx, span := tracer.Start(ctx, "ExtractionChain.Extract")
	defer span.End()

	kind := ClassifyFormat(doc.MIMEType)
	span.SetAttributes(
		attribute.String("document.kind", string(kind)),
		attribute.Int("document.size", doc.Size()),
	)

	var (
		result *types.ExtractedText
		err    error
	)
	switch kind {
	case types.KindPDF:
		result, err = c.extractPDF(ctx, doc, scratch)
	case types.KindWordProcessor:
		result, err = c.extractWord(ctx, doc, scratch)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedDocument, doc.MIMEType)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("extraction.strategy", string(result.Strategy)),
		attribute.String("extraction.tier", string(result.Tier)),
		attribute.Int("extraction.length", TextLength(result.Content)),
	)
	return result, nil
}

func (c *ExtractionChain) extractPDF(ctx context.Context, doc *types.RawDocument, scratch Scratch) (*types.ExtractedText, error) {
	result := &types.ExtractedText{Tier: types.TierEmpty, Strategy: types.StrategyStructural}

	keep := func(text string, strategy types.Strategy) {
		text = strings.TrimSpace(text)
		if TextLength(text) > TextLength(result.Content) {
			result.Content = text
			result.Strategy = strategy
			result.Tier = TierOf(text)
		}
	}

	steps := []struct {
		extractor TextExtractor
		// accept 当前结果达到该长度即停止
		accept int
	}{
		{c.structural, SufficientTextLength},
		{c.pattern, c.patternAccept},
		{c.ocr, 0},
	}

	for _, step := range steps {
		if step.extractor == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, attempt := c.run(ctx, step.extractor, doc, scratch)
		result.Attempts = append(result.Attempts, attempt)
		if attempt.Error != "" {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		keep(text, step.extractor.Strategy())

		c.logger.Debug().
			Str("strategy", string(step.extractor.Strategy())).
			Str("backend", step.extractor.Name()).
			Int("length", attempt.Length).
			Str("tier", string(result.Tier)).
			Msg("提取策略完成")

		if step.accept > 0 && TextLength(result.Content) >= step.accept {
			break
		}
	}

	c.logger.Info().
		Str("strategy", string(result.Strategy)).
		Str("tier", string(result.Tier)).
		Int("length", TextLength(result.Content)).
		Int("attempts", len(result.Attempts)).
		Msg("PDF文本提取完成")
	c.logger.Debug().Str("preview", tracing.SafeDocumentText(result.Content)).Msg("PDF文本预览")
	return result, nil
}

func (c *ExtractionChain) extractWord(ctx context.Context, doc *types.RawDocument, scratch Scratch) (*types.ExtractedText, error) {
	extractor := c.word
	if IsLegacyWord(doc.MIMEType) {
		extractor = c.legacyWord
	}
	if extractor == nil {
		return nil, fmt.Errorf("%w: no parser available for %s", ErrUnreadableDocument, NormalizeMIME(doc.MIMEType))
	}

	text, attempt := c.run(ctx, extractor, doc, scratch)
	result := &types.ExtractedText{
		Strategy: types.StrategyStructural,
		Attempts: []types.ExtractionAttempt{attempt},
	}
	if attempt.Error != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUnreadableDocument, extractor.Name(), attempt.Error)
	}

	result.Content = strings.TrimSpace(text)
	result.Tier = TierOf(result.Content)
	c.logger.Info().
		Str("backend", extractor.Name()).
		Str("tier", string(result.Tier)).
		Int("length", TextLength(result.Content)).
		Msg("文字处理文档提取完成")
	return result, nil
}

// run 执行单个策略，捕获第三方解析库在损坏输入上的 panic
func (c *ExtractionChain) run(ctx context.Context, e TextExtractor, doc *types.RawDocument, scratch Scratch) (text string, attempt types.ExtractionAttempt) {
	start := time.Now()
	attempt = types.ExtractionAttempt{Strategy: e.Strategy(), Backend: e.Name()}

	defer func() {
		if r := recover(); r != nil {
			text = ""
			attempt.Error = fmt.Sprintf("panic: %v", r)
		}
		attempt.Duration = time.Since(start)
		attempt.Length = TextLength(text)
		if attempt.Error != "" {
			c.logger.Warn().
				Str("strategy", string(attempt.Strategy)).
				Str("backend", attempt.Backend).
				Str("error", attempt.Error).
				Msg("提取策略失败")
		}
	}()

	text, err := e.Extract(ctx, doc, scratch)
	if err != nil {
		attempt.Error = err.Error()
		return "", attempt
	}
	return text, attempt
}
