package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// EinoPDFExtractor 使用 Eino PDF Parser 做结构化解析
type EinoPDFExtractor struct {
	parser  einoParser.Parser
	timeout time.Duration
	logger  zerolog.Logger
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFExtractor)

func WithEinoLogger(l zerolog.Logger) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		e.logger = l
	}
}

// WithEinoTimeout 单次解析超时，默认30秒
func WithEinoTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// withEinoParser 替换底层解析器，测试使用
func withEinoParser(p einoParser.Parser) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		e.parser = p
	}
}

var _ TextExtractor = (*EinoPDFExtractor)(nil)

// NewEinoPDFExtractor 初始化 Eino PDF 提取器，不按页面分割以获取整个文档的连续文本
func NewEinoPDFExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFExtractor, error) {
	e := &EinoPDFExtractor{
		timeout: 30 * time.Second,
		logger:  logger.Component("pdf_eino"),
	}
	for _, option := range options {
		option(e)
	}

	if e.parser == nil {
		p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
		}
		e.parser = p
	}
	return e, nil
}

func (e *EinoPDFExtractor) Strategy() types.Strategy { return types.StrategyStructural }

func (e *EinoPDFExtractor) Name() string { return "eino-pdf" }

func (e *EinoPDFExtractor) Extract(ctx context.Context, doc *types.RawDocument, _ Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, bytes.NewReader(doc.Data),
		einoParser.WithURI(doc.Filename),
		einoParser.WithExtraMeta(map[string]any{
			"source_file_name": doc.Filename,
			"extraction_time":  startTime.Format(time.RFC3339),
		}),
	)
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("eino PDF parser failed for %s: %w", doc.Filename, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF parser returned no documents for %s", doc.Filename)
	}

	// 正常情况下只有一个文档，多个时按页拼接
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d != nil && d.Content != "" {
			parts = append(parts, d.Content)
		}
	}
	text := strings.Join(parts, "\n\n")

	e.logger.Debug().
		Int("documents", len(docs)).
		Int("length", TextLength(text)).
		Dur("duration", duration).
		Msg("Eino PDF 解析完成")
	return text, nil
}
