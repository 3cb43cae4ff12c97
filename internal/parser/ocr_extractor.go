package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// OCRExtractor 渲染页面后逐页调用 tesseract 识别
type OCRExtractor struct {
	rasterizer Rasterizer
	runner     Runner
	tesseract  string
	language   string
	workers    int
	timeout    time.Duration
	logger     zerolog.Logger
}

// OCROption 配置选项
type OCROption func(*OCRExtractor)

func WithOCRLanguage(lang string) OCROption {
	return func(e *OCRExtractor) {
		if lang != "" {
			e.language = lang
		}
	}
}

func WithTesseractBinary(path string) OCROption {
	return func(e *OCRExtractor) {
		if path != "" {
			e.tesseract = path
		}
	}
}

// WithOCRWorkers 同时识别的页数
func WithOCRWorkers(n int) OCROption {
	return func(e *OCRExtractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithOCRTimeout 整个 OCR 阶段的超时
func WithOCRTimeout(d time.Duration) OCROption {
	return func(e *OCRExtractor) {
		e.timeout = d
	}
}

func WithOCRRunner(r Runner) OCROption {
	return func(e *OCRExtractor) {
		e.runner = r
	}
}

func WithOCRLogger(l zerolog.Logger) OCROption {
	return func(e *OCRExtractor) {
		e.logger = l
	}
}

var _ TextExtractor = (*OCRExtractor)(nil)

// NewOCRExtractor 创建 OCR 提取器
func NewOCRExtractor(rasterizer Rasterizer, options ...OCROption) *OCRExtractor {
	e := &OCRExtractor{
		rasterizer: rasterizer,
		tesseract:  "tesseract",
		language:   "eng",
		workers:    2,
		timeout:    90 * time.Second,
		logger:     logger.Component("ocr"),
	}
	for _, option := range options {
		option(e)
	}
	if e.runner == nil {
		e.runner = ExecRunner{Logger: e.logger}
	}
	return e
}

func (e *OCRExtractor) Strategy() types.Strategy { return types.StrategyOCR }

func (e *OCRExtractor) Name() string { return "tesseract" }

func (e *OCRExtractor) Extract(ctx context.Context, doc *types.RawDocument, scratch Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}
	if scratch == nil {
		return "", errors.New("OCR 需要临时目录")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	dir, err := scratch.TempDir("cv-ocr-*")
	if err != nil {
		return "", fmt.Errorf("创建OCR临时目录失败: %w", err)
	}

	pages, err := e.rasterizer.Rasterize(ctx, doc.Data, dir)
	if err != nil {
		return "", fmt.Errorf("页面渲染失败: %w", err)
	}
	if len(pages) == 0 {
		return "", errors.New("没有渲染出任何页面")
	}

	results := make([]string, len(pages))
	failures := make([]error, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, page := range pages {
		g.Go(func() error {
			// tesseract <image> stdout -l <lang>
			out, _, err := e.runner.Run(gctx, e.tesseract, page, "stdout", "-l", e.language)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// 单页失败不影响其他页
				failures[i] = fmt.Errorf("第 %d 页识别失败: %w", i+1, err)
				return nil
			}
			results[i] = strings.TrimSpace(string(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var (
		b      strings.Builder
		failed int
	)
	for i, text := range results {
		if failures[i] != nil {
			failed++
			e.logger.Warn().Err(failures[i]).Msg("OCR 页面失败")
			continue
		}
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	if failed == len(pages) {
		return "", fmt.Errorf("全部 %d 页识别失败: %w", failed, errors.Join(failures...))
	}

	e.logger.Info().Int("pages", len(pages)).Int("failed_pages", failed).Int("length", TextLength(b.String())).Msg("OCR 完成")
	return b.String(), nil
}
