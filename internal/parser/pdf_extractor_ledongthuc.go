package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/types"
)

// LedongthucPDFExtractor 纯 Go 的 PDF 解析，不依赖外部服务
type LedongthucPDFExtractor struct {
	logger zerolog.Logger
}

var _ TextExtractor = (*LedongthucPDFExtractor)(nil)

// NewLedongthucPDFExtractor 创建解析器
func NewLedongthucPDFExtractor(l ...zerolog.Logger) *LedongthucPDFExtractor {
	e := &LedongthucPDFExtractor{logger: logger.Component("pdf_ledongthuc")}
	if len(l) > 0 {
		e.logger = l[0]
	}
	return e
}

func (e *LedongthucPDFExtractor) Strategy() types.Strategy { return types.StrategyStructural }

func (e *LedongthucPDFExtractor) Name() string { return "ledongthuc-pdf" }

func (e *LedongthucPDFExtractor) Extract(ctx context.Context, doc *types.RawDocument, _ Scratch) (string, error) {
	if doc.Size() == 0 {
		return "", errors.New("文档内容为空")
	}

	r, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(doc.Size()))
	if err != nil {
		return "", fmt.Errorf("打开PDF失败: %w", err)
	}

	var (
		b      strings.Builder
		failed int
	)
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			failed++
			e.logger.Debug().Err(err).Int("page", i).Msg("页面文本提取失败")
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	if total > 0 && failed == total {
		return "", fmt.Errorf("全部 %d 页提取失败", total)
	}
	return b.String(), nil
}
