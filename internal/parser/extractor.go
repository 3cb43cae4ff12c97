package parser

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"cv-ingest/internal/types"
)

// 文本长度阈值（按字符计）
const (
	MinimalTextLength    = 100
	SufficientTextLength = 1000

	// DefaultPatternAcceptLength 字节扫描结果的默认接受阈值
	DefaultPatternAcceptLength = 300
)

// TextExtractor 单个文本提取策略
type TextExtractor interface {
	// Strategy 策略类别: structural / pattern / ocr
	Strategy() types.Strategy
	// Name 具体后端名称，写入日志和 ExtractionAttempt
	Name() string
	// Extract 从原始文档提取纯文本，临时文件必须通过 scratch 创建
	Extract(ctx context.Context, doc *types.RawDocument, scratch Scratch) (string, error)
}

// Scratch 运行级临时资源分配器，创建的资源在运行结束时统一释放
type Scratch interface {
	TempDir(pattern string) (string, error)
	TempFile(pattern string) (*os.File, error)
}

// TierOf 质量等级只取决于去掉首尾空白后的字符数
func TierOf(text string) types.QualityTier {
	n := TextLength(text)
	switch {
	case n < MinimalTextLength:
		return types.TierEmpty
	case n < SufficientTextLength:
		return types.TierMinimal
	default:
		return types.TierSufficient
	}
}

// TextLength 去掉首尾空白后的字符数
func TextLength(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}
