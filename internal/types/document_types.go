package types

import (
	"time"

	"github.com/tidwall/gjson"
)

// DocumentKind 格式分类结果
type DocumentKind string

const (
	KindWordProcessor DocumentKind = "word-processor"
	KindPDF           DocumentKind = "pdf"
	KindUnsupported   DocumentKind = "unsupported"
)

// QualityTier 提取文本的质量等级，只由文本长度决定
type QualityTier string

const (
	TierEmpty      QualityTier = "empty"
	TierMinimal    QualityTier = "minimal"
	TierSufficient QualityTier = "sufficient"
)

// Rank 用于比较等级高低
func (t QualityTier) Rank() int {
	switch t {
	case TierSufficient:
		return 2
	case TierMinimal:
		return 1
	}
	return 0
}

// Strategy 文本提取策略
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategyPattern    Strategy = "pattern"
	StrategyOCR        Strategy = "ocr"
)

// SectionType 简历章节类型
type SectionType string

const (
	SectionPersonal        SectionType = "PERSONAL"
	SectionSummary         SectionType = "SUMMARY"
	SectionExperience      SectionType = "EXPERIENCE"
	SectionEducation       SectionType = "EDUCATION"
	SectionSkills          SectionType = "SKILLS"
	SectionCertificates    SectionType = "CERTIFICATES"
	SectionLanguages       SectionType = "LANGUAGES"
	SectionExtracurricular SectionType = "EXTRACURRICULAR"
	SectionAdditional      SectionType = "ADDITIONAL"
)

// RawDocument 上传的原始文档，只属于一次流水线运行
type RawDocument struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Size 返回字节数，Release 之后为 0
func (d *RawDocument) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Data)
}

// Release 丢弃字节缓冲，可重复调用
func (d *RawDocument) Release() {
	if d != nil {
		d.Data = nil
	}
}

// ExtractionAttempt 记录单个策略的一次尝试
type ExtractionAttempt struct {
	Strategy Strategy      `json:"strategy"`
	Backend  string        `json:"backend"`
	Length   int           `json:"length"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExtractedText 提取链的输出
type ExtractedText struct {
	Content  string                 `json:"content"`
	Tier     QualityTier            `json:"tier"`
	Strategy Strategy               `json:"strategy"`
	Sections map[SectionType]string `json:"sections,omitempty"`
	Attempts []ExtractionAttempt    `json:"attempts,omitempty"`
}

// CompletionRequest 发往补全服务的请求
type CompletionRequest struct {
	Instructions string
	Schema       string
	Text         string
	// Truncated 表示 Text 在构建请求时被再次窗口化
	Truncated bool
}

// schemaJoiner 系统消息中说明与结构之间的分隔
const schemaJoiner = "\n\nTarget JSON structure:\n"

// SystemPrompt 实际发送的系统消息
func (r CompletionRequest) SystemPrompt() string {
	return r.Instructions + schemaJoiner + r.Schema
}

// Size 请求的序列化长度（按字符计）
func (r CompletionRequest) Size() int {
	return len([]rune(r.SystemPrompt())) + len([]rune(r.Text))
}

// RawCompletionResult 补全服务返回的未受信 JSON 对象
type RawCompletionResult struct {
	Raw  string
	Root gjson.Result
	// Diagnostics 结构校验的非致命提示
	Diagnostics []string
}
