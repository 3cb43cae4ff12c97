package processor

import (
	"context"
	"time"

	"cv-ingest/internal/parser"
	"cv-ingest/internal/types"
)

//
// 流水线阶段
//

// TextExtractionChain 按质量逐级回退的文本提取
type TextExtractionChain interface {
	Extract(ctx context.Context, doc *types.RawDocument, scratch parser.Scratch) (*types.ExtractedText, error)
}

// StructuredExtractor 补全请求的构建、调用与解析
type StructuredExtractor interface {
	TextBudget() int
	BuildRequest(text string) types.CompletionRequest
	Complete(ctx context.Context, req types.CompletionRequest) (string, error)
	Parse(raw string) (*types.RawCompletionResult, error)
}

// RecordNormalizer 把补全结果映射为规范记录
type RecordNormalizer interface {
	Normalize(raw *types.RawCompletionResult) *types.CanonicalCV
}

var (
	_ TextExtractionChain = (*parser.ExtractionChain)(nil)
	_ StructuredExtractor = (*parser.CVExtractor)(nil)
	_ RecordNormalizer    = (*parser.Normalizer)(nil)
)

//
// 服务层依赖
//

// CVCache 以文档 MD5 为键的结果缓存
type CVCache interface {
	GetCV(ctx context.Context, md5Hex string) (*types.CanonicalCV, error)
	SetCV(ctx context.Context, md5Hex string, cv *types.CanonicalCV, ttl time.Duration) error
}

// RunRecorder 记录每次运行的审计信息，不保存简历内容
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// Ingestor 传输层使用的入口
type Ingestor interface {
	Ingest(ctx context.Context, doc *types.RawDocument) (*IngestOutcome, error)
}

// RunRecord 一次运行的审计记录
type RunRecord struct {
	RunID        string
	DocumentMD5  string
	Filename     string
	MIMEType     string
	SizeBytes    int
	Status       string
	ErrorKind    ErrorKind
	ErrorMessage string
	FinalState   RunState
	States       []RunState
	Tier         types.QualityTier
	Strategy     types.Strategy
	TextLength   int
	Truncated    bool
	CacheHit     bool
	Duration     time.Duration
	Attempts     []types.ExtractionAttempt
}

// 运行状态
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCached    = "cached"
)
