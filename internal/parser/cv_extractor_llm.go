package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
)

// ErrMalformedJSON 补全结果不是合法的 JSON 对象
var ErrMalformedJSON = errors.New("completion response is not a valid JSON object")

// DefaultMaxRequestChars 请求总字符预算的默认值
const DefaultMaxRequestChars = 30000

// CVExtractor 把简历文本发送给补全模型并解析返回的 JSON
type CVExtractor struct {
	model           model.ToolCallingChatModel
	timeout         time.Duration
	maxRequestChars int
	validator       *SchemaValidator
	logger          zerolog.Logger
}

// CVExtractorOption CVExtractor 的配置选项
type CVExtractorOption func(*CVExtractor)

// WithCompletionTimeout 单次补全调用的超时
func WithCompletionTimeout(d time.Duration) CVExtractorOption {
	return func(e *CVExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRequestChars 请求的总字符预算（说明 + 结构 + 文本）
func WithMaxRequestChars(n int) CVExtractorOption {
	return func(e *CVExtractor) {
		if n > 0 {
			e.maxRequestChars = n
		}
	}
}

// WithSchemaValidator 启用结构诊断
func WithSchemaValidator(v *SchemaValidator) CVExtractorOption {
	return func(e *CVExtractor) {
		e.validator = v
	}
}

func WithCVExtractorLogger(l zerolog.Logger) CVExtractorOption {
	return func(e *CVExtractor) {
		e.logger = l
	}
}

// NewCVExtractor 创建补全客户端
func NewCVExtractor(llm model.ToolCallingChatModel, options ...CVExtractorOption) *CVExtractor {
	e := &CVExtractor{
		model:           llm,
		timeout:         60 * time.Second,
		maxRequestChars: DefaultMaxRequestChars,
		logger:          logger.Component("cv_extractor"),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// TextBudget 扣除系统消息后留给简历文本的字符数
func (e *CVExtractor) TextBudget() int {
	prompt := types.CompletionRequest{Instructions: cvInstructions, Schema: cvSchemaTemplate}.SystemPrompt()
	return max(e.maxRequestChars-len([]rune(prompt)), 0)
}

// BuildRequest 组装补全请求，超出预算时对文本再次窗口化
func (e *CVExtractor) BuildRequest(text string) types.CompletionRequest {
	req := types.CompletionRequest{
		Instructions: cvInstructions,
		Schema:       cvSchemaTemplate,
		Text:         text,
	}
	if req.Size() <= e.maxRequestChars {
		return req
	}

	budget := e.TextBudget()
	req.Text, req.Truncated = WindowText(text, budget)
	e.logger.Warn().
		Int("original_length", len([]rune(text))).
		Int("budget", budget).
		Msg("请求超出字符预算，文本已再次截断")
	return req
}

// Complete 只调用一次模型，不在这一层重试
func (e *CVExtractor) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "parser.CVExtractor.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.Int("completion.request_size", req.Size()),
		attribute.Bool("completion.truncated", req.Truncated),
	)

	if e.model == nil {
		err := errors.New("completion model is not configured")
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeCompletion)
		return "", err
	}

	messages := []*einoschema.Message{
		{Role: einoschema.System, Content: req.SystemPrompt()},
		{Role: einoschema.User, Content: req.Text},
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.model.Generate(callCtx, messages)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("completion timed out after %s: %w", e.timeout, err)
		}
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeCompletion,
			attribute.Int64("completion.duration_ms", duration.Milliseconds()))
		e.logger.Error().Err(err).Dur("duration", duration).Msg("补全调用失败")
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	if resp == nil {
		err := errors.New("completion returned no message")
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeCompletion)
		return "", err
	}

	span.SetAttributes(attribute.Int("completion.response_length", len(resp.Content)))
	e.logger.Info().
		Dur("duration", duration).
		Int("response_length", len(resp.Content)).
		Msg("补全调用完成")
	return resp.Content, nil
}

// Parse 从模型输出中取出 JSON 对象
func (e *CVExtractor) Parse(raw string) (*types.RawCompletionResult, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" || !gjson.Valid(jsonStr) {
		e.logger.Error().
			Str("raw_response", tracing.TruncateString(raw, 2000)).
			Msg("补全结果中没有合法的 JSON")
		return nil, fmt.Errorf("%w: no parsable JSON found", ErrMalformedJSON)
	}

	root := gjson.Parse(jsonStr)
	if !root.IsObject() {
		e.logger.Error().
			Str("raw_response", tracing.TruncateString(raw, 2000)).
			Msg("补全结果不是 JSON 对象")
		return nil, fmt.Errorf("%w: top level is %s", ErrMalformedJSON, root.Type)
	}

	result := &types.RawCompletionResult{Raw: jsonStr, Root: root}
	if e.validator != nil {
		result.Diagnostics = e.validator.Diagnose([]byte(jsonStr))
		if len(result.Diagnostics) > 0 {
			e.logger.Warn().
				Strs("diagnostics", result.Diagnostics).
				Msg("补全结果与目标结构不一致，交给规范化处理")
		}
	}
	e.logger.Debug().Str("raw_response", tracing.TruncateString(raw, 500)).Msg("补全结果已解析")
	return result, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// extractJSON 优先取 ```json 代码块，否则从第一个 { 开始做括号匹配（忽略字符串中的括号）
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if gjson.Valid(candidate) {
			return candidate
		}
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
