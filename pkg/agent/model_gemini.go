package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"cv-ingest/internal/logger"
)

const defaultGeminiModel = "gemini-2.5-flash"

// contentGenerator genai.Models 的子集，便于测试替换
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatModel 通过 Gemini API 实现补全
type GeminiChatModel struct {
	models      contentGenerator
	modelName   string
	temperature *float32
	maxTokens   int32
	jsonMode    bool
	logger      zerolog.Logger
}

// GeminiOption 配置选项
type GeminiOption func(*GeminiChatModel)

func WithGeminiTemperature(t float64) GeminiOption {
	return func(g *GeminiChatModel) {
		v := float32(t)
		g.temperature = &v
	}
}

func WithGeminiMaxTokens(n int) GeminiOption {
	return func(g *GeminiChatModel) {
		g.maxTokens = int32(n)
	}
}

// WithGeminiJSONMode 要求返回 application/json
func WithGeminiJSONMode(enabled bool) GeminiOption {
	return func(g *GeminiChatModel) {
		g.jsonMode = enabled
	}
}

func WithGeminiLogger(l zerolog.Logger) GeminiOption {
	return func(g *GeminiChatModel) {
		g.logger = l
	}
}

func withContentGenerator(c contentGenerator) GeminiOption {
	return func(g *GeminiChatModel) {
		g.models = c
	}
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)

// NewGeminiChatModel 创建 Gemini API 客户端
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, options ...GeminiOption) (*GeminiChatModel, error) {
	g := &GeminiChatModel{
		modelName: strings.TrimSpace(modelName),
		logger:    logger.Component("gemini"),
	}
	if g.modelName == "" {
		g.modelName = defaultGeminiModel
	}
	for _, option := range options {
		option(g)
	}

	if g.models == nil {
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return nil, errors.New("gemini api key is required")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		g.models = client.Models
	}
	return g, nil
}

// ModelName 模型名称
func (g *GeminiChatModel) ModelName() string {
	return g.modelName
}

// Generate system 消息合并为 SystemInstruction，其余按角色转换
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     g.temperature,
		MaxOutputTokens: g.maxTokens,
	}
	if g.jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	var (
		system   []string
		contents []*genai.Content
	)
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(contents) == 0 {
		return nil, errors.New("prompt must not be empty")
	}

	resp, err := g.models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
		// 只取第一个有内容的候选
		if builder.Len() > 0 {
			break
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return nil, errors.New("gemini api returned empty response")
	}
	g.logger.Debug().Str("model", g.modelName).Int("content_length", len(output)).Msg("补全请求完成")
	return schema.AssistantMessage(output, nil), nil
}

// Stream 不支持
func (g *GeminiChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("GeminiChatModel 不支持 Stream")
}

// WithTools 不支持
func (g *GeminiChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return nil, ErrToolsUnsupported
}
