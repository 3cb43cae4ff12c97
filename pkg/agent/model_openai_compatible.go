package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"cv-ingest/internal/logger"
	"cv-ingest/internal/tracing"
)

const (
	// DashScope 的 OpenAI 兼容接口
	DashScopeCompatibleURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	OpenAIChatURL          = "https://api.openai.com/v1/chat/completions"
	defaultQwenModelName   = "qwen-plus"
)

// ErrToolsUnsupported 简历解析只需要纯文本补全
var ErrToolsUnsupported = errors.New("tool binding is not supported by this model")

// APIError 补全接口返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), tracing.TruncateString(e.Body, 500))
}

// OpenAICompatibleChatModel 通过 OpenAI 兼容的 chat/completions 接口调用模型（通义千问、OpenAI 等）
type OpenAICompatibleChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float64
	maxTokens   int
	jsonMode    bool
	httpClient  *http.Client
	logger      zerolog.Logger
}

// OpenAIOption 配置选项
type OpenAIOption func(*OpenAICompatibleChatModel)

func WithTemperature(t float64) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.temperature = &t
	}
}

func WithMaxTokens(n int) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.maxTokens = n
	}
}

// WithJSONMode 请求 response_format=json_object
func WithJSONMode(enabled bool) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.jsonMode = enabled
	}
}

// WithHTTPClient 替换 HTTP 客户端；超时由调用方的 context 控制
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.httpClient = c
	}
}

func WithModelLogger(l zerolog.Logger) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.logger = l
	}
}

var _ model.ToolCallingChatModel = (*OpenAICompatibleChatModel)(nil)

// NewOpenAICompatibleChatModel 创建模型，modelName/apiURL 为空时使用通义千问默认值
func NewOpenAICompatibleChatModel(apiKey, modelName, apiURL string, options ...OpenAIOption) (*OpenAICompatibleChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DashScopeCompatibleURL
	}

	m := &OpenAICompatibleChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{},
		logger:     logger.Component("openai_compatible"),
	}
	for _, option := range options {
		option(m)
	}
	m.logger.Info().Str("api_url", apiURL).Str("model", modelName).Msg("补全模型客户端已创建")
	return m, nil
}

// ModelName 模型名称
func (m *OpenAICompatibleChatModel) ModelName() string {
	return m.modelName
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// Generate 发送一次补全请求，不做重试
func (m *OpenAICompatibleChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	payload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if m.jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API 响应没有 choices: %s", tracing.TruncateString(string(respBody), 500))
	}

	choice := parsed.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	event := m.logger.Debug().
		Str("model", parsed.Model).
		Str("finish_reason", choice.FinishReason).
		Int("content_length", len(content)).
		Dur("duration", time.Since(start))
	if parsed.Usage != nil {
		event = event.Int("prompt_tokens", parsed.Usage.PromptTokens).Int("completion_tokens", parsed.Usage.CompletionTokens)
	}
	event.Msg("补全请求完成")

	return schema.AssistantMessage(content, nil), nil
}

// Stream 不支持
func (m *OpenAICompatibleChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAICompatibleChatModel 不支持 Stream")
}

// WithTools 不支持
func (m *OpenAICompatibleChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return nil, ErrToolsUnsupported
}

// HTTPStatus 供限流代理判断是否可重试
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
