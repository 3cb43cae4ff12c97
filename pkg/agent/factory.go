package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"cv-ingest/internal/config"
	"cv-ingest/pkg/ratelimit"
)

// 支持的补全服务
const (
	ProviderQwen   = "qwen"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// NewChatModelFromConfig 按 provider 创建补全模型并套上 QPM 限流
func NewChatModelFromConfig(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	c := cfg.Completion

	var (
		base model.ToolCallingChatModel
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case ProviderQwen, "":
		base, err = NewOpenAICompatibleChatModel(c.APIKey, c.Model, c.APIURL, openAIOptions(c)...)
	case ProviderOpenAI:
		apiURL := c.APIURL
		if apiURL == "" {
			apiURL = OpenAIChatURL
		}
		base, err = NewOpenAICompatibleChatModel(c.APIKey, c.Model, apiURL, openAIOptions(c)...)
	case ProviderGemini:
		opts := []GeminiOption{WithGeminiJSONMode(true), WithGeminiTemperature(c.Temperature)}
		if c.MaxTokens > 0 {
			opts = append(opts, WithGeminiMaxTokens(c.MaxTokens))
		}
		base, err = NewGeminiChatModel(ctx, c.APIKey, c.Model, opts...)
	case ProviderMock:
		// 本地演练：返回一个空对象，规范化后得到空简历
		return NewMockChatClient("{}", nil), nil
	default:
		return nil, fmt.Errorf("未知的补全服务: %q", c.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("创建补全模型失败: %w", err)
	}

	return ratelimit.NewLLMWithRateLimit(
		base,
		c.Model,
		cfg.ModelQPMLimits,
		c.QPM,
		c.MaxRetries,
		time.Duration(c.RetryWaitSeconds)*time.Second,
	), nil
}

func openAIOptions(c config.CompletionConfig) []OpenAIOption {
	opts := []OpenAIOption{WithJSONMode(true), WithTemperature(c.Temperature)}
	if c.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(c.MaxTokens))
	}
	return opts
}
