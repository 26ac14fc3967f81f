package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/wvrzel/weave/internal/config"
)

// NewChatModel creates a ChatModel based on configuration
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	p := cfg.Providers
	a := cfg.Agent

	switch {
	case p.OpenRouter.APIKey != "":
		return newOpenRouterModel(ctx, p.OpenRouter, a)
	case p.Claude.APIKey != "":
		return newClaudeModel(ctx, p.Claude, a)
	case p.OpenAI.APIKey != "":
		return newOpenAIModel(ctx, p.OpenAI, a)
	case p.DeepSeek.APIKey != "":
		return newDeepSeekModel(ctx, p.DeepSeek, a)
	case p.Ollama.BaseURL != "":
		return newOllamaModel(ctx, p.Ollama, a)
	default:
		return nil, fmt.Errorf("no provider configured: set api_key for at least one provider")
	}
}

func newOpenRouterModel(ctx context.Context, p config.ProviderConfig, a config.AgentConfig) (model.ChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       a.Model,
		APIKey:      p.APIKey,
		BaseURL:     "https://openrouter.ai/api/v1",
		Temperature: toFloat32Ptr(a.Temperature),
		MaxTokens:   toIntPtr(a.MaxTokens),
	})
}

func newClaudeModel(ctx context.Context, p config.ProviderConfig, a config.AgentConfig) (model.ChatModel, error) {
	cfg := &claude.Config{
		APIKey:      p.APIKey,
		Model:       a.Model,
		MaxTokens:   a.MaxTokens,
		Temperature: toFloat32Ptr(a.Temperature),
	}
	if p.BaseURL != "" {
		cfg.BaseURL = &p.BaseURL
	}
	return claude.NewChatModel(ctx, cfg)
}

func newOpenAIModel(ctx context.Context, p config.ProviderConfig, a config.AgentConfig) (model.ChatModel, error) {
	cfg := &openai.ChatModelConfig{
		Model:       a.Model,
		APIKey:      p.APIKey,
		Temperature: toFloat32Ptr(a.Temperature),
		MaxTokens:   toIntPtr(a.MaxTokens),
	}
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	return openai.NewChatModel(ctx, cfg)
}

func newDeepSeekModel(ctx context.Context, p config.ProviderConfig, a config.AgentConfig) (model.ChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       a.Model,
		APIKey:      p.APIKey,
		BaseURL:     "https://api.deepseek.com/v1",
		Temperature: toFloat32Ptr(a.Temperature),
		MaxTokens:   toIntPtr(a.MaxTokens),
	})
}

func newOllamaModel(ctx context.Context, p config.ProviderConfig, a config.AgentConfig) (model.ChatModel, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   a.Model,
	})
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
