package provider

import (
	"context"
	"testing"

	"github.com/wvrzel/weave/internal/config"
)

func TestNewChatModel_NoProvider(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewChatModel(context.Background(), cfg)
	if err == nil {
		t.Error("expected error when no provider configured")
	}
}

func TestNewChatModel_OpenRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "test-key"

	m, err := NewChatModel(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewChatModel() error: %v", err)
	}
	if m == nil {
		t.Fatal("expected model instance")
	}
}

func TestNewChatModel_ClaudeTakesPrecedenceOverOpenAI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = "claude-sonnet-4-5"
	cfg.Providers.Claude.APIKey = "claude-key"
	cfg.Providers.OpenAI.APIKey = "openai-key"

	m, err := NewChatModel(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewChatModel() error: %v", err)
	}
	if m == nil {
		t.Fatal("expected model instance")
	}
}

func TestNewChatModel_OllamaByBaseURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = "llama3.1"
	cfg.Providers.Ollama.BaseURL = "http://localhost:11434"

	m, err := NewChatModel(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewChatModel() error: %v", err)
	}
	if m == nil {
		t.Fatal("expected model instance")
	}
}
