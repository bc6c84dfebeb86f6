package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestConvertToOpenAIMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []models.Message
		wantLen  int
	}{
		{
			name: "basic text messages",
			messages: []models.Message{
				models.NewSystemMessage("You are a helpful assistant", nil),
				models.NewUserMessage("Hello", "", nil),
				models.NewAssistantMessage(models.StringPtr("Hi there!"), nil, nil),
			},
			wantLen: 3,
		},
		{
			name: "message with tool calls",
			messages: []models.Message{
				models.NewUserMessage("What's the weather?", "", nil),
				models.NewAssistantMessage(nil, []models.ToolCall{
					models.NewToolCall("call_123", "get_weather", `{"location":"NYC"}`),
				}, nil),
			},
			wantLen: 2,
		},
		{
			name: "message with tool result",
			messages: []models.Message{
				models.NewToolMessage("Sunny, 72F", "call_123", "get_weather", nil),
			},
			wantLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertToOpenAIMessages(tt.messages)
			if len(got) != tt.wantLen {
				t.Errorf("convertToOpenAIMessages() got %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestConvertToOpenAITools(t *testing.T) {
	tools := []agent.ToolSchema{
		{
			Name:        "test_tool",
			Description: "A test tool",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"arg":{"type":"string"}}}`),
		},
	}

	got := convertToOpenAITools(tools)
	if len(got) != 1 {
		t.Fatalf("convertToOpenAITools() got %d tools, want 1", len(got))
	}
	if got[0].Function.Name != "test_tool" {
		t.Errorf("convertToOpenAITools() name = %v, want test_tool", got[0].Function.Name)
	}
}

func TestConvertFromOpenAIMessage_ContentOnly(t *testing.T) {
	msg := convertFromOpenAIMessage(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Hello there"})
	if msg.Content == nil || *msg.Content != "Hello there" {
		t.Fatalf("expected content %q, got %v", "Hello there", msg.Content)
	}
	if msg.Role != models.RoleAssistant {
		t.Errorf("expected assistant role, got %v", msg.Role)
	}
}

func TestProviderName(t *testing.T) {
	provider := &OpenAIProvider{}
	if got := provider.Name(); got != "openai" {
		t.Errorf("Name() = %v, want openai", got)
	}
}

func TestProviderSupportsTools(t *testing.T) {
	provider := &OpenAIProvider{}
	if !provider.SupportsTools() {
		t.Error("SupportsTools() = false, want true")
	}
}

func TestProviderModels(t *testing.T) {
	provider := &OpenAIProvider{}
	models := provider.Models()

	if len(models) == 0 {
		t.Fatal("Models() returned empty list")
	}

	names := make(map[string]bool)
	for _, m := range models {
		names[m] = true
	}
	for _, expected := range []string{"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"} {
		if !names[expected] {
			t.Errorf("Models() missing expected model: %s", expected)
		}
	}
}

func TestOpenAIChat_MissingAPIKey(t *testing.T) {
	provider := NewOpenAIProvider("")
	_, err := provider.Chat(context.Background(), []models.Message{models.NewUserMessage("hi", "", nil)}, agent.ChatOptions{Model: "gpt-3.5-turbo"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	var cfgErr *agent.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
}

func TestRetryLogic(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"rate limit error", fmt.Errorf("rate limit exceeded"), true},
		{"429 status", fmt.Errorf("HTTP 429"), true},
		{"500 server error", fmt.Errorf("HTTP 500"), true},
		{"timeout", fmt.Errorf("timeout exceeded"), true},
		{"invalid API key", fmt.Errorf("invalid API key"), false},
		{"no error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRetryableOpenAIError(tt.err)
			if got != tt.wantRetry {
				t.Errorf("isRetryableOpenAIError() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestOpenAIProviderRetryDelay(t *testing.T) {
	provider := NewOpenAIProvider("sk-test")
	if provider.retryDelay != time.Second {
		t.Errorf("expected default retry delay of 1s, got %v", provider.retryDelay)
	}
	if provider.maxRetries != 3 {
		t.Errorf("expected default max retries of 3, got %d", provider.maxRetries)
	}
}
