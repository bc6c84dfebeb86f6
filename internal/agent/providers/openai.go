package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// OpenAIProvider implements agent.Provider against OpenAI's chat completions
// API. It calls CreateChatCompletion directly rather than streaming: the
// orchestrator's canonical round is request/response, and streaming is left
// to the backend layer when a caller wants it.
type OpenAIProvider struct {
	client     *openai.Client
	apiKey     string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates an OpenAI provider. An empty apiKey yields a
// provider whose Chat calls always fail with a configuration error, so it
// can still be registered and later replaced.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{apiKey: apiKey, maxRetries: 3, retryDelay: time.Second}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4o", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Chat sends a single non-streaming chat completion request. Chat does not
// retry: retrying transient failures (rate limit, server error, timeout) is
// the sole responsibility of the backend executor that dispatches to this
// provider (internal/backend.LocalExecutor), so a single chat call here
// corresponds to exactly one real API attempt.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	if p.client == nil {
		return models.Message{}, agent.NewConfigurationError("openai", "API key not configured", nil)
	}

	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: convertToOpenAIMessages(messages),
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if len(options.Tools) > 0 {
		req.Tools = convertToOpenAITools(options.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if !isRetryableOpenAIError(err) {
			return models.Message{}, agent.NewUnknownError(fmt.Errorf("openai: non-retryable error: %w", err))
		}
		return models.Message{}, agent.NewNetworkError("openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return models.Message{}, errors.New("openai: response had no choices")
	}

	return convertFromOpenAIMessage(resp.Choices[0].Message), nil
}

func convertToOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.ContentOrEmpty()})
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.ContentOrEmpty(), Name: m.Name})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.ContentOrEmpty()}
			if len(m.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					}
				}
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ContentOrEmpty(),
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return result
}

func convertFromOpenAIMessage(m openai.ChatCompletionMessage) models.Message {
	var content *string
	if m.Content != "" || len(m.ToolCalls) == 0 {
		content = models.StringPtr(m.Content)
	}

	var toolCalls []models.ToolCall
	for _, tc := range m.ToolCalls {
		toolCalls = append(toolCalls, models.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	return models.NewAssistantMessage(content, toolCalls, nil)
}

func convertToOpenAITools(tools []agent.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	default:
		return false
	}
}
