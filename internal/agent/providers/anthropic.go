// Package providers implements provider integrations for the agentcore
// runtime: production-ready agent.Provider implementations for Anthropic's
// Claude and OpenAI's GPT models, handling format conversion and error
// classification. Each Chat call makes a single API attempt; retrying is
// left to the executor back-end.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// AnthropicProvider implements agent.Provider against Anthropic's Messages
// API. It calls Messages.New directly rather than streaming: the
// orchestrator's canonical round is request/response, and the backend layer
// owns streaming when a caller wants it.
//
// AnthropicProvider is safe for concurrent use; each Chat call is
// independent.
type AnthropicProvider struct {
	client anthropic.Client

	apiKey     string
	maxRetries int
	retryDelay time.Duration

	defaultModel string
}

// AnthropicConfig holds configuration for NewAnthropicProvider. Only APIKey
// is required; the rest default to sensible values.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config, applies defaults, and builds the
// underlying SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		apiKey:       config.APIKey,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models returns the list of Claude models this provider supports,
// newest first.
func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-opus-20240229",
		"claude-3-sonnet-20240229",
		"claude-3-haiku-20240307",
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Chat sends a single Messages.New request and classifies any failure into
// a ProviderError carrying a FailoverReason. Chat does not retry: retrying
// transient failures is the sole responsibility of the backend executor
// that dispatches to this provider (internal/backend.LocalExecutor), so a
// single chat call here corresponds to exactly one real API attempt.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	system, converted := splitSystemAndConvert(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(options.Model)),
		Messages:  converted,
		MaxTokens: int64(p.getMaxTokens(options.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(options.Tools) > 0 {
		tools, err := convertAnthropicTools(options.Tools)
		if err != nil {
			return models.Message{}, agent.NewValidationError("tools", "invalid tool schema", err)
		}
		params.Tools = tools
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.Message{}, p.wrapError(err, string(params.Model))
	}

	return convertFromAnthropicMessage(resp), nil
}

// splitSystemAndConvert pulls system-role messages out (Anthropic carries
// system as a top-level field, not a message) and converts the remainder.
func splitSystemAndConvert(messages []models.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	var result []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == models.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.ContentOrEmpty())
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != nil && *m.Content != "" {
			content = append(content, anthropic.NewTextBlock(*m.Content))
		}

		if m.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.ContentOrEmpty(), false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		for _, tc := range m.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}

		if m.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return system.String(), result
}

func convertFromAnthropicMessage(msg *anthropic.Message) models.Message {
	var text strings.Builder
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			input, err := json.Marshal(toolUse.Input)
			if err != nil {
				input = []byte("{}")
			}
			toolCalls = append(toolCalls, models.NewToolCall(toolUse.ID, toolUse.Name, string(input)))
		}
	}

	var content *string
	if text.Len() > 0 || len(toolCalls) == 0 {
		content = models.StringPtr(text.String())
	}

	metadata := map[string]any{
		"usage": map[string]any{
			"inputTokens":  int(msg.Usage.InputTokens),
			"outputTokens": int(msg.Usage.OutputTokens),
			"totalTokens":  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		"stopReason": string(msg.StopReason),
	}

	return models.NewAssistantMessage(content, toolCalls, metadata)
}

func convertAnthropicTools(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens *int) int {
	if maxTokens == nil || *maxTokens <= 0 {
		return 4096
	}
	return *maxTokens
}

// isRetryableError classifies a failure as transient (rate limit, server
// error, timeout, connection reset) or permanent (auth, validation).
func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "gateway timeout"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return true
	default:
		return false
	}
}

// wrapError classifies err into a ProviderError carrying a FailoverReason,
// so callers upstream of this provider can decide whether to fail over to
// another provider rather than merely retry.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("anthropic", model, err).
			WithStatus(apiErr.StatusCode)

		var payload anthropicErrorPayload
		if jsonErr := json.Unmarshal([]byte(apiErr.RawJSON()), &payload); jsonErr == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				providerErr = providerErr.WithRequestID(payload.RequestID)
			}
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// CountTokens estimates the token count of a request body using the
// conservative four-characters-per-token heuristic; it is not a substitute
// for the API's own token counting endpoint, only a quick pre-flight guard.
func (p *AnthropicProvider) CountTokens(messages []models.Message, system string) int {
	chars := len(system)
	for _, m := range messages {
		chars += len(m.ContentOrEmpty())
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / 4
}
