package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/backoff"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// RemoteExecutorConfig configures a RemoteExecutor.
type RemoteExecutorConfig struct {
	ServerURL        string
	UserAPIKey       string
	Timeout          time.Duration
	MaxRetries       int
	EnableWebSocket  bool
	Headers          map[string]string
}

// DefaultRemoteExecutorConfig returns the spec's defaults, leaving
// ServerURL and UserAPIKey for the caller to fill in (both required).
func DefaultRemoteExecutorConfig() RemoteExecutorConfig {
	return RemoteExecutorConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// RemoteExecutor proxies chat calls to a remote server over HTTP, with
// optional SSE or WebSocket streaming. It normalizes both provider-native
// and already-normalized response shapes at the boundary so the
// orchestrator never sees a provider-specific field name.
type RemoteExecutor struct {
	config     RemoteExecutorConfig
	httpClient *http.Client
	logger     *slog.Logger

	// Metrics is optional; a nil Metrics makes retry recording a no-op.
	Metrics *observability.Metrics
}

// NewRemoteExecutor creates a RemoteExecutor. ServerURL and UserAPIKey are
// required; ValidateConfig surfaces their absence.
func NewRemoteExecutor(config RemoteExecutorConfig, logger *slog.Logger) *RemoteExecutor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultRemoteExecutorConfig().Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultRemoteExecutorConfig().MaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteExecutor{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

type remoteChatRequest struct {
	Messages []models.APIMessage `json:"messages"`
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Options  remoteChatOptions   `json:"options,omitempty"`
	Tools    []agent.ToolSchema  `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
}

type remoteChatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

type remoteChoice struct {
	Message struct {
		Role      string            `json:"role"`
		Content   *string           `json:"content"`
		ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
}

// remoteChatResponse accepts either a provider-native `choices[0].message`
// shape or a flat normalized `{role, content, toolCalls}` shape; whichever
// is present is used.
type remoteChatResponse struct {
	Choices   []remoteChoice     `json:"choices"`
	Role      string             `json:"role"`
	Content   *string            `json:"content"`
	ToolCalls []models.ToolCall  `json:"toolCalls,omitempty"`
	Error     *remoteErrorDetail `json:"error,omitempty"`
}

type remoteErrorDetail struct {
	Message string `json:"message"`
}

// ExecuteChat posts a non-streaming chat request to the remote server,
// retrying transport errors with exponential backoff and jitter.
func (e *RemoteExecutor) ExecuteChat(ctx context.Context, providerName string, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	apiMessages := make([]models.APIMessage, len(messages))
	for i, m := range messages {
		apiMessages[i] = m.ToAPIMessage()
	}

	body := remoteChatRequest{
		Messages: apiMessages,
		Provider: providerName,
		Model:    options.Model,
		Options:  remoteChatOptions{Temperature: options.Temperature, MaxTokens: options.MaxTokens},
		Tools:    options.Tools,
		Stream:   false,
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}
		msg, err := e.postChat(ctx, body)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if _, ok := err.(*agent.NetworkError); !ok {
			return models.Message{}, err
		}

		e.Metrics.RecordRetry("remote", "network")

		if attempt <= e.config.MaxRetries {
			if sleepErr := backoff.SleepWithBackoff(ctx, backoff.DefaultPolicy(), attempt); sleepErr != nil {
				return models.Message{}, sleepErr
			}
		}
	}
	return models.Message{}, lastErr
}

func (e *RemoteExecutor) postChat(ctx context.Context, body remoteChatRequest) (models.Message, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.Message{}, agent.NewValidationError("body", "failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.ServerURL+"/api/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return models.Message{}, agent.NewNetworkError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.UserAPIKey)
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return models.Message{}, agent.NewNetworkError("POST /api/v1/chat", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Message{}, agent.NewNetworkError("read response body", err)
	}

	if resp.StatusCode >= 500 {
		return models.Message{}, agent.NewNetworkError("remote chat", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return models.Message{}, agent.NewValidationError("remote chat", fmt.Sprintf("status %d: %s", resp.StatusCode, respBody), nil)
	}

	var decoded remoteChatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return models.Message{}, agent.NewNetworkError("decode response", err)
	}
	if decoded.Error != nil {
		return models.Message{}, fmt.Errorf("backend: remote server error: %s", decoded.Error.Message)
	}

	return normalizeRemoteResponse(decoded), nil
}

// normalizeRemoteResponse picks whichever of the provider-native or
// normalized shapes carried data, so downstream code never branches on
// which one was sent.
func normalizeRemoteResponse(r remoteChatResponse) models.Message {
	if len(r.Choices) > 0 {
		c := r.Choices[0].Message
		return models.NewAssistantMessage(c.Content, c.ToolCalls, nil)
	}
	return models.NewAssistantMessage(r.Content, r.ToolCalls, nil)
}

// SupportsTools reports whether this backend forwards tool schemas; the
// remote wire protocol always accepts a tools field.
func (e *RemoteExecutor) SupportsTools() bool { return true }

// ValidateConfig checks the required fields are present.
func (e *RemoteExecutor) ValidateConfig() error {
	if e.config.ServerURL == "" {
		return agent.NewConfigurationError("remote_executor", "serverUrl is required", nil)
	}
	if e.config.UserAPIKey == "" {
		return agent.NewConfigurationError("remote_executor", "userApiKey is required", nil)
	}
	return nil
}

// Dispose closes idle connections held by the HTTP client.
func (e *RemoteExecutor) Dispose() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
