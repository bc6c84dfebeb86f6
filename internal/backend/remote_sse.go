package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// sseDelta is one decoded `data: {...}` payload from the remote server's
// streaming chat endpoint. Only the fields a chunk might carry are
// populated; zero values mean "nothing new this chunk".
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content   *string            `json:"content"`
			ToolCalls []models.ToolCall  `json:"tool_calls,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
	Error *remoteErrorDetail `json:"error,omitempty"`
}

// ExecuteChatStream posts a streaming chat request and accumulates the
// server-sent chunks into a single assistant Message. It is not part of
// the Backend interface (the orchestrator's canonical path is
// non-streaming per the chat() contract); callers that want incremental
// output use this directly and adapt it to their own transport.
func (e *RemoteExecutor) ExecuteChatStream(ctx context.Context, providerName string, messages []models.Message, options agent.ChatOptions, onChunk func(models.Message)) (models.Message, error) {
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
		Stream:   true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.Message{}, agent.NewValidationError("body", "failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.ServerURL+"/api/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return models.Message{}, agent.NewNetworkError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+e.config.UserAPIKey)
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return models.Message{}, agent.NewNetworkError("POST /api/v1/chat (stream)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.Message{}, agent.NewNetworkError("remote chat stream", fmt.Errorf("status %d", resp.StatusCode))
	}

	var content strings.Builder
	var toolCalls []models.ToolCall

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta sseDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		if delta.Error != nil {
			return models.Message{}, fmt.Errorf("backend: remote stream error: %s", delta.Error.Message)
		}
		if len(delta.Choices) == 0 {
			continue
		}
		c := delta.Choices[0].Delta
		if c.Content != nil {
			content.WriteString(*c.Content)
		}
		if len(c.ToolCalls) > 0 {
			toolCalls = append(toolCalls, c.ToolCalls...)
		}
		if onChunk != nil {
			chunkContent := c.Content
			onChunk(models.NewAssistantMessage(chunkContent, c.ToolCalls, nil))
		}
	}
	if err := scanner.Err(); err != nil {
		return models.Message{}, agent.NewNetworkError("read chat stream", err)
	}

	var finalContent *string
	if content.Len() > 0 {
		s := content.String()
		finalContent = &s
	}
	return models.NewAssistantMessage(finalContent, toolCalls, nil), nil
}
