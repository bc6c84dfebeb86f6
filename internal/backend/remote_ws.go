package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// wsFrame is the envelope every frame on the chat WebSocket carries,
// typed by Type so the reader can dispatch without guessing shape.
type wsFrame struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsChunkData struct {
	Content   *string            `json:"content"`
	ToolCalls []models.ToolCall  `json:"toolCalls,omitempty"`
}

type wsErrorData struct {
	Message string `json:"message"`
}

// ExecuteChatStreamWS drives the chat exchange over a WebSocket whenever it
// is called; EnableWebSocket is not consulted by it or any other
// RemoteExecutor method. It connects, sends an auth frame, sends the chat
// request as a chat_stream frame, then ingest chunk/done/error frames
// until the server closes out or sends "done".
func (e *RemoteExecutor) ExecuteChatStreamWS(ctx context.Context, providerName string, messages []models.Message, options agent.ChatOptions, onChunk func(models.Message)) (models.Message, error) {
	wsURL := toWebSocketURL(e.config.ServerURL) + "/ws/chat"

	dialer := websocket.Dialer{HandshakeTimeout: e.config.Timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return models.Message{}, agent.NewNetworkError("dial ws/chat", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsFrame{Type: "auth", Token: e.config.UserAPIKey}); err != nil {
		return models.Message{}, agent.NewNetworkError("send auth frame", err)
	}

	apiMessages := make([]models.APIMessage, len(messages))
	for i, m := range messages {
		apiMessages[i] = m.ToAPIMessage()
	}
	reqBody := remoteChatRequest{
		Messages: apiMessages,
		Provider: providerName,
		Model:    options.Model,
		Options:  remoteChatOptions{Temperature: options.Temperature, MaxTokens: options.MaxTokens},
		Tools:    options.Tools,
		Stream:   true,
	}
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return models.Message{}, agent.NewValidationError("body", "failed to encode chat_stream frame", err)
	}
	if err := conn.WriteJSON(wsFrame{Type: "chat_stream", Data: reqData}); err != nil {
		return models.Message{}, agent.NewNetworkError("send chat_stream frame", err)
	}

	var content strings.Builder
	var toolCalls []models.ToolCall

	for {
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(e.config.Timeout))

		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return models.Message{}, agent.NewNetworkError("read ws frame", err)
		}

		switch frame.Type {
		case "chunk":
			var chunk wsChunkData
			if err := json.Unmarshal(frame.Data, &chunk); err != nil {
				continue
			}
			if chunk.Content != nil {
				content.WriteString(*chunk.Content)
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			if onChunk != nil {
				onChunk(models.NewAssistantMessage(chunk.Content, chunk.ToolCalls, nil))
			}
		case "done":
			var finalContent *string
			if content.Len() > 0 {
				s := content.String()
				finalContent = &s
			}
			return models.NewAssistantMessage(finalContent, toolCalls, nil), nil
		case "error":
			var errData wsErrorData
			_ = json.Unmarshal(frame.Data, &errData)
			return models.Message{}, fmt.Errorf("backend: remote ws error: %s", errData.Message)
		}
	}
}

func toWebSocketURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}
