package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ToolSchema describes a tool's name, purpose, and JSON-Schema parameter
// shape as presented to a provider's tool-calling API.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatOptions carries the per-call knobs a provider's chat operation
// accepts: the model to use, optional sampling parameters, and the tool
// schemas the model is allowed to call this round.
type ChatOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	Tools       []ToolSchema
}

// Provider is the synchronous chat contract every AI backend implements.
// A single call to Chat corresponds to exactly one round of the
// orchestrator's loop: it is given the full message history and returns
// one assistant message, which may carry tool calls instead of (or with
// nil) textual content.
type Provider interface {
	// Name identifies the provider in the provider registry.
	Name() string

	// Models lists the model identifiers this provider accepts, for
	// informational/validation purposes. May be empty if the provider does
	// not enumerate a fixed list.
	Models() []string

	// Chat sends the given message history to the provider and returns the
	// resulting assistant message. It must return a models.Message with
	// Role == models.RoleAssistant.
	Chat(ctx context.Context, messages []models.Message, options ChatOptions) (models.Message, error)
}

// StreamingProvider is implemented by providers that can additionally
// stream partial assistant content. It is optional: the orchestrator's
// canonical path never requires it.
type StreamingProvider interface {
	Provider

	// ChatStream streams incremental assistant message chunks. The final
	// chunk received carries the complete ToolCalls, if any.
	ChatStream(ctx context.Context, messages []models.Message, options ChatOptions) (<-chan models.Message, error)
}

// Closer is optionally implemented by providers holding resources (HTTP
// clients with connection pools, open sockets) that should be released
// when the provider is removed from a registry.
type Closer interface {
	Close() error
}
