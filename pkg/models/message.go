package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is an assistant's request to invoke a named tool with JSON-encoded
// arguments. Its ID ties the request to exactly one later tool-role Message.
type ToolCall struct {
	ID       string       `json:"id"`
	Kind     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and JSON-encoded arguments of a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCall builds a ToolCall of kind "function", the only kind this
// system produces or consumes.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:   id,
		Kind: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// Message is the tagged union at the center of the conversation history: a
// user, assistant, system, or tool message, discriminated by Role.
//
// Content is a pointer because an assistant message's content is meaningfully
// nullable: nil Content with a non-empty ToolCalls means the assistant
// emitted only tool calls. Collapsing that nil to "" loses a distinction
// providers rely on, and reintroducing "" in its place can make a provider
// treat a satisfied tool call as still pending. Every other role always
// carries non-nil Content.
type Message struct {
	Role Role `json:"role"`

	// Content is nil only on an assistant message that carries ToolCalls.
	Content *string `json:"content"`

	// Name is the optional display name on a user message, or the tool name
	// on a tool message.
	Name string `json:"name,omitempty"`

	// ToolCalls is set on an assistant message when the model requested
	// tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message back to the ToolCall it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StringPtr is a small helper for constructing a non-nil Content pointer.
func StringPtr(s string) *string {
	return &s
}

// NewUserMessage builds a user Message with the given content and optional name.
func NewUserMessage(content string, name string, metadata map[string]any) Message {
	return Message{
		Role:      RoleUser,
		Content:   StringPtr(content),
		Name:      name,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage builds a system Message with the given content.
func NewSystemMessage(content string, metadata map[string]any) Message {
	return Message{
		Role:      RoleSystem,
		Content:   StringPtr(content),
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage builds an assistant Message. content is nil when the
// assistant emitted only tool calls; callers must pass it through verbatim,
// never substituting "" for nil.
func NewAssistantMessage(content *string, toolCalls []ToolCall, metadata map[string]any) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}

// NewToolMessage builds a tool Message carrying a tool's output, linked to
// the ToolCall it answers by toolCallID.
func NewToolMessage(content string, toolCallID string, toolName string, metadata map[string]any) Message {
	return Message{
		Role:       RoleTool,
		Content:    StringPtr(content),
		Name:       toolName,
		ToolCallID: toolCallID,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}
}

// ContentOrEmpty returns Content dereferenced, or "" if Content is nil. Use
// sparingly: it is a lossy view and must never be used to reconstruct a
// stored Message.
func (m Message) ContentOrEmpty() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// APIMessage is the flattened form returned by a history's GetMessagesForAPI:
// it preserves Content as string-or-null and carries tool_calls /
// tool_call_id the way provider adapters expect to find them. Provider
// adapters translate this shape into their own wire format; the history and
// orchestrator never leak role-specific fields beyond this shape.
type APIMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToAPIMessage flattens a Message into its API-ready form.
func (m Message) ToAPIMessage() APIMessage {
	return APIMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}
