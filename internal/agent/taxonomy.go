package agent

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/agentcore/internal/agent/providers"
)

// ErrNoProvider is returned when the orchestrator has no provider configured
// for the requested name.
var ErrNoProvider = errors.New("agent: no provider configured")

// ErrDuplicateToolResult is returned when a tool-result message is appended
// with a toolCallId already present in the session.
var ErrDuplicateToolResult = errors.New("agent: duplicate tool result for tool call id")

// ErrToolNotFound is returned when a tool name has no registered entry.
var ErrToolNotFound = errors.New("agent: tool not found")

// ErrMissingToolCallMatch is raised when an assistant's tool call has no
// corresponding tool-result after an execution round. This indicates a bug
// in the orchestrator's round bookkeeping, not a user-facing condition.
var ErrMissingToolCallMatch = errors.New("agent: tool call has no matching result")

// ValidationError reports invalid caller input: a bad name, a malformed
// JSON argument payload, or a parameter that fails a tool's schema. It is
// never retried.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError builds a ValidationError for the given field and cause.
func NewValidationError(field, message string, cause error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Cause: cause}
}

// ConfigurationError reports a registry or caller misconfiguration: an
// unknown provider name at selection time, a missing model, or missing
// credentials. It is never retried.
type ConfigurationError struct {
	Component string
	Message   string
	Cause     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError builds a ConfigurationError for the given component.
func NewConfigurationError(component, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message, Cause: cause}
}

// ToolExecutionError wraps a tool invocation failure, including a timeout.
// It is captured into a tool execution batch's error list; the orchestrator
// turns it into an "Error: ..." tool-result message rather than aborting
// the round.
type ToolExecutionError struct {
	ToolName    string
	ExecutionID string
	TimedOut    bool
	Cause       error
}

func (e *ToolExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("tool %q timed out: %v", e.ToolName, e.Cause)
	}
	return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// NewToolExecutionError builds a ToolExecutionError for a failed invocation.
func NewToolExecutionError(toolName, executionID string, cause error) *ToolExecutionError {
	return &ToolExecutionError{ToolName: toolName, ExecutionID: executionID, Cause: cause}
}

// NetworkError reports a transport-level failure (connection refused, DNS,
// connection reset). It is retryable.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// NewNetworkError builds a NetworkError for the given operation.
func NewNetworkError(op string, cause error) *NetworkError {
	return &NetworkError{Op: op, Cause: cause}
}

// UnknownError wraps a cause that does not match any other taxonomy member.
// IsRetryable reports it as not retryable.
type UnknownError struct {
	Cause error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown error: %v", e.Cause)
}

func (e *UnknownError) Unwrap() error { return e.Cause }

// NewUnknownError wraps cause as an UnknownError.
func NewUnknownError(cause error) *UnknownError {
	return &UnknownError{Cause: cause}
}

// IsRetryable reports whether err belongs to a taxonomy member that the
// caller should retry. NetworkError always is; ValidationError and
// ConfigurationError never are; a providers.ProviderError is retryable as
// providers.IsRetryable reports; anything else, including
// ToolExecutionError and UnknownError, is not.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	if providers.IsProviderError(err) {
		return providers.IsRetryable(err)
	}
	return false
}
