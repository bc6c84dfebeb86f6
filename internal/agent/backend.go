package agent

import (
	"context"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Backend is the executor back-end contract the orchestrator calls into
// for each round: given a provider name, message history, and chat
// options, produce the assistant's response. Two interchangeable
// implementations exist: a local backend that calls a registered Provider
// directly, and a remote backend that proxies the call over HTTP/SSE/WS to
// a server that performs it.
type Backend interface {
	ExecuteChat(ctx context.Context, providerName string, messages []models.Message, options ChatOptions) (models.Message, error)

	// SupportsTools reports whether this backend can forward tool schemas
	// to the provider at all (some remote deployments may not).
	SupportsTools() bool

	// ValidateConfig checks the backend's own configuration (credentials,
	// server URL, provider availability) without making a call.
	ValidateConfig() error

	// Dispose releases any held resources (HTTP clients, sockets).
	Dispose() error
}
