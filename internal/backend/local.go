// Package backend provides the two interchangeable executor back-ends the
// orchestrator dispatches provider calls through: a LocalExecutor that
// calls a registered Provider directly, and a RemoteExecutor that proxies
// the call to a server over HTTP, SSE, or WebSocket.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// LocalExecutorConfig configures a LocalExecutor.
type LocalExecutorConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	EnableLogging  bool
}

// DefaultLocalExecutorConfig returns the spec's defaults: 30s timeout,
// 3 retries, 1s linear retry delay.
func DefaultLocalExecutorConfig() LocalExecutorConfig {
	return LocalExecutorConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// LocalExecutor dispatches chat calls directly to a provider looked up by
// name in the given registry, with timeout racing and linear-backoff
// retry. LocalExecutor owns the only retry budget in the local call path:
// Provider.Chat implementations make exactly one real API attempt each
// time they're called, so one LocalExecutor attempt is one API attempt.
type LocalExecutor struct {
	providers *agent.ProviderRegistry
	config    LocalExecutorConfig
	logger    *slog.Logger

	// Metrics is optional; a nil Metrics makes retry recording a no-op.
	Metrics *observability.Metrics
}

// NewLocalExecutor creates a LocalExecutor over providers. A zero-valued
// config is replaced with DefaultLocalExecutorConfig. A nil logger
// defaults to slog.Default().
func NewLocalExecutor(providers *agent.ProviderRegistry, config LocalExecutorConfig, logger *slog.Logger) *LocalExecutor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultLocalExecutorConfig().Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultLocalExecutorConfig().MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultLocalExecutorConfig().RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExecutor{providers: providers, config: config, logger: logger}
}

// ExecuteChat looks up providerName and calls its Chat method, racing a
// per-attempt timeout and retrying transient failures (network, timeout,
// rate-limit) with linear backoff. Non-transient failures (validation,
// auth other than the few transient provider errors) are not retried.
func (e *LocalExecutor) ExecuteChat(ctx context.Context, providerName string, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	provider, ok := e.providers.GetProvider(providerName)
	if !ok {
		return models.Message{}, agent.NewConfigurationError("local_executor", fmt.Sprintf("unknown provider %q", providerName), nil)
	}

	var lastErr error
	var response models.Message

	for attempt := 1; attempt <= e.config.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}

		if e.config.EnableLogging {
			e.logger.Debug("local executor dispatching chat", "provider", providerName, "attempt", attempt)
		}

		response, lastErr = e.callWithTimeout(ctx, provider, messages, options)
		if lastErr == nil {
			if response.Role != models.RoleAssistant {
				return models.Message{}, fmt.Errorf("backend: provider %q returned non-assistant role %q", providerName, response.Role)
			}
			return response, nil
		}

		if !isRetryableTransient(lastErr) {
			return models.Message{}, lastErr
		}
		if attempt > e.config.MaxRetries {
			break
		}

		e.Metrics.RecordRetry("local", classifyRetryReason(lastErr))

		select {
		case <-time.After(e.config.RetryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}

	return models.Message{}, lastErr
}

// callWithTimeout races provider.Chat against e.config.Timeout, never
// leaking the goroutine on expiry: the call keeps running and its result
// is dropped by the orphaned, buffered channel.
func (e *LocalExecutor) callWithTimeout(ctx context.Context, provider agent.Provider, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	type out struct {
		msg models.Message
		err error
	}
	ch := make(chan out, 1)

	go func() {
		msg, err := provider.Chat(callCtx, messages, options)
		select {
		case ch <- out{msg: msg, err: err}:
		default:
		}
	}()

	select {
	case o := <-ch:
		return o.msg, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}
		return models.Message{}, agent.NewNetworkError("provider chat", fmt.Errorf("timed out after %s", e.config.Timeout))
	}
}

func isRetryableTransient(err error) bool {
	return agent.IsRetryable(err)
}

// classifyRetryReason buckets an error into a coarse reason label for the
// retry counter, matching the taxonomy.go error type that made
// isRetryableTransient return true for it.
func classifyRetryReason(err error) string {
	var netErr *agent.NetworkError
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &netErr):
		return "network"
	case providers.IsProviderError(err):
		pErr, _ := providers.GetProviderError(err)
		return string(pErr.Reason)
	default:
		return "transient"
	}
}

// SupportsTools always returns true: a local provider decides for itself
// whether it honors the Tools field of ChatOptions.
func (e *LocalExecutor) SupportsTools() bool { return true }

// ValidateConfig checks that at least one provider is registered.
func (e *LocalExecutor) ValidateConfig() error {
	if e.providers.GetProviderCount() == 0 {
		return agent.NewConfigurationError("local_executor", "no providers registered", nil)
	}
	return nil
}

// Dispose disposes the underlying provider registry.
func (e *LocalExecutor) Dispose() error {
	e.providers.Dispose()
	return nil
}
