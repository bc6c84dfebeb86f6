package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type scriptedProvider struct {
	name      string
	responses []models.Message
	errs      []error
	delay     time.Duration
	calls     int
}

func (p *scriptedProvider) Name() string    { return p.name }
func (p *scriptedProvider) Models() []string { return []string{"test-model"} }
func (p *scriptedProvider) Chat(ctx context.Context, messages []models.Message, options agent.ChatOptions) (models.Message, error) {
	i := p.calls
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return models.Message{}, p.errs[i]
	}
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func newRegistryWith(t *testing.T, name string, p agent.Provider) *agent.ProviderRegistry {
	t.Helper()
	r := agent.NewProviderRegistry(nil)
	if err := r.AddProvider(name, p); err != nil {
		t.Fatalf("failed to register provider: %v", err)
	}
	return r
}

func TestLocalExecutor_ExecuteChatSuccess(t *testing.T) {
	p := &scriptedProvider{name: "fake", responses: []models.Message{models.NewAssistantMessage(models.StringPtr("hi"), nil, nil)}}
	registry := newRegistryWith(t, "fake", p)
	e := NewLocalExecutor(registry, LocalExecutorConfig{}, nil)

	msg, err := e.ExecuteChat(context.Background(), "fake", nil, agent.ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "hi" {
		t.Errorf("unexpected content: %q", msg.ContentOrEmpty())
	}
}

func TestLocalExecutor_UnknownProviderIsConfigurationError(t *testing.T) {
	registry := agent.NewProviderRegistry(nil)
	e := NewLocalExecutor(registry, LocalExecutorConfig{}, nil)

	_, err := e.ExecuteChat(context.Background(), "missing", nil, agent.ChatOptions{})
	var cfgErr *agent.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
}

func TestLocalExecutor_RetriesTransientNetworkErrorThenSucceeds(t *testing.T) {
	p := &scriptedProvider{
		name: "fake",
		errs: []error{agent.NewNetworkError("chat", errors.New("connection reset"))},
		responses: []models.Message{
			{},
			models.NewAssistantMessage(models.StringPtr("recovered"), nil, nil),
		},
	}
	registry := newRegistryWith(t, "fake", p)
	e := NewLocalExecutor(registry, LocalExecutorConfig{RetryDelay: time.Millisecond, MaxRetries: 3}, nil)

	msg, err := e.ExecuteChat(context.Background(), "fake", nil, agent.ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "recovered" {
		t.Errorf("expected recovery after retry, got %q", msg.ContentOrEmpty())
	}
	if p.calls != 2 {
		t.Errorf("expected exactly 2 calls (1 retry), got %d", p.calls)
	}
}

func TestLocalExecutor_DoesNotRetryNonTransientError(t *testing.T) {
	p := &scriptedProvider{
		name: "fake",
		errs: []error{agent.NewValidationError("model", "invalid model", nil)},
	}
	registry := newRegistryWith(t, "fake", p)
	e := NewLocalExecutor(registry, LocalExecutorConfig{RetryDelay: time.Millisecond}, nil)

	_, err := e.ExecuteChat(context.Background(), "fake", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if p.calls != 1 {
		t.Errorf("expected no retries for a non-transient error, got %d calls", p.calls)
	}
}

func TestLocalExecutor_TimesOutSlowProvider(t *testing.T) {
	p := &scriptedProvider{
		name:      "fake",
		delay:     100 * time.Millisecond,
		responses: []models.Message{models.NewAssistantMessage(models.StringPtr("too slow"), nil, nil)},
	}
	registry := newRegistryWith(t, "fake", p)
	e := NewLocalExecutor(registry, LocalExecutorConfig{Timeout: 10 * time.Millisecond, MaxRetries: 1}, nil)

	_, err := e.ExecuteChat(context.Background(), "fake", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var netErr *agent.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError on timeout, got %T", err)
	}
}

func TestLocalExecutor_NonAssistantRoleIsError(t *testing.T) {
	p := &scriptedProvider{name: "fake", responses: []models.Message{models.NewUserMessage("oops", "", nil)}}
	registry := newRegistryWith(t, "fake", p)
	e := NewLocalExecutor(registry, LocalExecutorConfig{}, nil)

	_, err := e.ExecuteChat(context.Background(), "fake", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error for a non-assistant response")
	}
}

func TestLocalExecutor_ValidateConfig(t *testing.T) {
	empty := agent.NewProviderRegistry(nil)
	e := NewLocalExecutor(empty, LocalExecutorConfig{}, nil)
	if err := e.ValidateConfig(); err == nil {
		t.Error("expected ValidateConfig to fail with no registered providers")
	}

	registry := newRegistryWith(t, "fake", &scriptedProvider{name: "fake"})
	e2 := NewLocalExecutor(registry, LocalExecutorConfig{}, nil)
	if err := e2.ValidateConfig(); err != nil {
		t.Errorf("expected ValidateConfig to pass with a registered provider: %v", err)
	}
}

func TestLocalExecutor_SupportsToolsIsAlwaysTrue(t *testing.T) {
	e := NewLocalExecutor(agent.NewProviderRegistry(nil), LocalExecutorConfig{}, nil)
	if !e.SupportsTools() {
		t.Error("expected SupportsTools to be true")
	}
}

func TestLocalExecutor_DisposeDisposesRegistry(t *testing.T) {
	registry := newRegistryWith(t, "fake", &scriptedProvider{name: "fake"})
	e := NewLocalExecutor(registry, LocalExecutorConfig{}, nil)

	if err := e.Dispose(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registry.GetProviderCount() != 0 {
		t.Error("expected Dispose to clear the provider registry")
	}
}
