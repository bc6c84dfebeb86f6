package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func newTestRemoteExecutor(t *testing.T, serverURL string) *RemoteExecutor {
	t.Helper()
	return NewRemoteExecutor(RemoteExecutorConfig{
		ServerURL:  serverURL,
		UserAPIKey: "test-key",
		MaxRetries: 2,
		Timeout:    2 * time.Second,
	}, nil)
}

func TestRemoteExecutor_ExecuteChatNormalizedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"role":"assistant","content":"hi from remote"}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	msg, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "hi from remote" {
		t.Errorf("unexpected content: %q", msg.ContentOrEmpty())
	}
}

func TestRemoteExecutor_ExecuteChatProviderNativeShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"native shape"}}]}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	msg, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "native shape" {
		t.Errorf("unexpected content: %q", msg.ContentOrEmpty())
	}
}

func TestRemoteExecutor_ServerErrorFieldIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"provider rejected request"}}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	_, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error for a response carrying an error field")
	}
}

func TestRemoteExecutor_5xxIsRetryableAndEventuallyFails(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"bad gateway"}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	_, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	var netErr *agent.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T", err)
	}
	if calls != e.config.MaxRetries+1 {
		t.Errorf("expected %d attempts (1 + MaxRetries), got %d", e.config.MaxRetries+1, calls)
	}
}

func TestRemoteExecutor_4xxIsNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"bad request"}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	_, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	var valErr *agent.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable 4xx, got %d", calls)
	}
}

func TestRemoteExecutor_5xxRecoversOnRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"message":"unavailable"}`)
			return
		}
		fmt.Fprint(w, `{"role":"assistant","content":"recovered"}`)
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	msg, err := e.ExecuteChat(context.Background(), "openai", nil, agent.ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "recovered" {
		t.Errorf("unexpected content: %q", msg.ContentOrEmpty())
	}
}

func TestRemoteExecutor_ValidateConfig(t *testing.T) {
	if err := (&RemoteExecutor{}).ValidateConfig(); err == nil {
		t.Error("expected error for empty config")
	}
	e := NewRemoteExecutor(RemoteExecutorConfig{ServerURL: "http://localhost", UserAPIKey: "key"}, nil)
	if err := e.ValidateConfig(); err != nil {
		t.Errorf("expected valid config to pass: %v", err)
	}
}

func TestRemoteExecutor_ExecuteChatStreamAccumulatesChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello, \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	var chunks []models.Message
	msg, err := e.ExecuteChatStream(context.Background(), "openai", nil, agent.ChatOptions{}, func(m models.Message) {
		chunks = append(chunks, m)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentOrEmpty() != "Hello, world" {
		t.Errorf("expected accumulated content, got %q", msg.ContentOrEmpty())
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 onChunk callbacks, got %d", len(chunks))
	}
}

func TestRemoteExecutor_ExecuteChatStreamSurfacesErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"stream failed\"}}\n\n")
	}))
	defer server.Close()

	e := newTestRemoteExecutor(t, server.URL)
	_, err := e.ExecuteChatStream(context.Background(), "openai", nil, agent.ChatOptions{}, nil)
	if err == nil {
		t.Fatal("expected an error from the error event")
	}
}
