package agent

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ExecutionContext carries the identifying and caller-supplied metadata a
// plugin hook or onError handler receives for one orchestrator run.
type ExecutionContext struct {
	ConversationID string
	SessionID      string
	UserID         string
	ExecutionID    string
	StartTime      int64
	MessageCount   int
	Metadata       map[string]any
}

// Plugins is a fixed dispatch table of optional lifecycle hooks. Plugins
// are pure data-plane observers: none of these hooks can veto or alter
// orchestrator control flow, and any panic or error a hook raises is
// logged and swallowed rather than propagated.
type Plugins struct {
	BeforeRun          func(ctx context.Context, input string, meta map[string]any)
	AfterRun           func(ctx context.Context, input, response string, meta map[string]any)
	BeforeToolCall     func(ctx context.Context, toolName string, params map[string]any)
	AfterToolCall      func(ctx context.Context, toolName string, result any, err error)
	BeforeProviderCall func(ctx context.Context, messages []models.Message)
	AfterProviderCall  func(ctx context.Context, messages []models.Message, response models.Message)
	OnStreamingChunk   func(ctx context.Context, chunk models.Message)
	OnError            func(ctx context.Context, err error, execCtx ExecutionContext)
	OnMessageAdded     func(ctx context.Context, msg models.Message)
}

// dispatch invokes fn if non-nil, recovering and logging any panic so a
// misbehaving plugin never interrupts the orchestrator's own control flow.
func dispatch(logger *slog.Logger, hookName string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("plugin hook panicked", "hook", hookName, "panic", r)
		}
	}()
	fn()
}

func (p *Plugins) fireBeforeRun(ctx context.Context, logger *slog.Logger, input string, meta map[string]any) {
	if p == nil || p.BeforeRun == nil {
		return
	}
	dispatch(logger, "beforeRun", func() { p.BeforeRun(ctx, input, meta) })
}

func (p *Plugins) fireAfterRun(ctx context.Context, logger *slog.Logger, input, response string, meta map[string]any) {
	if p == nil || p.AfterRun == nil {
		return
	}
	dispatch(logger, "afterRun", func() { p.AfterRun(ctx, input, response, meta) })
}

func (p *Plugins) fireBeforeToolCall(ctx context.Context, logger *slog.Logger, toolName string, params map[string]any) {
	if p == nil || p.BeforeToolCall == nil {
		return
	}
	dispatch(logger, "beforeToolCall", func() { p.BeforeToolCall(ctx, toolName, params) })
}

func (p *Plugins) fireAfterToolCall(ctx context.Context, logger *slog.Logger, toolName string, result any, err error) {
	if p == nil || p.AfterToolCall == nil {
		return
	}
	dispatch(logger, "afterToolCall", func() { p.AfterToolCall(ctx, toolName, result, err) })
}

func (p *Plugins) fireBeforeProviderCall(ctx context.Context, logger *slog.Logger, messages []models.Message) {
	if p == nil || p.BeforeProviderCall == nil {
		return
	}
	dispatch(logger, "beforeProviderCall", func() { p.BeforeProviderCall(ctx, messages) })
}

func (p *Plugins) fireAfterProviderCall(ctx context.Context, logger *slog.Logger, messages []models.Message, response models.Message) {
	if p == nil || p.AfterProviderCall == nil {
		return
	}
	dispatch(logger, "afterProviderCall", func() { p.AfterProviderCall(ctx, messages, response) })
}

func (p *Plugins) fireOnError(ctx context.Context, logger *slog.Logger, err error, execCtx ExecutionContext) {
	if p == nil || p.OnError == nil {
		return
	}
	dispatch(logger, "onError", func() { p.OnError(ctx, err, execCtx) })
}

func (p *Plugins) fireOnMessageAdded(ctx context.Context, logger *slog.Logger, msg models.Message) {
	if p == nil || p.OnMessageAdded == nil {
		return
	}
	dispatch(logger, "onMessageAdded", func() { p.OnMessageAdded(ctx, msg) })
}
