package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// MaxRounds bounds the orchestrator's provider-call / tool-execution loop.
// It is intentionally generous: most conversations finish in one or two
// rounds, and the cap exists to stop a pathological model from looping
// forever rather than to constrain ordinary multi-step delegation.
const MaxRounds = 10

// ModelConfig selects the provider and model an orchestrator run uses,
// plus optional sampling parameters and a system prompt to ensure is
// present in the session.
type ModelConfig struct {
	Provider      string
	Model         string
	Temperature   *float64
	MaxTokens     *int
	SystemMessage string
}

// AgentConfig is the configuration an orchestrator run is invoked with.
type AgentConfig struct {
	DefaultModel ModelConfig
	Plugins      *Plugins
}

// ExecutionResult is what one orchestrator run returns to its caller.
type ExecutionResult struct {
	Response      string
	Messages      []models.Message
	ExecutionID   string
	Duration      time.Duration
	TokensUsed    *int
	ToolsExecuted []string
	Success       bool
	Error         error
}

// Orchestrator drives the multi-round tool-calling state machine: it
// resolves a conversation session, calls the configured provider (via a
// Backend), and executes any requested tools until the model stops
// requesting them or the round cap is reached.
type Orchestrator struct {
	History   *ConversationHistory
	Providers *ProviderRegistry
	Tools     *ToolRegistry
	ToolExec  *ToolExecutionService
	Backend   Backend
	Logger    *slog.Logger

	// Metrics is optional; a nil Metrics makes every recording call a no-op.
	Metrics *observability.Metrics

	// Recorder is optional; when set, each run's start and end and each tool
	// execution's start and end are appended to its event timeline for
	// replay/debugging.
	Recorder *observability.EventRecorder

	// Tracer is optional; a nil Tracer makes span creation a no-op. When set,
	// it emits a distributed trace span around the whole run and a nested
	// span per provider call.
	Tracer *observability.Tracer
}

// NewOrchestrator wires the given components into an Orchestrator. A nil
// Logger defaults to slog.Default(). Metrics and Recorder are left unset;
// assign them after construction to opt into metrics and event recording.
func NewOrchestrator(history *ConversationHistory, providers *ProviderRegistry, tools *ToolRegistry, backend Backend, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		History:   history,
		Providers: providers,
		Tools:     tools,
		ToolExec:  NewToolExecutionService(tools),
		Backend:   backend,
		Logger:    logger,
	}
}

// Run executes one orchestrator call: hydrate the session, append input,
// loop provider calls and tool executions, and return the final
// assistant response.
func (o *Orchestrator) Run(ctx context.Context, input string, priorMessages []models.Message, config AgentConfig, execCtx ExecutionContext) ExecutionResult {
	start := time.Now()
	if execCtx.ExecutionID == "" {
		execCtx.ExecutionID = uuid.NewString()
	}
	if execCtx.ConversationID == "" {
		execCtx.ConversationID = execCtx.ExecutionID
	}
	execCtx.StartTime = start.UnixMilli()

	unlock := o.History.LockSession(execCtx.ConversationID)
	defer unlock()

	o.Metrics.RunStarted()
	defer o.Metrics.RunEnded()

	ctx, span := o.Tracer.TraceRun(ctx, execCtx.ExecutionID, execCtx.ConversationID)
	defer span.End()

	if o.Recorder != nil {
		ctx = observability.AddRunID(ctx, execCtx.ExecutionID)
		ctx = observability.AddSessionID(ctx, execCtx.ConversationID)
		_ = o.Recorder.RecordRunStart(ctx, execCtx.ExecutionID, map[string]interface{}{"conversationId": execCtx.ConversationID})
	}

	result, err := o.run(ctx, input, priorMessages, config, execCtx)
	result.Duration = time.Since(start)
	result.ExecutionID = execCtx.ExecutionID

	if err != nil {
		o.Tracer.RecordError(span, err)
	}

	if o.Recorder != nil {
		_ = o.Recorder.RecordRunEnd(ctx, result.Duration, err)
	}

	if err != nil {
		result.Success = false
		result.Error = err
		execCtx.MessageCount = len(result.Messages)
		component := "orchestrator"
		errType := "unknown"
		var loopErr *LoopError
		if errors.As(err, &loopErr) {
			errType = string(loopErr.Phase)
		}
		o.Metrics.RecordError(component, errType)
		config.Plugins.fireOnError(ctx, o.Logger, err, execCtx)
		return result
	}

	result.Success = true
	return result
}

func (o *Orchestrator) run(ctx context.Context, input string, priorMessages []models.Message, config AgentConfig, execCtx ExecutionContext) (ExecutionResult, error) {
	session := o.History.GetSession(execCtx.ConversationID)
	plugins := config.Plugins

	// Step 2: hydrate from prior messages if the session is new.
	if len(session.GetMessages()) == 0 && len(priorMessages) > 0 {
		o.replay(session, priorMessages)
	}

	// Step 3: ensure the configured system prompt is present exactly once.
	if config.DefaultModel.SystemMessage != "" {
		o.ensureSystemMessage(session, config.DefaultModel.SystemMessage)
	}

	// Step 4: append input, unless the session's last message is already
	// an identical user message (idempotent retry / resumed session).
	o.ensureUserInput(session, input)

	plugins.fireBeforeRun(ctx, o.Logger, input, execCtx.Metadata)

	var toolsExecuted []string
	round := 0
	for ; round < MaxRounds; round++ {
		messages := session.GetMessages()
		plugins.fireBeforeProviderCall(ctx, o.Logger, messages)

		providerName := config.DefaultModel.Provider
		model := config.DefaultModel.Model
		if providerName == "" {
			sel, ok := o.Providers.GetCurrentProvider()
			if !ok {
				return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseInit, Iteration: round, Cause: NewConfigurationError("orchestrator", "no provider configured", ErrNoProvider)}
			}
			providerName = sel.ProviderName
			if model == "" {
				model = sel.Model
			}
		}
		if !o.Providers.IsConfigured() {
			if _, ok := o.Providers.GetProvider(providerName); !ok {
				return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseInit, Iteration: round, Cause: NewConfigurationError("orchestrator", "no provider configured", ErrNoProvider)}
			}
		}

		options := ChatOptions{
			Model:       model,
			Temperature: config.DefaultModel.Temperature,
			MaxTokens:   config.DefaultModel.MaxTokens,
		}
		if tools := o.Tools.GetTools(); len(tools) > 0 {
			options.Tools = tools
		}

		llmCtx, llmSpan := o.Tracer.TraceLLMRequest(ctx, providerName, model, round)
		callStart := time.Now()
		response, err := o.Backend.ExecuteChat(llmCtx, providerName, messages, options)
		callDuration := time.Since(callStart).Seconds()
		if err != nil {
			o.Metrics.RecordProviderRequest(providerName, model, "error", callDuration, 0, 0)
			o.Tracer.RecordError(llmSpan, err)
			llmSpan.End()
			return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseStream, Iteration: round, Cause: err}
		}
		llmSpan.End()
		o.Metrics.RecordProviderRequest(providerName, model, "success", callDuration, 0, 0)
		plugins.fireAfterProviderCall(ctx, o.Logger, messages, response)

		if response.Role != models.RoleAssistant {
			return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseStream, Iteration: round, Message: fmt.Sprintf("provider returned non-assistant role %q", response.Role)}
		}

		session.AddAssistantMessage(response.Content, response.ToolCalls, response.Metadata)
		plugins.fireOnMessageAdded(ctx, o.Logger, response)

		if len(response.ToolCalls) == 0 {
			o.Metrics.RecordRound("final")
			break
		}
		o.Metrics.RecordRound("tool_calls")

		if o.Recorder != nil {
			for _, tc := range response.ToolCalls {
				_ = o.Recorder.RecordToolStart(ctx, tc.Function.Name, tc.Function.Arguments)
			}
		}

		requests := o.ToolExec.CreateExecutionRequests(response.ToolCalls)
		for _, req := range requests {
			plugins.fireBeforeToolCall(ctx, o.Logger, req.ToolName, req.Parameters)
		}

		summary := o.ToolExec.Execute(ctx, ToolExecutionBatch{
			Requests:        requests,
			Mode:            ModeParallel,
			MaxConcurrency:  5,
			ContinueOnError: true,
		})

		byID := make(map[string]ToolExecutionResult, len(summary.Results))
		for _, r := range summary.Results {
			byID[r.ExecutionID] = r
		}
		errByID := make(map[string]ToolExecutionErrorEntry, len(summary.Errors))
		for _, e := range summary.Errors {
			errByID[e.ExecutionID] = e
		}

		for _, tc := range response.ToolCalls {
			toolsExecuted = append(toolsExecuted, tc.Function.Name)

			if res, ok := byID[tc.ID]; ok {
				o.Metrics.RecordToolExecution(tc.Function.Name, "success", res.Duration.Seconds())
				if o.Recorder != nil {
					_ = o.Recorder.RecordToolEnd(ctx, tc.Function.Name, res.Duration, res.Data, nil)
				}
				plugins.fireAfterToolCall(ctx, o.Logger, tc.Function.Name, res.Data, nil)
				msg, appendErr := session.AddToolMessageWithID(formatToolResult(res.Data), tc.ID, tc.Function.Name, nil)
				if appendErr != nil {
					return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseExecuteTools, Iteration: round, Cause: appendErr}
				}
				plugins.fireOnMessageAdded(ctx, o.Logger, msg)
				continue
			}

			if entry, ok := errByID[tc.ID]; ok {
				o.Metrics.RecordToolExecution(tc.Function.Name, "error", entry.Duration.Seconds())
				if o.Recorder != nil {
					_ = o.Recorder.RecordToolEnd(ctx, tc.Function.Name, entry.Duration, nil, entry.Err)
				}
				plugins.fireAfterToolCall(ctx, o.Logger, tc.Function.Name, nil, entry.Err)
				meta := map[string]any{"success": false}
				msg, appendErr := session.AddToolMessageWithID("Error: "+entry.Err.Error(), tc.ID, tc.Function.Name, meta)
				if appendErr != nil {
					return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseExecuteTools, Iteration: round, Cause: appendErr}
				}
				plugins.fireOnMessageAdded(ctx, o.Logger, msg)
				continue
			}

			return ExecutionResult{Messages: session.GetMessages()}, &LoopError{Phase: PhaseExecuteTools, Iteration: round, Cause: fmt.Errorf("%w: tool call %q (%s)", ErrMissingToolCallMatch, tc.ID, tc.Function.Name)}
		}
	}

	if round >= MaxRounds {
		o.Metrics.RecordRound("round_cap")
		o.Logger.Warn("orchestrator round cap reached", "conversationId", execCtx.ConversationID, "maxRounds", MaxRounds)
	}

	finalMessages := session.GetMessages()
	response := lastAssistantContent(finalMessages)
	if response == "" {
		response = "No response generated"
	}

	plugins.fireAfterRun(ctx, o.Logger, input, response, execCtx.Metadata)

	return ExecutionResult{
		Response:      response,
		Messages:      finalMessages,
		TokensUsed:    sumTokensUsed(finalMessages),
		ToolsExecuted: toolsExecuted,
	}, nil
}

// replay appends prior messages into an empty session verbatim, preserving
// system messages and re-linking tool messages by their toolCallId.
func (o *Orchestrator) replay(session *ConversationSession, priorMessages []models.Message) {
	for _, m := range priorMessages {
		switch m.Role {
		case models.RoleSystem:
			session.AddSystemMessage(m.ContentOrEmpty(), m.Metadata)
		case models.RoleUser:
			session.AddUserMessage(m.ContentOrEmpty(), m.Name, m.Metadata)
		case models.RoleAssistant:
			session.AddAssistantMessage(m.Content, m.ToolCalls, m.Metadata)
		case models.RoleTool:
			_, _ = session.AddToolMessageWithID(m.ContentOrEmpty(), m.ToolCallID, m.Name, m.Metadata)
		}
	}
}

func (o *Orchestrator) ensureSystemMessage(session *ConversationSession, prompt string) {
	for _, m := range session.GetMessages() {
		if m.Role == models.RoleSystem && m.ContentOrEmpty() == prompt {
			return
		}
	}
	session.AddSystemMessage(prompt, nil)
}

func (o *Orchestrator) ensureUserInput(session *ConversationSession, input string) {
	messages := session.GetMessages()
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		if last.Role == models.RoleUser && last.ContentOrEmpty() == input {
			return
		}
	}
	session.AddUserMessage(input, "", nil)
}

func lastAssistantContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].ContentOrEmpty()
		}
	}
	return ""
}

func sumTokensUsed(messages []models.Message) *int {
	total := 0
	found := false
	for _, m := range messages {
		usage, ok := m.Metadata["usage"]
		if !ok {
			continue
		}
		usageMap, ok := usage.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := usageMap["totalTokens"]; ok {
			found = true
			switch n := v.(type) {
			case int:
				total += n
			case float64:
				total += int(n)
			}
		}
	}
	if !found {
		return nil
	}
	return &total
}

func formatToolResult(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", data)
}
