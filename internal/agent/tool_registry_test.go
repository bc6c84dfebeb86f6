package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoTool(ctx context.Context, params map[string]any) (any, error) {
	return params["value"], nil
}

func TestToolRegistry_AddAndGetTool(t *testing.T) {
	r := NewToolRegistry()
	schema := ToolSchema{Name: "echo", Description: "echoes input"}

	if err := r.AddTool(schema, echoTool); err != nil {
		t.Fatalf("AddTool() error = %v", err)
	}
	if !r.HasTool("echo") {
		t.Error("expected echo to be registered")
	}
	if _, ok := r.GetTool("echo"); !ok {
		t.Error("expected GetTool to find echo")
	}
	if _, ok := r.GetToolSchema("echo"); !ok {
		t.Error("expected GetToolSchema to find echo")
	}
}

func TestToolRegistry_AddToolIsFirstWriteWins(t *testing.T) {
	r := NewToolRegistry()
	first := ToolSchema{Name: "echo", Description: "first"}
	second := ToolSchema{Name: "echo", Description: "second"}

	if err := r.AddTool(first, echoTool); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.AddTool(second, echoTool); err != nil {
		t.Fatalf("unexpected error registering duplicate: %v", err)
	}

	got, _ := r.GetToolSchema("echo")
	if got.Description != "first" {
		t.Errorf("expected first registration to win, got description %q", got.Description)
	}
}

func TestToolRegistry_AddToolInvalidSchema(t *testing.T) {
	r := NewToolRegistry()
	schema := ToolSchema{Name: "bad", Parameters: json.RawMessage(`not json`)}

	err := r.AddTool(schema, echoTool)
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestToolRegistry_RemoveTool(t *testing.T) {
	r := NewToolRegistry()
	_ = r.AddTool(ToolSchema{Name: "echo"}, echoTool)
	r.RemoveTool("echo")

	if r.HasTool("echo") {
		t.Error("expected echo to be removed")
	}
}

func TestToolRegistry_ExecuteToolNotFound(t *testing.T) {
	r := NewToolRegistry()
	_, err := r.ExecuteTool(context.Background(), "missing", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestToolRegistry_ExecuteToolSuccess(t *testing.T) {
	r := NewToolRegistry()
	_ = r.AddTool(ToolSchema{Name: "echo"}, echoTool)

	result, err := r.ExecuteTool(context.Background(), "echo", map[string]any{"value": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hi" {
		t.Errorf("expected echoed value %q, got %v", "hi", result)
	}
}

func TestToolRegistry_ExecuteToolValidatesParameters(t *testing.T) {
	r := NewToolRegistry()
	schema := ToolSchema{
		Name:       "strict",
		Parameters: json.RawMessage(`{"type":"object","required":["value"],"properties":{"value":{"type":"string"}}}`),
	}
	if err := r.AddTool(schema, echoTool); err != nil {
		t.Fatalf("unexpected error registering tool: %v", err)
	}

	_, err := r.ExecuteTool(context.Background(), "strict", map[string]any{})
	if err == nil {
		t.Fatal("expected validation error for missing required parameter")
	}
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestToolRegistry_ExecuteToolWrapsExecutorError(t *testing.T) {
	r := NewToolRegistry()
	failing := func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("boom")
	}
	_ = r.AddTool(ToolSchema{Name: "failing"}, failing)

	_, err := r.ExecuteTool(context.Background(), "failing", nil)
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %T", err)
	}
}

func TestToolRegistry_GetTools(t *testing.T) {
	r := NewToolRegistry()
	_ = r.AddTool(ToolSchema{Name: "a"}, echoTool)
	_ = r.AddTool(ToolSchema{Name: "b"}, echoTool)

	tools := r.GetTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
}

func TestToolRegistry_SetAllowedTools(t *testing.T) {
	r := NewToolRegistry()
	_ = r.AddTool(ToolSchema{Name: "a"}, echoTool)
	_ = r.AddTool(ToolSchema{Name: "b"}, echoTool)

	r.SetAllowedTools([]string{"a"})
	tools := r.GetTools()
	if len(tools) != 1 || tools[0].Name != "a" {
		t.Fatalf("expected only tool a after restricting, got %+v", tools)
	}

	if _, err := r.ExecuteTool(context.Background(), "b", nil); !errors.Is(err, ErrToolNotFound) {
		t.Error("expected disallowed tool to report ErrToolNotFound")
	}

	// HasTool ignores the allowlist.
	if !r.HasTool("b") {
		t.Error("expected HasTool to ignore the allowlist")
	}

	r.SetAllowedTools(nil)
	if len(r.GetTools()) != 2 {
		t.Error("expected clearing the allowlist to restore all tools")
	}
}
