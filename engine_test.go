package omniforge

import (
	"context"
	"strings"
	"testing"
)

func engineFixture(provider Provider, tools ...Tool) (*ReasoningEngine, *ReasoningChain) {
	reg := NewToolRegistry()
	if provider != nil {
		reg.Register(NewLLMTool(provider, "test-model"))
	}
	for _, tl := range tools {
		reg.Register(tl)
	}
	chain := NewChain("task-1", "agent-1", "tenant-a")
	ex := NewToolExecutor(reg)
	return NewReasoningEngine(chain, ex), chain
}

func TestEngineCallLLM(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"model says hi"}}
	e, chain := engineFixture(provider)

	res, err := e.CallLLM(context.Background(), LLMCall{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Value != "model says hi" {
		t.Fatalf("result = %+v", res)
	}
	if res.TokensUsed != 15 {
		t.Errorf("tokens = %d, want 15", res.TokensUsed)
	}
	if res.StepID == "" {
		t.Error("no step id linked to the result")
	}

	steps := chain.Steps()
	if len(steps) != 2 || steps[0].ToolCall.ToolName != LLMToolName {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestEngineCallLLMExactlyOneInput(t *testing.T) {
	e, _ := engineFixture(&scriptedProvider{responses: []string{"x"}})
	ctx := context.Background()

	if _, err := e.CallLLM(ctx, LLMCall{}); err == nil {
		t.Error("neither prompt nor messages should fail")
	}
	if _, err := e.CallLLM(ctx, LLMCall{Prompt: "p", Messages: []ChatMessage{UserMessage("m")}}); err == nil {
		t.Error("both prompt and messages should fail")
	}
	if _, err := e.CallLLM(ctx, LLMCall{Messages: []ChatMessage{UserMessage("m")}}); err != nil {
		t.Errorf("messages alone: %v", err)
	}
}

func TestEngineThinkingConfidence(t *testing.T) {
	e, chain := engineFixture(nil)

	bad := 1.5
	if _, err := e.AddThinking("overconfident", &bad); err == nil {
		t.Error("confidence outside [0,1] should fail")
	}
	good := 0.8
	step, err := e.AddThinking("plausible", &good)
	if err != nil {
		t.Fatal(err)
	}
	if step.Thinking == nil || *step.Thinking.Confidence != 0.8 {
		t.Errorf("step = %+v", step)
	}
	if chain.Metrics().LLMCalls != 1 {
		t.Errorf("LLMCalls = %d", chain.Metrics().LLMCalls)
	}
}

func TestEngineAvailableToolsFiltered(t *testing.T) {
	e, _ := engineFixture(nil, echoTool("read", "x"), echoTool("write", "x"), echoTool("shell_exec", "x"))

	if got := len(e.AvailableTools()); got != 3 {
		t.Fatalf("unrestricted tools = %d, want 3", got)
	}

	if _, err := e.Executor().ActivateSkill(testSkill("reader", []string{"read"})); err != nil {
		t.Fatal(err)
	}
	defs := e.AvailableTools()
	if len(defs) != 1 || defs[0].Name != "read" {
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		t.Errorf("restricted tools = %v, want [read]", names)
	}
}

func TestEngineToolFailureIsResult(t *testing.T) {
	failing := &staticTool{
		def: ToolDefinition{Name: "broken"},
		exec: func(context.Context, ToolCallContext, map[string]any) (ToolResult, error) {
			return ToolResult{Success: false, Error: "disk full"}, nil
		},
	}
	e, _ := engineFixture(nil, failing)

	res, err := e.CallTool(context.Background(), "broken", nil)
	if err != nil {
		t.Fatalf("runtime failures are results, not errors: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "disk full") {
		t.Errorf("result = %+v", res)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Errorf("ids = %q, %q", a, b)
	}
}
