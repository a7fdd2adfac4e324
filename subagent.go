package omniforge

import (
	"context"
	"encoding/json"
	"time"
)

// agentChainKey carries the list of visited agent ids through sub-agent
// context so delegation cycles are caught before they recurse.
const agentChainKey = "_agent_chain"

// subAgentTool lets one agent run another as a tool call. The parent's id
// travels in the context's agent chain for cycle detection, and the child's
// reasoning chain is linked back to the parent chain.
type subAgentTool struct {
	parentAgentID string
	agents        *AgentRegistry
	chains        *ChainRegistry
	timeout       time.Duration
}

// NewSubAgentTool creates the "sub_agent" tool for the given parent agent.
// The chain registry may be nil; sub-chain linking is then skipped.
func NewSubAgentTool(parentAgentID string, agents *AgentRegistry, chains *ChainRegistry) Tool {
	return &subAgentTool{
		parentAgentID: parentAgentID,
		agents:        agents,
		chains:        chains,
		timeout:       defaultDelegationTimeout,
	}
}

var _ Tool = (*subAgentTool)(nil)

func (t *subAgentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "sub_agent",
		Type:        "sub_agent",
		Description: "Delegate a task to another agent and wait for its result.",
		Parameters: []ToolParameter{
			{Name: "agent_id", Type: "string", Required: true, Description: "target agent id"},
			{Name: "task_description", Type: "string", Required: true, Description: "what the sub-agent should do"},
			{Name: "context", Type: "object", Description: "carried context, including the visited-agent chain"},
		},
		Visibility: VisibilityFull,
		Timeout:    2 * defaultDelegationTimeout,
	}
}

func (t *subAgentTool) Execute(ctx context.Context, call ToolCallContext, args map[string]any) (ToolResult, error) {
	agentID, _ := args["agent_id"].(string)
	description, _ := args["task_description"].(string)
	carried, _ := args["context"].(map[string]any)

	chain := agentChainFrom(carried)
	for _, visited := range chain {
		if visited == t.parentAgentID {
			return ToolResult{Success: false, Error: "cycle detected: agent " + t.parentAgentID + " already in delegation chain"}, nil
		}
	}
	chain = append(chain, t.parentAgentID)

	agent, err := t.agents.Get(agentID)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	task := NewTask(agentID, TaskRequest{
		TenantID:     call.TenantID,
		UserID:       call.AgentID,
		ParentTaskID: call.TaskID,
		Parts:        []MessagePart{{Text: description}},
	})
	stream, err := agent.ProcessTask(ctx, task)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}

	var messages []string
	var artifacts []Artifact
	finalState := TaskFailed
	var failure string

drain:
	for {
		select {
		case <-ctx.Done():
			return ToolResult{Success: false, Error: "sub-agent deadline exceeded"}, nil
		case ev, ok := <-stream:
			if !ok {
				break drain
			}
			switch e := ev.(type) {
			case MessageEvent:
				if !e.IsPartial {
					messages = append(messages, JoinText(e.Parts))
				}
			case ArtifactEvent:
				artifacts = append(artifacts, e.Artifact)
			case ErrorEvent:
				failure = e.Code + ": " + e.Message
			case DoneEvent:
				finalState = e.FinalState
				break drain
			}
		}
	}

	if carried == nil {
		carried = make(map[string]any)
	}
	carried[agentChainKey] = toAnyList(chain)

	payload := map[string]any{
		"agent_id":    agentID,
		"final_state": string(finalState),
		"messages":    messages,
		"artifacts":   artifacts,
		"context":     carried,
	}
	payload["sub_chain_id"] = t.linkSubChain(call.ChainID, task.ID)

	raw, err := json.Marshal(payload)
	if err != nil {
		return ToolResult{Success: false, Error: "encode sub-agent result: " + err.Error()}, nil
	}

	if finalState != TaskCompleted {
		msg := failure
		if msg == "" {
			msg = "sub-agent finished in state " + string(finalState)
		}
		return ToolResult{Success: false, Result: string(raw), Error: msg}, nil
	}
	return ToolResult{Success: true, Result: string(raw)}, nil
}

// linkSubChain attaches the child's chain id to the parent chain and returns
// it, or "" when either side is unknown.
func (t *subAgentTool) linkSubChain(parentChainID, subTaskID string) string {
	if t.chains == nil {
		return ""
	}
	child, err := t.chains.ByTask(subTaskID)
	if err != nil {
		return ""
	}
	if parent, err := t.chains.ByID(parentChainID); err == nil {
		parent.AddChild(child.ID)
	}
	return child.ID
}

func agentChainFrom(carried map[string]any) []string {
	if carried == nil {
		return nil
	}
	raw, _ := carried[agentChainKey].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
