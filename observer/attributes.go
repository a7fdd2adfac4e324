package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for agent observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrTaskID    = attribute.Key("task.id")
	AttrTaskState = attribute.Key("task.state")
	AttrTenantID  = attribute.Key("tenant.id")

	AttrAgentID     = attribute.Key("agent.id")
	AttrAgentStatus = attribute.Key("agent.status")
	AttrSkillName   = attribute.Key("skill.name")
)
