package omniforge

import (
	"context"
	"sort"
	"sync"
)

// AgentCard is the public identity of an agent: who it is and what it can do.
// Cards are what delegation and handoff target; they carry no behaviour.
type AgentCard struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Agent converts a task into an event stream. Implementations must emit
// exactly one DoneEvent, must close the channel after it, and must not
// mutate the task they were given.
type Agent interface {
	// Card returns the agent's identity.
	Card() AgentCard
	// ProcessTask starts processing and returns the event stream. The channel
	// closes when processing ends or ctx is cancelled.
	ProcessTask(ctx context.Context, task *Task) (<-chan Event, error)
}

// AgentRegistry holds the agents known to this process, keyed by card id.
// Safe for concurrent use.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]Agent)}
}

// Register adds an agent. Re-registering an id replaces the previous agent.
func (r *AgentRegistry) Register(a Agent) {
	r.mu.Lock()
	r.agents[a.Card().ID] = a
	r.mu.Unlock()
}

// Get returns the agent by id, or a NotFoundError.
func (r *AgentRegistry) Get(id string) (Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "agent", ID: id}
	}
	return a, nil
}

// Cards returns all registered cards sorted by id.
func (r *AgentRegistry) Cards() []AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]AgentCard, 0, len(r.agents))
	for _, a := range r.agents {
		cards = append(cards, a.Card())
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards
}

// CardsByTenant returns the cards owned by the tenant, sorted by id. Cards
// with an empty tenant are shared and included for every tenant.
func (r *AgentRegistry) CardsByTenant(tenantID string) []AgentCard {
	all := r.Cards()
	out := make([]AgentCard, 0, len(all))
	for _, c := range all {
		if c.TenantID == "" || c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}
