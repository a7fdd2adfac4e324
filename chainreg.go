package omniforge

import "sync"

// ChainRegistry tracks live reasoning chains so delegation can link a child
// chain to its parent and callers can inspect a task's chain while it runs.
// Chains are identifier-linked only; the registry never copies steps.
type ChainRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*ReasoningChain
	byTask  map[string]*ReasoningChain
}

// NewChainRegistry creates an empty registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{
		byID:   make(map[string]*ReasoningChain),
		byTask: make(map[string]*ReasoningChain),
	}
}

// Register adds a chain. A second chain for the same task replaces the
// task-index entry (resumed tasks get fresh chains).
func (r *ChainRegistry) Register(c *ReasoningChain) {
	r.mu.Lock()
	r.byID[c.ID] = c
	r.byTask[c.TaskID] = c
	r.mu.Unlock()
}

// ByID returns the chain with the given id, or a NotFoundError.
func (r *ChainRegistry) ByID(id string) (*ReasoningChain, error) {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "chain", ID: id}
	}
	return c, nil
}

// ByTask returns the most recent chain for the task, or a NotFoundError.
func (r *ChainRegistry) ByTask(taskID string) (*ReasoningChain, error) {
	r.mu.RLock()
	c, ok := r.byTask[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "chain", ID: taskID}
	}
	return c, nil
}
