package omniforge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memTaskStore is an in-memory TaskStore for tests.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*Task)}
}

var _ TaskStore = (*memTaskStore)(nil)

func (s *memTaskStore) SaveTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t.clone()
	return nil
}

func (s *memTaskStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{Kind: "task", ID: id}
	}
	return t.clone(), nil
}

func (s *memTaskStore) UpdateTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return &NotFoundError{Kind: "task", ID: t.ID}
	}
	s.tasks[t.ID] = t.clone()
	return nil
}

func (s *memTaskStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return &NotFoundError{Kind: "task", ID: id}
	}
	delete(s.tasks, id)
	return nil
}

func (s *memTaskStore) ListTasksByAgent(_ context.Context, agentID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.AgentID == agentID {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

func (s *memTaskStore) ListTasksByTenant(_ context.Context, tenantID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.TenantID == tenantID {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

func (s *memTaskStore) ListTasksBySkill(_ context.Context, tenantID, skillName string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.SkillName == skillName {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

// memConvStore is an in-memory ConversationStore for tests. Lookups are
// tenant-scoped like the real backends.
type memConvStore struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	messages map[string][]ConvMessage
}

func newMemConvStore() *memConvStore {
	return &memConvStore{
		convs:    make(map[string]*Conversation),
		messages: make(map[string][]ConvMessage),
	}
}

var _ ConversationStore = (*memConvStore)(nil)

func cloneConv(c *Conversation) *Conversation {
	out := *c
	if c.StateMetadata != nil {
		out.StateMetadata = make(map[string]any, len(c.StateMetadata))
		for k, v := range c.StateMetadata {
			out.StateMetadata[k] = v
		}
	}
	return &out
}

func (s *memConvStore) CreateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.ID]; ok {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	s.convs[c.ID] = cloneConv(c)
	return nil
}

func (s *memConvStore) GetConversation(_ context.Context, id, tenantID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return nil, &NotFoundError{Kind: "conversation", ID: id}
	}
	return cloneConv(c), nil
}

func (s *memConvStore) ListConversations(_ context.Context, tenantID string, opts ListConversationsOptions) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conversation
	for _, c := range s.convs {
		if c.TenantID != tenantID {
			continue
		}
		if opts.UserID != "" && c.UserID != opts.UserID {
			continue
		}
		out = append(out, cloneConv(c))
	}
	return out, nil
}

func (s *memConvStore) UpdateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.ID]; !ok {
		return &NotFoundError{Kind: "conversation", ID: c.ID}
	}
	s.convs[c.ID] = cloneConv(c)
	return nil
}

func (s *memConvStore) AddMessage(_ context.Context, msg ConvMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[msg.ConversationID]; !ok {
		return &NotFoundError{Kind: "conversation", ID: msg.ConversationID}
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *memConvStore) GetMessages(_ context.Context, conversationID string, limit int) ([]ConvMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]ConvMessage(nil), msgs...), nil
}

func (s *memConvStore) GetRecentMessages(_ context.Context, conversationID string, n int) ([]ConvMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]ConvMessage(nil), msgs...), nil
}

// staticTool is a configurable fake tool.
type staticTool struct {
	def  ToolDefinition
	exec func(ctx context.Context, call ToolCallContext, args map[string]any) (ToolResult, error)
}

var _ Tool = (*staticTool)(nil)

func (t *staticTool) Definition() ToolDefinition { return t.def }

func (t *staticTool) Execute(ctx context.Context, call ToolCallContext, args map[string]any) (ToolResult, error) {
	if t.exec == nil {
		return ToolResult{Success: true, Result: "ok"}, nil
	}
	return t.exec(ctx, call, args)
}

// echoTool returns a tool that succeeds with the given result text.
func echoTool(name, result string) *staticTool {
	return &staticTool{
		def: ToolDefinition{
			Name: name,
			Type: "builtin",
			Parameters: []ToolParameter{
				{Name: "file_path", Type: "string"},
				{Name: "input", Type: "string"},
			},
			Visibility: VisibilityFull,
		},
		exec: func(context.Context, ToolCallContext, map[string]any) (ToolResult, error) {
			return ToolResult{Success: true, Result: result}, nil
		},
	}
}

// scriptedProvider returns canned responses in order, then repeats the last.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

var _ Provider = (*scriptedProvider)(nil)

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	if i < 0 {
		return ChatResponse{}, fmt.Errorf("no scripted responses")
	}
	return ChatResponse{
		Content: p.responses[i],
		Usage:   Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

// scriptAgent emits a fixed event sequence for every task.
type scriptAgent struct {
	card   AgentCard
	events func(task *Task) []Event
	delay  time.Duration
}

var _ Agent = (*scriptAgent)(nil)

func (a *scriptAgent) Card() AgentCard { return a.card }

func (a *scriptAgent) ProcessTask(ctx context.Context, task *Task) (<-chan Event, error) {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if a.delay > 0 {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range a.events(task) {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// completingAgent replies with one message and completes.
func completingAgent(id, reply string) *scriptAgent {
	return &scriptAgent{
		card: AgentCard{ID: id, Name: id},
		events: func(*Task) []Event {
			return []Event{
				StatusEvent{State: TaskWorking},
				TextMessage(reply, VisibilitySummary),
				DoneEvent{FinalState: TaskCompleted},
			}
		},
	}
}

// failingAgent errors out with the given code.
func failingAgent(id, code string) *scriptAgent {
	return &scriptAgent{
		card: AgentCard{ID: id, Name: id},
		events: func(*Task) []Event {
			return []Event{
				StatusEvent{State: TaskWorking},
				ErrorEvent{Code: code, Message: "it broke"},
				DoneEvent{FinalState: TaskFailed},
			}
		},
	}
}

// drainEvents collects the whole stream.
func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// finalStateOf returns the DoneEvent's state, or "" when no DoneEvent arrived.
func finalStateOf(events []Event) TaskState {
	for _, ev := range events {
		if d, ok := ev.(DoneEvent); ok {
			return d.FinalState
		}
	}
	return ""
}

// messageTexts returns the text of every non-partial MessageEvent.
func messageTexts(events []Event) []string {
	var out []string
	for _, ev := range events {
		if m, ok := ev.(MessageEvent); ok && !m.IsPartial {
			out = append(out, JoinText(m.Parts))
		}
	}
	return out
}

// testSkill builds a minimal skill with the given allow-list.
func testSkill(name string, allowed []string) *Skill {
	return &Skill{
		Metadata: SkillMetadata{
			Name:         name,
			Description:  "test skill",
			AllowedTools: allowed,
		},
		Content: "Test instructions.",
	}
}
