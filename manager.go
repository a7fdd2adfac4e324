package omniforge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TaskManager creates tasks, enforces transition legality, and drives agent
// event streams to completion with per-event persistence: every event is
// applied and written back before it is forwarded, so a consumer that
// observes event N can always load the state events 0..N imply.
type TaskManager struct {
	tasks  TaskStore
	agents *AgentRegistry
	logger *slog.Logger
	tracer Tracer
}

// ManagerOption configures a TaskManager.
type ManagerOption func(*TaskManager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *TaskManager) { m.logger = l }
}

// WithManagerTracer sets the tracer.
func WithManagerTracer(t Tracer) ManagerOption {
	return func(m *TaskManager) { m.tracer = t }
}

// NewTaskManager creates a manager over the task store and agent registry.
func NewTaskManager(tasks TaskStore, agents *AgentRegistry, opts ...ManagerOption) *TaskManager {
	m := &TaskManager{tasks: tasks, agents: agents, logger: nopLogger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask makes a SUBMITTED task for the agent and persists it. An unknown
// agent id fails with a NotFoundError before anything is written.
func (m *TaskManager) CreateTask(ctx context.Context, agentID string, req TaskRequest) (*Task, error) {
	if _, err := m.agents.Get(agentID); err != nil {
		return nil, err
	}
	t := NewTask(agentID, req)
	if err := m.tasks.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	m.logger.Info("task created", "task", t.ID, "agent", agentID, "tenant", t.TenantID)
	return t, nil
}

// GetTask loads a task by id.
func (m *TaskManager) GetTask(ctx context.Context, id string) (*Task, error) {
	return m.tasks.GetTask(ctx, id)
}

// UpdateState applies an explicit state change, checking transition legality.
func (m *TaskManager) UpdateState(ctx context.Context, id string, newState TaskState) (*Task, error) {
	t, err := m.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.State, newState) {
		return nil, &TransitionError{Entity: "task " + t.ID, From: string(t.State), To: string(newState)}
	}
	c := t.clone()
	c.State = newState
	c.UpdatedAt = time.Now().UTC()
	if err := m.tasks.UpdateTask(ctx, c); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	m.logger.Info("task state updated", "task", id, "from", t.State, "to", newState)
	return c, nil
}

// ProcessTask resolves the task's agent and pipes its event stream through
// apply-persist-forward. The returned channel closes when the agent's stream
// ends or ctx is cancelled.
func (m *TaskManager) ProcessTask(ctx context.Context, task *Task) (<-chan Event, error) {
	agent, err := m.agents.Get(task.AgentID)
	if err != nil {
		return nil, err
	}
	in, err := agent.ProcessTask(ctx, task)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go m.pipe(ctx, task, in, out)
	return out, nil
}

func (m *TaskManager) pipe(ctx context.Context, task *Task, in <-chan Event, out chan<- Event) {
	defer close(out)

	var span Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "manager.process_task",
			StringAttr("task.id", task.ID),
			StringAttr("agent.id", task.AgentID))
		defer span.End()
	}

	current := task
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			next, err := ApplyEvent(current, ev)
			if err != nil {
				m.logger.Error("event rejected", "task", current.ID, "error", err)
				m.failTask(ctx, current, "invalid_event", err.Error(), out)
				return
			}
			if next != current {
				if err := m.tasks.UpdateTask(ctx, next); err != nil {
					m.logger.Error("persist failed", "task", current.ID, "error", err)
					m.failTask(ctx, current, "persistence_error", err.Error(), out)
					return
				}
				current = next
			}
			emit(ctx, out, ev)
		}
	}
}

// failTask forces the task to FAILED, persists it best-effort, and terminates
// the stream.
func (m *TaskManager) failTask(ctx context.Context, t *Task, code, message string, out chan<- Event) {
	if !t.State.IsTerminal() {
		c := t.clone()
		c.State = TaskFailed
		c.Error = &TaskError{Code: code, Message: message}
		c.UpdatedAt = time.Now().UTC()
		if err := m.tasks.UpdateTask(ctx, c); err != nil {
			m.logger.Error("failed to persist task failure", "task", t.ID, "error", err)
		}
	}
	emit(ctx, out, ErrorEvent{Code: code, Message: message})
	emit(ctx, out, DoneEvent{FinalState: TaskFailed})
}
