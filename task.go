package omniforge

import "time"

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskSubmitted     TaskState = "SUBMITTED"
	TaskWorking       TaskState = "WORKING"
	TaskInputRequired TaskState = "INPUT_REQUIRED"
	TaskCompleted     TaskState = "COMPLETED"
	TaskFailed        TaskState = "FAILED"
	TaskCancelled     TaskState = "CANCELLED"
)

// IsTerminal reports whether the state is final. Terminal tasks are immutable.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// legalTransitions is the task state machine. Absent entries are illegal.
var legalTransitions = map[TaskState][]TaskState{
	TaskSubmitted:     {TaskWorking},
	TaskWorking:       {TaskCompleted, TaskFailed, TaskCancelled, TaskInputRequired},
	TaskInputRequired: {TaskWorking},
}

// CanTransition reports whether from -> to is a legal task transition.
// A self-transition is allowed (re-asserting the current state is a no-op).
func CanTransition(from, to TaskState) bool {
	if from == to {
		return true
	}
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MessagePart is one piece of a message: text today, structured content later.
type MessagePart struct {
	Text string `json:"text"`
}

// TaskMessage is one entry in a task's transcript.
type TaskMessage struct {
	Role      string        `json:"role"` // "user", "agent", "system"
	Parts     []MessagePart `json:"parts"`
	Timestamp time.Time     `json:"timestamp"`
}

// Artifact is a named output produced during task execution.
type Artifact struct {
	Name     string        `json:"name"`
	Parts    []MessagePart `json:"parts"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskError carries a machine code and a human-readable message for a failed
// task. No stack traces cross this boundary.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is the unit of work for one agent invocation.
type Task struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agent_id"`
	TenantID     string        `json:"tenant_id"`
	UserID       string        `json:"user_id"`
	ParentTaskID string        `json:"parent_task_id,omitempty"`
	SkillName    string        `json:"skill_name,omitempty"`
	State        TaskState     `json:"state"`
	Messages     []TaskMessage `json:"messages"`
	Artifacts    []Artifact    `json:"artifacts"`
	Error        *TaskError    `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TaskRequest carries everything needed to create a task.
type TaskRequest struct {
	TenantID     string
	UserID       string
	Parts        []MessagePart
	ParentTaskID string
	SkillName    string
}

// NewTask creates a task in SUBMITTED with the request's user message attached.
func NewTask(agentID string, req TaskRequest) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:           NewID(),
		AgentID:      agentID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		ParentTaskID: req.ParentTaskID,
		SkillName:    req.SkillName,
		State:        TaskSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(req.Parts) > 0 {
		t.Messages = append(t.Messages, TaskMessage{Role: "user", Parts: req.Parts, Timestamp: now})
	}
	return t
}

// clone returns a deep-enough copy for ApplyEvent's pure-update contract.
// Slices are copied so appends never alias the original task.
func (t *Task) clone() *Task {
	c := *t
	c.Messages = append([]TaskMessage(nil), t.Messages...)
	c.Artifacts = append([]Artifact(nil), t.Artifacts...)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return &c
}

// ApplyEvent returns a new task with the event folded in. The receiver is
// never mutated. Terminal tasks reject every event with a TransitionError.
// Unknown event kinds return the task unchanged.
func ApplyEvent(t *Task, ev Event) (*Task, error) {
	if t.State.IsTerminal() {
		// A DoneEvent restating the terminal state is a no-op: an ErrorEvent
		// already moved the task to FAILED before the stream's final
		// DoneEvent(FAILED) arrives.
		if d, ok := ev.(DoneEvent); ok && d.FinalState == t.State {
			return t, nil
		}
		return t, &TransitionError{Entity: "task " + t.ID, From: string(t.State), To: "any"}
	}
	now := time.Now().UTC()
	switch e := ev.(type) {
	case StatusEvent:
		if !CanTransition(t.State, e.State) {
			return t, &TransitionError{Entity: "task " + t.ID, From: string(t.State), To: string(e.State)}
		}
		c := t.clone()
		c.State = e.State
		c.UpdatedAt = now
		return c, nil
	case MessageEvent:
		c := t.clone()
		c.Messages = append(c.Messages, TaskMessage{Role: "agent", Parts: e.Parts, Timestamp: now})
		c.UpdatedAt = now
		return c, nil
	case ArtifactEvent:
		c := t.clone()
		c.Artifacts = append(c.Artifacts, e.Artifact)
		c.UpdatedAt = now
		return c, nil
	case ErrorEvent:
		c := t.clone()
		c.State = TaskFailed
		c.Error = &TaskError{Code: e.Code, Message: e.Message}
		c.UpdatedAt = now
		return c, nil
	case DoneEvent:
		if !CanTransition(t.State, e.FinalState) {
			return t, &TransitionError{Entity: "task " + t.ID, From: string(t.State), To: string(e.FinalState)}
		}
		c := t.clone()
		c.State = e.FinalState
		if e.FinalState == TaskFailed && c.Error == nil {
			c.Error = &TaskError{Code: "task_failed", Message: "task failed without a specific error"}
		}
		c.UpdatedAt = now
		return c, nil
	default:
		return t, nil
	}
}
