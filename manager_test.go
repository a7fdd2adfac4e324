package omniforge

import (
	"context"
	"testing"
)

func managerFixture(agents ...Agent) (*TaskManager, *memTaskStore, *AgentRegistry) {
	store := newMemTaskStore()
	reg := NewAgentRegistry()
	for _, a := range agents {
		reg.Register(a)
	}
	return NewTaskManager(store, reg), store, reg
}

func TestCreateTaskUnknownAgent(t *testing.T) {
	m, store, _ := managerFixture()
	_, err := m.CreateTask(context.Background(), "ghost", TaskRequest{TenantID: "t"})
	if err == nil {
		t.Fatal("unknown agent should fail")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("error type = %T, want *NotFoundError", err)
	}
	if len(store.tasks) != 0 {
		t.Error("nothing should be persisted on failure")
	}
}

func TestCreateAndGetTask(t *testing.T) {
	m, _, _ := managerFixture(completingAgent("agent-1", "done"))
	task, err := m.CreateTask(context.Background(), "agent-1", TaskRequest{
		TenantID: "tenant-a",
		Parts:    []MessagePart{{Text: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != TaskSubmitted || got.TenantID != "tenant-a" {
		t.Errorf("loaded task = %+v", got)
	}
}

func TestUpdateStateLegality(t *testing.T) {
	m, _, _ := managerFixture(completingAgent("agent-1", "done"))
	task, _ := m.CreateTask(context.Background(), "agent-1", TaskRequest{})

	if _, err := m.UpdateState(context.Background(), task.ID, TaskCompleted); err == nil {
		t.Fatal("SUBMITTED -> COMPLETED should be illegal")
	}
	updated, err := m.UpdateState(context.Background(), task.ID, TaskWorking)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State != TaskWorking {
		t.Errorf("state = %s", updated.State)
	}
}

func TestProcessTaskPersistsEveryEvent(t *testing.T) {
	m, store, _ := managerFixture(completingAgent("agent-1", "the answer"))
	ctx := context.Background()
	task, _ := m.CreateTask(ctx, "agent-1", TaskRequest{TenantID: "tenant-a", Parts: []MessagePart{{Text: "q"}}})

	stream, err := m.ProcessTask(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(stream)
	if got := finalStateOf(events); got != TaskCompleted {
		t.Fatalf("final state = %s", got)
	}

	stored, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != TaskCompleted {
		t.Errorf("stored state = %s, want COMPLETED", stored.State)
	}
	// The agent's message was applied before forwarding.
	found := false
	for _, msg := range stored.Messages {
		if msg.Role == "agent" && JoinText(msg.Parts) == "the answer" {
			found = true
		}
	}
	if !found {
		t.Errorf("agent message not persisted: %+v", stored.Messages)
	}
}

func TestProcessTaskFailurePersisted(t *testing.T) {
	m, store, _ := managerFixture(failingAgent("agent-1", "llm_error"))
	ctx := context.Background()
	task, _ := m.CreateTask(ctx, "agent-1", TaskRequest{})

	stream, err := m.ProcessTask(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(stream)
	if got := finalStateOf(events); got != TaskFailed {
		t.Fatalf("final state = %s", got)
	}

	stored, _ := store.GetTask(ctx, task.ID)
	if stored.State != TaskFailed {
		t.Errorf("stored state = %s", stored.State)
	}
	if stored.Error == nil || stored.Error.Code != "llm_error" {
		t.Errorf("stored error = %+v", stored.Error)
	}
}

func TestProcessTaskIllegalEventFailsTask(t *testing.T) {
	// An agent that emits an illegal transition: SUBMITTED -> COMPLETED
	// without passing WORKING.
	bad := &scriptAgent{
		card: AgentCard{ID: "bad"},
		events: func(*Task) []Event {
			return []Event{StatusEvent{State: TaskCompleted}}
		},
	}
	m, store, _ := managerFixture(bad)
	ctx := context.Background()
	task, _ := m.CreateTask(ctx, "bad", TaskRequest{})

	stream, err := m.ProcessTask(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(stream)
	if got := finalStateOf(events); got != TaskFailed {
		t.Fatalf("final state = %s, want FAILED", got)
	}
	stored, _ := store.GetTask(ctx, task.ID)
	if stored.State != TaskFailed {
		t.Errorf("stored state = %s", stored.State)
	}
	if stored.Error == nil || stored.Error.Code != "invalid_event" {
		t.Errorf("stored error = %+v", stored.Error)
	}
}
