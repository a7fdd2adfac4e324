package omniforge

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskState
		want     bool
	}{
		{TaskSubmitted, TaskWorking, true},
		{TaskSubmitted, TaskCompleted, false},
		{TaskWorking, TaskCompleted, true},
		{TaskWorking, TaskFailed, true},
		{TaskWorking, TaskCancelled, true},
		{TaskWorking, TaskInputRequired, true},
		{TaskInputRequired, TaskWorking, true},
		{TaskInputRequired, TaskCompleted, false},
		{TaskCompleted, TaskWorking, false},
		{TaskFailed, TaskWorking, false},
		{TaskCancelled, TaskWorking, false},
		{TaskWorking, TaskWorking, true}, // self-transition is a no-op
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []TaskState{TaskCompleted, TaskFailed, TaskCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskState{TaskSubmitted, TaskWorking, TaskInputRequired} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("agent-1", TaskRequest{
		TenantID: "tenant-a",
		UserID:   "user-1",
		Parts:    []MessagePart{{Text: "hello"}},
	})
	if task.State != TaskSubmitted {
		t.Errorf("new task state = %s, want SUBMITTED", task.State)
	}
	if task.ID == "" {
		t.Error("new task has no id")
	}
	if len(task.Messages) != 1 || task.Messages[0].Role != "user" {
		t.Fatalf("new task messages = %+v, want one user message", task.Messages)
	}
}

func TestApplyEventStatus(t *testing.T) {
	task := NewTask("a", TaskRequest{TenantID: "t"})

	next, err := ApplyEvent(task, StatusEvent{State: TaskWorking})
	if err != nil {
		t.Fatal(err)
	}
	if next.State != TaskWorking {
		t.Errorf("state = %s, want WORKING", next.State)
	}
	if task.State != TaskSubmitted {
		t.Errorf("original task mutated to %s", task.State)
	}

	if _, err := ApplyEvent(task, StatusEvent{State: TaskCompleted}); err == nil {
		t.Fatal("SUBMITTED -> COMPLETED should be rejected")
	} else if _, ok := err.(*TransitionError); !ok {
		t.Errorf("error type = %T, want *TransitionError", err)
	}
}

func TestApplyEventMessageAndArtifact(t *testing.T) {
	task := NewTask("a", TaskRequest{Parts: []MessagePart{{Text: "hi"}}})

	next, err := ApplyEvent(task, TextMessage("working on it", VisibilityFull))
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(next.Messages))
	}
	if next.Messages[1].Role != "agent" {
		t.Errorf("appended role = %s, want agent", next.Messages[1].Role)
	}
	if len(task.Messages) != 1 {
		t.Error("original task messages mutated")
	}

	next, err = ApplyEvent(next, ArtifactEvent{Artifact: Artifact{Name: "report.md"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Artifacts) != 1 || next.Artifacts[0].Name != "report.md" {
		t.Errorf("artifacts = %+v", next.Artifacts)
	}
}

func TestApplyEventError(t *testing.T) {
	task := NewTask("a", TaskRequest{})
	task.State = TaskWorking

	next, err := ApplyEvent(task, ErrorEvent{Code: "llm_error", Message: "boom"})
	if err != nil {
		t.Fatal(err)
	}
	if next.State != TaskFailed {
		t.Errorf("state = %s, want FAILED", next.State)
	}
	if next.Error == nil || next.Error.Code != "llm_error" {
		t.Errorf("error = %+v, want code llm_error", next.Error)
	}
}

func TestApplyEventTerminalRejectsEverything(t *testing.T) {
	task := NewTask("a", TaskRequest{})
	task.State = TaskCompleted

	if _, err := ApplyEvent(task, TextMessage("late", VisibilityFull)); err == nil {
		t.Fatal("terminal task accepted a message event")
	}
	if _, err := ApplyEvent(task, StatusEvent{State: TaskWorking}); err == nil {
		t.Fatal("terminal task accepted a status event")
	}
}

func TestApplyEventDoneRestatementIsNoop(t *testing.T) {
	// An ErrorEvent moves the task to FAILED before the stream's final
	// DoneEvent(FAILED); restating the terminal state must not error.
	task := NewTask("a", TaskRequest{})
	task.State = TaskWorking

	failed, err := ApplyEvent(task, ErrorEvent{Code: "x", Message: "y"})
	if err != nil {
		t.Fatal(err)
	}
	same, err := ApplyEvent(failed, DoneEvent{FinalState: TaskFailed})
	if err != nil {
		t.Fatalf("DoneEvent restating FAILED: %v", err)
	}
	if same != failed {
		t.Error("no-op restatement should return the same task")
	}

	if _, err := ApplyEvent(failed, DoneEvent{FinalState: TaskCompleted}); err == nil {
		t.Fatal("terminal task accepted a conflicting DoneEvent")
	}
}

func TestApplyEventDoneFailedGetsDefaultError(t *testing.T) {
	task := NewTask("a", TaskRequest{})
	task.State = TaskWorking

	next, err := ApplyEvent(task, DoneEvent{FinalState: TaskFailed})
	if err != nil {
		t.Fatal(err)
	}
	if next.Error == nil {
		t.Fatal("failed task has no error record")
	}
	if !strings.Contains(next.Error.Message, "without a specific error") {
		t.Errorf("default error message = %q", next.Error.Message)
	}
}
