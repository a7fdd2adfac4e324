package omniforge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// HandleState represents the execution state of a spawned task.
type HandleState int32

const (
	// HandlePending indicates the task has been spawned but not yet started.
	HandlePending HandleState = iota
	// HandleRunning indicates the event stream is being consumed.
	HandleRunning
	// HandleCompleted indicates the task reached COMPLETED.
	HandleCompleted
	// HandleFailed indicates the task reached FAILED or the stream errored.
	HandleFailed
	// HandleCancelled indicates Cancel() or the parent context ended the run.
	HandleCancelled
)

// String returns the state name.
func (s HandleState) String() string {
	switch s {
	case HandlePending:
		return "pending"
	case HandleRunning:
		return "running"
	case HandleCompleted:
		return "completed"
	case HandleFailed:
		return "failed"
	case HandleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s HandleState) IsTerminal() bool {
	return s == HandleCompleted || s == HandleFailed || s == HandleCancelled
}

// SpawnOption configures a Spawn call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for spawn lifecycle events.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) { c.logger = l }
}

// TaskHandle tracks one background task execution. All methods are safe for
// concurrent use.
type TaskHandle struct {
	id         string
	taskID     string
	state      atomic.Int32
	finalState TaskState
	output     string
	err        error
	done       chan struct{}
	cancel     context.CancelFunc
}

// Spawn drives manager.ProcessTask(task) in a background goroutine, draining
// the event stream and accumulating text output. Returns immediately with a
// handle for awaiting and cancelling. Cancelling the parent ctx cancels the
// task.
func Spawn(ctx context.Context, manager *TaskManager, task *Task, opts ...SpawnOption) *TaskHandle {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &TaskHandle{
		id:     NewID(),
		taskID: task.ID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(HandlePending))

	logger.Info("task spawned", "task", task.ID, "handle_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned task panic", "task", task.ID, "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.err = fmt.Errorf("task panic: %v", p)
				h.state.Store(int32(HandleFailed))
				close(h.done)
			}
		}()

		h.state.Store(int32(HandleRunning))
		start := time.Now()

		stream, err := manager.ProcessTask(ctx, task)
		if err != nil {
			h.err = err
			h.state.Store(int32(HandleFailed))
			logger.Error("spawned task failed to start", "task", task.ID, "error", err)
			close(h.done)
			return
		}

		var b strings.Builder
		final := TaskFailed
		for ev := range stream {
			switch e := ev.(type) {
			case MessageEvent:
				if !e.IsPartial {
					b.WriteString(JoinText(e.Parts))
					b.WriteString("\n")
				}
			case ErrorEvent:
				h.err = fmt.Errorf("%s: %s", e.Code, e.Message)
			case DoneEvent:
				final = e.FinalState
			}
		}

		// Writes precede close(done); the channel close is the happens-before
		// barrier for every reader.
		h.finalState = final
		h.output = strings.TrimSpace(b.String())
		switch {
		case ctx.Err() != nil:
			h.state.Store(int32(HandleCancelled))
			logger.Info("spawned task cancelled", "task", task.ID, "duration", time.Since(start))
		case final == TaskCompleted:
			h.state.Store(int32(HandleCompleted))
			logger.Info("spawned task completed", "task", task.ID, "duration", time.Since(start))
		default:
			h.state.Store(int32(HandleFailed))
			logger.Error("spawned task failed", "task", task.ID, "state", final, "error", h.err, "duration", time.Since(start))
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique handle identifier.
func (h *TaskHandle) ID() string { return h.id }

// TaskID returns the id of the task being driven.
func (h *TaskHandle) TaskID() string { return h.taskID }

// State returns the current execution state.
func (h *TaskHandle) State() HandleState {
	return HandleState(h.state.Load())
}

// Done returns a channel closed when execution finishes.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Cancel stops the execution. Safe to call multiple times.
func (h *TaskHandle) Cancel() { h.cancel() }

// Await blocks until the execution finishes or ctx is cancelled, then returns
// the task's final state, its accumulated text output, and any error.
func (h *TaskHandle) Await(ctx context.Context) (TaskState, string, error) {
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case <-h.done:
		return h.finalState, h.output, h.err
	}
}
