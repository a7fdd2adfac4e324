package observer

import (
	"context"
	"time"

	omniforge "github.com/omniforge/omniforge"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedAgent wraps any Agent to emit OTEL lifecycle spans, metrics, and
// logs. The wrapper opens a task.execute span when the stream starts and ends
// it when the stream closes, so inner operations (LLM calls, tool executions)
// become child spans via context propagation.
type ObservedAgent struct {
	inner omniforge.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented Agent that emits lifecycle telemetry.
func WrapAgent(inner omniforge.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Card() omniforge.AgentCard { return o.inner.Card() }

// ProcessTask wraps the inner agent's stream. The span stays open until the
// stream closes; the final state comes from the terminal DoneEvent.
func (o *ObservedAgent) ProcessTask(ctx context.Context, task *omniforge.Task) (<-chan omniforge.Event, error) {
	card := o.inner.Card()
	ctx, span := o.inst.Tracer.Start(ctx, "task.execute", trace.WithAttributes(
		AttrAgentID.String(card.ID),
		AttrTaskID.String(task.ID),
		AttrTenantID.String(task.TenantID),
	))
	start := time.Now()
	span.AddEvent("task.started")

	inner, err := o.inner.ProcessTask(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		o.recordTask(ctx, card.ID, "error", time.Since(start))
		return nil, err
	}

	out := make(chan omniforge.Event)
	go func() {
		defer close(out)
		defer span.End()

		finalState := omniforge.TaskFailed
		for ev := range inner {
			if done, ok := ev.(omniforge.DoneEvent); ok {
				finalState = done.FinalState
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				span.AddEvent("task.cancelled")
				span.SetStatus(codes.Error, "cancelled")
				o.recordTask(context.Background(), card.ID, "cancelled", time.Since(start))
				return
			}
		}

		status := "ok"
		if finalState == omniforge.TaskFailed {
			status = "error"
			span.SetStatus(codes.Error, "task failed")
		}
		span.SetAttributes(AttrTaskState.String(string(finalState)))
		span.AddEvent("task.finished", trace.WithAttributes(
			AttrTaskState.String(string(finalState)),
		))
		o.recordTask(context.Background(), card.ID, status, time.Since(start))

		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("task execution completed"))
		rec.AddAttributes(
			otellog.String("agent.id", card.ID),
			otellog.String("task.id", task.ID),
			otellog.String("task.state", string(finalState)),
			otellog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
		o.inst.Logger.Emit(context.Background(), rec)
	}()
	return out, nil
}

func (o *ObservedAgent) recordTask(ctx context.Context, agentID, status string, d time.Duration) {
	o.inst.TaskExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrAgentID.String(agentID),
		attribute.String("status", status),
	))
	o.inst.TaskDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		AttrAgentID.String(agentID),
	))
}

// compile-time check
var _ omniforge.Agent = (*ObservedAgent)(nil)
