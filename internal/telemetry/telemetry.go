// Package telemetry emits one structured event per scoring and triage
// operation. Storage of events belongs to the sink.
package telemetry

import (
	"context"
	"time"
)

// Outcome values carried by events.
const (
	OutcomeOK       = "ok"
	OutcomePartial  = "partial"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Event describes a completed operation.
type Event struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Outcome   string        `json:"outcome"`
	IDs       []string      `json:"ids,omitempty"`
	Count     int           `json:"count,omitempty"`
}

// Sink receives events. Emit must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Timer measures one operation and emits it when done.
type Timer struct {
	sink  Sink
	op    string
	start time.Time
}

// Start begins timing op. A nil sink yields a timer that emits nothing.
func Start(sink Sink, op string) *Timer {
	return &Timer{sink: sink, op: op, start: time.Now()}
}

// Done emits the event with the elapsed latency.
func (t *Timer) Done(ctx context.Context, outcome string, ids ...string) {
	if t.sink == nil {
		return
	}
	t.sink.Emit(ctx, Event{
		Operation: t.op,
		Latency:   time.Since(t.start),
		Outcome:   outcome,
		IDs:       ids,
		Count:     len(ids),
	})
}
