package observe

import (
	"context"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	KindRunStarted       Kind = "run_started"
	KindStateChanged     Kind = "state_changed"
	KindStrategySelected Kind = "strategy_selected"
	KindPhaseStarted     Kind = "phase_started"
	KindPhaseCompleted   Kind = "phase_completed"
	KindPhaseFailed      Kind = "phase_failed"
	KindArgsInferred     Kind = "args_inferred"
	KindBackendStderr    Kind = "backend_stderr"
	KindRunFinished      Kind = "run_finished"
)

// Event is one structured progress record emitted during a run. Only the
// fields relevant to Kind are set.
type Event struct {
	Time     time.Time
	RunID    string
	Trigger  string
	Kind     Kind
	State    string
	Phase    string
	Strategy string
	Server   string
	Tool     string
	Count    int

	// Advisory backend metadata; never used for control flow.
	TokensEstimate *float64
	ExecutionTime  *float64

	Duration time.Duration
	Message  string
	Err      string
}

// Sink receives events. Implementations must not block the caller for long
// and must swallow their own failures.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

// Nop discards every event.
var Nop Sink = nopSink{}

type multi []Sink

// Multi fans each event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 0 {
		return Nop
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
